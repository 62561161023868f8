package identity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Backend type tags. They are the discriminator of the serialized identity.
const (
	TypeLDAP    = "ldap"
	TypeSSO     = "sso"
	TypeADFS    = "adfs"
	TypeEngine  = "engine"
	TypeGeneric = "generic"
)

// Identity is an authenticated principal. There is no server side session;
// the signed token carrying an Identity is the session.
type Identity struct {
	Type        string
	UserID      string
	DisplayName string
	Anonymous   bool

	// RefreshToken is the credential the backend re-verifies with: the
	// provider refresh token of SSO identities, the upstream bearer of
	// generic ones. It is kept inside the signed bearer for prolongation and
	// stripped from every response body (see Public).
	RefreshToken string

	// Engine is the engine identifier this identity is scoped to, if any.
	Engine string

	// AuthTime is when the user last proved their credentials. Prolongation
	// carries it forward unchanged.
	AuthTime time.Time

	// Profile holds the backend specific part. It may be nil.
	Profile Profile
}

// Name returns the display name, falling back to the user id.
func (id Identity) Name() string {
	if strings.TrimSpace(id.DisplayName) == "" {
		return id.UserID
	}
	return id.DisplayName
}

// Public returns a copy that is safe to hand to clients.
func (id Identity) Public() Identity {
	id.RefreshToken = ""
	id.DisplayName = id.Name()
	return id
}

// Validate checks the invariants every serialized identity must satisfy.
func (id Identity) Validate() error {
	if id.UserID == "" {
		return fmt.Errorf("identity: user id is required")
	}
	if _, ok := profileTypes[id.Type]; !ok {
		return fmt.Errorf("identity: unknown identity type %q", id.Type)
	}
	if id.Profile != nil && id.Profile.profileType() != id.Type && !sharedProfile(id.Type, id.Profile.profileType()) {
		return fmt.Errorf("identity: %s profile on %s identity", id.Profile.profileType(), id.Type)
	}
	return nil
}

// Profile is the backend specific part of an Identity.
type Profile interface {
	profileType() string
}

// LDAPProfile is what the directory backend knows about a user.
type LDAPProfile struct {
	DN     string   `json:"dn"`
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

func (LDAPProfile) profileType() string { return TypeLDAP }

// OIDCProfile is shared by the SSO and ADFS backends.
type OIDCProfile struct {
	Subject string   `json:"sub"`
	Issuer  string   `json:"iss,omitempty"`
	Email   string   `json:"email,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

func (OIDCProfile) profileType() string { return TypeSSO }

// EngineProfile is the user record returned by the BPM engine.
type EngineProfile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

func (EngineProfile) profileType() string { return TypeEngine }

// GenericProfile keeps the identity document of the upstream gateway
// verbatim. The upstream owns its format.
type GenericProfile struct {
	Upstream json.RawMessage `json:"upstream,omitempty"`
}

func (GenericProfile) profileType() string { return TypeGeneric }

// profileTypes is the closed set of identity variants.
var profileTypes = map[string]func() Profile{
	TypeLDAP:    func() Profile { return &LDAPProfile{} },
	TypeSSO:     func() Profile { return &OIDCProfile{} },
	TypeADFS:    func() Profile { return &OIDCProfile{} },
	TypeEngine:  func() Profile { return &EngineProfile{} },
	TypeGeneric: func() Profile { return &GenericProfile{} },
}

func sharedProfile(idType, profType string) bool {
	return idType == TypeADFS && profType == TypeSSO
}

// wireIdentity is the JSON form of an Identity.
type wireIdentity struct {
	Type         string          `json:"type"`
	UserID       string          `json:"user_id"`
	DisplayName  string          `json:"display_name,omitempty"`
	Anonymous    bool            `json:"anonymous,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	Engine       string          `json:"engine,omitempty"`
	AuthTime     int64           `json:"auth_time,omitempty"`
	Profile      json.RawMessage `json:"profile,omitempty"`
}

// MarshalJSON encodes the identity as a type tagged document.
func (id Identity) MarshalJSON() ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	w := wireIdentity{
		Type:         id.Type,
		UserID:       id.UserID,
		DisplayName:  id.DisplayName,
		Anonymous:    id.Anonymous,
		RefreshToken: id.RefreshToken,
		Engine:       id.Engine,
	}
	if !id.AuthTime.IsZero() {
		w.AuthTime = id.AuthTime.Unix()
	}
	if id.Profile != nil {
		raw, err := json.Marshal(id.Profile)
		if err != nil {
			return nil, fmt.Errorf("identity: encode profile: %w", err)
		}
		w.Profile = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a type tagged document. Unknown types are rejected.
func (id *Identity) UnmarshalJSON(data []byte) error {
	var w wireIdentity
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("identity: decode: %w", err)
	}
	newProfile, ok := profileTypes[w.Type]
	if !ok {
		return fmt.Errorf("identity: unknown identity type %q", w.Type)
	}

	out := Identity{
		Type:         w.Type,
		UserID:       w.UserID,
		DisplayName:  w.DisplayName,
		Anonymous:    w.Anonymous,
		RefreshToken: w.RefreshToken,
		Engine:       w.Engine,
	}
	if w.AuthTime > 0 {
		out.AuthTime = time.Unix(w.AuthTime, 0).UTC()
	}
	if len(w.Profile) > 0 && string(w.Profile) != "null" {
		p := newProfile()
		if err := json.Unmarshal(w.Profile, p); err != nil {
			return fmt.Errorf("identity: decode %s profile: %w", w.Type, err)
		}
		out.Profile = deref(p)
	}
	if out.UserID == "" {
		return fmt.Errorf("identity: user id is required")
	}
	*id = out
	return nil
}

// deref stores profiles by value so type switches in backends stay simple.
func deref(p Profile) Profile {
	switch v := p.(type) {
	case *LDAPProfile:
		return *v
	case *OIDCProfile:
		return *v
	case *EngineProfile:
		return *v
	case *GenericProfile:
		return *v
	default:
		return p
	}
}
