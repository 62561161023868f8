package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/bpmgate/pkg/idx"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTokenValidity = 60 * time.Minute
	DefaultProlongWindow = 24 * time.Hour

	// MinSecretLength is the shortest HS256 secret the codec accepts.
	MinSecretLength = 32
)

// CodecConfig holds the token settings.
type CodecConfig struct {
	Secret        []byte
	Issuer        string        // optional, checked on parse when set
	Validity      time.Duration // lifetime of a freshly issued bearer
	ProlongWindow time.Duration // how long after exp a bearer may still be prolonged
}

// Reverifier confirms an identity embedded in a bearer with its backend and
// returns the possibly refreshed identity.
type Reverifier interface {
	Verify(ctx context.Context, id Identity) (Identity, error)
}

// Codec creates and parses the gateway's own HS256 bearers.
//
// A bearer carries the serialized identity in the "user" claim and three
// control claims: "verify" (re-check the identity with the backend on every
// parse), "prolongable" (an expired bearer may be renewed) and "engine"
// (the engine the identity is bound to).
type Codec struct {
	cfg CodecConfig
	now func() time.Time
}

// CodecOption customises a Codec.
type CodecOption func(*Codec)

// WithClock replaces the wall clock. Tests use it to move time.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec validates the configuration and returns a Codec.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("identity: token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultTokenValidity
	}
	if cfg.ProlongWindow < 0 {
		return nil, errors.New("identity: prolongation window must not be negative")
	}
	if cfg.ProlongWindow == 0 {
		cfg.ProlongWindow = DefaultProlongWindow
	}

	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Validity returns the lifetime of issued bearers.
func (c *Codec) Validity() time.Duration { return c.cfg.Validity }

type tokenClaims struct {
	User        string `json:"user"`
	Verify      bool   `json:"verify"`
	Prolongable bool   `json:"prolongable"`
	Engine      string `json:"engine,omitempty"`
	jwt.RegisteredClaims
}

// Token is a decoded bearer whose signature has been checked.
type Token struct {
	Identity    Identity
	Verify      bool
	Prolongable bool
	Engine      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Create signs a new bearer for id.
func (c *Codec) Create(verify, prolongable bool, id Identity) (string, error) {
	user, err := json.Marshal(id)
	if err != nil {
		return "", SystemErr("token.create", "failed to serialize identity", err)
	}

	now := c.now()
	claims := tokenClaims{
		User:        string(user),
		Verify:      verify,
		Prolongable: prolongable,
		Engine:      id.Engine,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.Validity)),
			ID:        idx.NewAt(now).String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.Secret)
	if err != nil {
		return "", SystemErr("token.create", "failed to sign token", err)
	}
	return signed, nil
}

// Decode checks the signature and structure of a bearer without judging
// its expiry.
func (c *Codec) Decode(bearer string) (*Token, error) {
	const op = "token.decode"

	var claims tokenClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(bearer, &claims, func(*jwt.Token) (any, error) {
		return c.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, AuthenticationErr(op, "invalid token signature", err)
		}
		return nil, AuthenticationErr(op, "malformed token", err)
	}

	if claims.ExpiresAt == nil {
		return nil, AuthenticationErr(op, "token has no expiry", nil)
	}
	if c.cfg.Issuer != "" && claims.Issuer != c.cfg.Issuer {
		return nil, AuthenticationErr(op, "token issuer mismatch", nil)
	}

	var id Identity
	if err := json.Unmarshal([]byte(claims.User), &id); err != nil {
		return nil, AuthenticationErr(op, "malformed identity claim", err)
	}
	// The engine claim is authoritative.
	id.Engine = claims.Engine

	tok := &Token{
		Identity:    id,
		Verify:      claims.Verify,
		Prolongable: claims.Prolongable,
		Engine:      claims.Engine,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	return tok, nil
}

// Parse decodes a bearer and runs it through the token lifecycle:
//
//   - unexpired bearers are Valid; when the verify claim is set the
//     identity is confirmed with the backend first
//   - bearers expired for longer than the prolongation window are Rejected
//   - expired bearers that are not prolongable are Rejected
//   - otherwise the backend re-verifies the identity and a fresh bearer
//     with the same control claims is returned as ExpiredAndReissued
func (c *Codec) Parse(ctx context.Context, bearer string, backend Reverifier) Result {
	const op = "token.parse"

	tok, err := c.Decode(bearer)
	if err != nil {
		return rejected(err)
	}

	now := c.now()
	if now.Before(tok.ExpiresAt) {
		if !tok.Verify {
			return validResult(tok.Identity)
		}
		id, err := c.reverify(ctx, op, tok, backend)
		if err != nil {
			return rejected(err)
		}
		return validResult(id)
	}

	expired := &Error{Kind: KindTokenExpired, Op: op, Message: "token expired"}
	if now.Sub(tok.ExpiresAt) > c.cfg.ProlongWindow || !tok.Prolongable {
		return rejected(expired)
	}

	id, err := c.reverify(ctx, op, tok, backend)
	if err != nil {
		if KindOf(err) == KindSystem {
			return rejected(err)
		}
		expired.Cause = err
		return rejected(expired)
	}

	renewed, err := c.Create(tok.Verify, tok.Prolongable, id)
	if err != nil {
		return rejected(err)
	}
	return Result{Outcome: ExpiredAndReissued, Identity: id, Token: renewed}
}

func (c *Codec) reverify(ctx context.Context, op string, tok *Token, backend Reverifier) (Identity, error) {
	if backend == nil {
		return Identity{}, SystemErr(op, "no backend to verify identity", nil)
	}
	id, err := backend.Verify(ctx, tok.Identity)
	if err != nil {
		return Identity{}, Wrap(err, op, "identity verification failed")
	}
	// A backend must not move an identity to another engine.
	id.Engine = tok.Engine
	return id, nil
}
