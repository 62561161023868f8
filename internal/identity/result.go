package identity

// Outcome is the tagged state of a parsed bearer.
type Outcome int

const (
	// Rejected means the caller must authenticate again.
	Rejected Outcome = iota
	// Valid means the bearer is unexpired and trusted.
	Valid
	// ExpiredAndReissued means the bearer expired inside the prolongation
	// window, the backend confirmed the identity again, and Token holds the
	// replacement bearer.
	ExpiredAndReissued
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case ExpiredAndReissued:
		return "reissued"
	default:
		return "rejected"
	}
}

// Result is what parsing a bearer produces.
type Result struct {
	Outcome  Outcome
	Identity Identity // set for Valid and ExpiredAndReissued
	Token    string   // set for ExpiredAndReissued
	Reason   error    // set for Rejected
}

// Err returns the error form of the result: nil for Valid, a
// KindTokenExpired error carrying the new bearer for ExpiredAndReissued and
// the rejection reason otherwise.
func (r Result) Err() error {
	switch r.Outcome {
	case Valid:
		return nil
	case ExpiredAndReissued:
		return &Error{
			Kind:          KindTokenExpired,
			Op:            "token.parse",
			Message:       "token expired, a renewed token was issued",
			ReissuedToken: r.Token,
		}
	default:
		if r.Reason == nil {
			return AuthenticationErr("token.parse", "token rejected", nil)
		}
		return r.Reason
	}
}

func validResult(id Identity) Result { return Result{Outcome: Valid, Identity: id} }

func rejected(err error) Result { return Result{Outcome: Rejected, Reason: err} }
