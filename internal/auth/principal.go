package auth

import (
	"errors"
)

var (
	// ErrAuthenticationFailed covers unknown, malformed, and revoked
	// credentials alike; callers cannot tell which, which is intentional.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRateLimited means the key exceeded its sliding-window budget.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Scopes an API key may carry. Admin subsumes read and write.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

func ValidScope(s string) bool {
	return s == ScopeRead || s == ScopeWrite || s == ScopeAdmin
}

type Kind string

const (
	KindSession Kind = "session"
	KindAPIKey  Kind = "api_key"
	KindKiosk   Kind = "kiosk"
)

// Principal is any authenticated actor: a session user from the external
// auth layer, an API key, or a kiosk device. The zero Account means the
// principal is not tied to a user account (an ownerless key, or a kiosk).
type Principal struct {
	Kind          Kind
	Account       string
	Groups        []string
	Scopes        []string
	KioskID       int64
	RateRemaining int
}

// SessionPrincipal wraps an account the session layer already verified.
func SessionPrincipal(account string, groups []string) *Principal {
	return &Principal{
		Kind:    KindSession,
		Account: account,
		Groups:  groups,
		Scopes:  []string{ScopeRead, ScopeWrite},
	}
}

// HasScope reports whether the principal may perform operations requiring
// the given scope. Session users carry read/write implicitly; kiosks have
// no scopes at all and are authorized per-operation by the gate.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}
