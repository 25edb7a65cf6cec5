// Package auth authenticates requests and checks role requirements.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"tablegate/internal/apperr"
)

// ErrNoCredentials means the request carried no usable credential.
var ErrNoCredentials = errors.New("no credentials")

type User struct {
	Subject  string         `json:"sub,omitempty"`
	Username string         `json:"username,omitempty"`
	Role     string         `json:"role,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Claims   map[string]any `json:"-"`
}

func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	if u.Role == role {
		return true
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Provider resolves the caller of a request. It returns ErrNoCredentials when
// nothing was presented and another error when a credential was rejected.
type Provider interface {
	Authenticate(ctx context.Context, r *http.Request) (*User, error)
}

type Outcome int

const (
	Authorized Outcome = iota
	Unauthenticated
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "forbidden"
	}
}

// Result is the outcome of the authentication step. User is nil for open
// endpoints and for failures.
type Result struct {
	Outcome Outcome
	User    *User
	Reason  string
}

func (r Result) OK() bool { return r.Outcome == Authorized }

// Err renders a failed result as a classified error.
func (r Result) Err() error {
	switch r.Outcome {
	case Unauthenticated:
		e := apperr.Authentication("Authentication required")
		if r.Reason != "" && r.Reason != ErrNoCredentials.Error() {
			e.Detail = r.Reason
		}
		return e
	case Forbidden:
		e := apperr.Authorization("Insufficient permissions")
		e.Detail = r.Reason
		return e
	}
	return nil
}

// Check authenticates r with p and requires one of roles. A nil provider
// makes the endpoint open; empty roles admit any authenticated user.
func Check(ctx context.Context, p Provider, r *http.Request, roles []string) Result {
	if p == nil {
		return Result{Outcome: Authorized}
	}
	user, err := p.Authenticate(ctx, r)
	if err != nil {
		return Result{Outcome: Unauthenticated, Reason: err.Error()}
	}
	if user == nil {
		return Result{Outcome: Unauthenticated, Reason: ErrNoCredentials.Error()}
	}
	if len(roles) == 0 {
		return Result{Outcome: Authorized, User: user}
	}
	for _, role := range roles {
		if user.HasRole(role) {
			return Result{Outcome: Authorized, User: user}
		}
	}
	return Result{
		Outcome: Forbidden,
		User:    user,
		Reason:  "requires one of: " + strings.Join(roles, ", "),
	}
}

// bearer extracts the token of an "Authorization: Bearer <token>" header.
func bearer(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

func userFromClaims(claims map[string]any) *User {
	u := &User{Claims: claims}
	u.Subject, _ = claims["sub"].(string)
	u.Username, _ = claims["username"].(string)
	if u.Username == "" {
		u.Username, _ = claims["preferred_username"].(string)
	}
	if u.Username == "" {
		u.Username = u.Subject
	}
	u.Role, _ = claims["role"].(string)
	switch rs := claims["roles"].(type) {
	case []any:
		for _, r := range rs {
			if s, ok := r.(string); ok {
				u.Roles = append(u.Roles, s)
			}
		}
	case []string:
		u.Roles = append(u.Roles, rs...)
	}
	return u
}
