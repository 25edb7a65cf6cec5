package auth

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const DefaultAlgorithm = "HS256"

// JWT verifies HMAC-signed bearer tokens. The user is read from the sub,
// username, role and roles claims.
type JWT struct {
	secret    []byte
	algorithm string
}

func NewJWT(secret, algorithm string) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt: secret_key is empty")
	}
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	switch algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, errors.Errorf("jwt: unsupported algorithm %q (allowed: HS256, HS384, HS512)", algorithm)
	}
	return &JWT{secret: []byte(secret), algorithm: algorithm}, nil
}

func (j *JWT) Authenticate(_ context.Context, r *http.Request) (*User, error) {
	raw, ok := bearer(r)
	if !ok {
		return nil, ErrNoCredentials
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{j.algorithm}))
	if err != nil {
		return nil, errors.Wrap(err, "invalid token")
	}
	return userFromClaims(claims), nil
}

// Sign issues a token for claims. Used by tooling and tests.
func (j *JWT) Sign(claims map[string]any) (string, error) {
	method := jwt.GetSigningMethod(j.algorithm)
	return jwt.NewWithClaims(method, jwt.MapClaims(claims)).SignedString(j.secret)
}
