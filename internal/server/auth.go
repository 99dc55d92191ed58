package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Authenticator guards the cache invalidation route with a static bearer token. Only
// the token's digest is kept, so comparisons take the same time for any input length.
type Authenticator struct {
	digest [sha256.Size]byte
}

// AuthError carries the status the admin middleware should answer with.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	return e.Message
}

var (
	errAuthDisabled = &AuthError{Status: http.StatusForbidden, Message: "admin token not configured"}
	errTokenMissing = &AuthError{Status: http.StatusUnauthorized, Message: "token required"}
	errTokenInvalid = &AuthError{Status: http.StatusUnauthorized, Message: "token invalid"}
)

func NewAuthenticator(token string) (*Authenticator, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("admin token is required")
	}
	return &Authenticator{digest: sha256.Sum256([]byte(token))}, nil
}

// Authenticate accepts "Authorization: Bearer <token>" with a case-insensitive scheme.
// A nil Authenticator rejects everything with 403.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if a == nil {
		return errAuthDisabled
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return errTokenMissing
	}
	presented := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(presented[:], a.digest[:]) != 1 {
		return errTokenInvalid
	}
	return nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
