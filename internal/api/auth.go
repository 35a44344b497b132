package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const RoleAdmin = "admin"

const identityKey = "identity"

var (
	ErrMissingCredential = errors.New("missing bearer credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Identity is the caller an Authenticator resolved a credential to.
type Identity struct {
	Subject string
	Role    string
}

// Authenticator validates a bearer credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// StaticTokenAuth accepts exactly one token and maps it to the admin role.
// With no token configured every credential is rejected.
type StaticTokenAuth struct {
	token string
}

func NewStaticTokenAuth(token string) *StaticTokenAuth {
	return &StaticTokenAuth{token: token}
}

func (s *StaticTokenAuth) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if s.token == "" || subtle.ConstantTimeCompare([]byte(credential), []byte(s.token)) != 1 {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{Subject: "static-token", Role: RoleAdmin}, nil
}

// RequireRole rejects requests without a valid bearer credential (401) or
// whose identity lacks role (403).
func RequireRole(auth Authenticator, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(credential) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingCredential.Error()})
			return
		}

		id, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(credential))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}
		if id.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not authorized as " + role})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}
