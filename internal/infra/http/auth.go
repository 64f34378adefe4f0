package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"attestd/internal/domain"

	"github.com/gin-gonic/gin"
)

const principalContextKey = "principal"

// requireAuth establishes the acting principal. In "header" mode the
// service trusts identity headers set by an upstream gateway; "bearer" mode
// delegates to the pluggable authenticator. The admin key is accepted in
// every mode for operational endpoints.
func (s *Server) requireAuth(c *gin.Context) (domain.Principal, bool) {
	if s.authInitErr != nil {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Principal{}, false
	}

	if s.adminAPIKey != "" {
		if key := strings.TrimSpace(c.GetHeader("X-Admin-Key")); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) == 1 {
				principal := domain.Principal{Subject: "admin-key", Roles: []string{"admin"}}
				c.Set(principalContextKey, principal)
				return principal, true
			}
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
			return domain.Principal{}, false
		}
	}

	switch s.cfg.AuthMode {
	case "none":
		return domain.Principal{}, true
	case "bearer":
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return domain.Principal{}, false
		}
		principal, err := s.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			return domain.Principal{}, false
		}
		c.Set(principalContextKey, principal)
		return principal, true
	default: // header
		subject := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if subject == "" {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing X-User-ID header")
			return domain.Principal{}, false
		}
		principal := domain.Principal{
			Subject:  subject,
			TenantID: strings.TrimSpace(c.GetHeader("X-Tenant-ID")),
			Roles:    splitRoles(c.GetHeader("X-User-Roles")),
		}
		c.Set(principalContextKey, principal)
		return principal, true
	}
}

// requireAdmin authenticates and then demands the admin role. Exports carry
// actor emails in the clear, so they are not open to every authenticated
// caller.
func (s *Server) requireAdmin(c *gin.Context) (domain.Principal, bool) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return domain.Principal{}, false
	}
	for _, role := range principal.Roles {
		if role == "admin" {
			return principal, true
		}
	}
	writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "admin role required")
	return domain.Principal{}, false
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

func splitRoles(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

func getPrincipal(c *gin.Context) (domain.Principal, bool) {
	raw, ok := c.Get(principalContextKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := raw.(domain.Principal)
	return principal, ok
}
