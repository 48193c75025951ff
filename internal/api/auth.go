package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AaronLay10/RuleChain/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	// RoleAdmin may change the chain set.
	RoleAdmin Role = "admin"
	// RoleOperator may read state and trigger batches.
	RoleOperator Role = "operator"
)

// authConfig holds basic auth credentials.
type authConfig struct {
	adminUser    string
	adminPass    string
	operatorUser string
	operatorPass string
	enabled      bool
}

var auth *authConfig

// InitAuth loads credentials from RULECHAIN_ADMIN_USER, RULECHAIN_ADMIN_PASS,
// RULECHAIN_OPERATOR_USER and RULECHAIN_OPERATOR_PASS, each also readable
// through its *_FILE variant. Without admin credentials authentication is
// disabled.
func InitAuth() error {
	var creds [4]string
	for i, name := range []string{
		"RULECHAIN_ADMIN_USER",
		"RULECHAIN_ADMIN_PASS",
		"RULECHAIN_OPERATOR_USER",
		"RULECHAIN_OPERATOR_PASS",
	} {
		v, err := config.ResolveSecret(name)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		creds[i] = v
	}

	auth = &authConfig{
		adminUser:    creds[0],
		adminPass:    creds[1],
		operatorUser: creds[2],
		operatorPass: creds[3],
		enabled:      creds[0] != "" && creds[1] != "",
	}
	return nil
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate checks basic auth credentials and returns the role if valid.
// Returns empty string if credentials are invalid.
func authenticate(r *http.Request) Role {
	if auth == nil || !auth.enabled {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	if auth.adminUser != "" && auth.adminPass != "" {
		if secureCompare(user, auth.adminUser) && secureCompare(pass, auth.adminPass) {
			return RoleAdmin
		}
	}

	if auth.operatorUser != "" && auth.operatorPass != "" {
		if secureCompare(user, auth.operatorUser) && secureCompare(pass, auth.operatorPass) {
			return RoleOperator
		}
	}

	return ""
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireRole is middleware that admits requests authenticated with one of
// the given roles.
func RequireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := authenticate(r)
			if role == "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="Rule Chain Engine"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			for _, a := range allowed {
				if role == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

// RequireAnyRole admits admins and operators.
func RequireAnyRole(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin, RoleOperator)(next)
}

// RequireAdmin admits admins only.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}
