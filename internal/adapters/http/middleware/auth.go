package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/evermind-ai/evermind/internal/ports"
)

type contextKey string

const (
	UserIDContextKey contextKey = "user_id"
)

// Auth resolves the caller identity for API routes. Deployments behind a
// VPN send X-User-ID directly; gateway deployments send a bearer token of
// the form "<user_id>.<token_id>" whose token id can be revoked.
func Auth(revocations ports.RevocationSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, tokenID := credentialsFrom(r)

			if tokenID != "" && revocations != nil {
				revoked, err := revocations.IsRevoked(r.Context(), tokenID)
				if err != nil {
					log.Printf("warning: auth: revocation lookup failed: %v", err)
				}
				if revoked {
					log.Printf("HTTP 401: revoked token (path=%s)", r.URL.Path)
					http.Error(w, "Token has been revoked", http.StatusUnauthorized)
					return
				}
			}

			// Default for backward compatibility; production should reject instead
			if userID == "" {
				userID = "default_user"
			}

			// Prevent injection attacks
			if !isValidUserID(userID) {
				log.Printf("HTTP 400: Invalid user ID format: %q (path=%s)", userID, r.URL.Path)
				http.Error(w, "Invalid user ID format", http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentialsFrom extracts identity from the Authorization header when
// present, falling back to X-User-ID. A bearer token without the expected
// two-segment shape is treated as a bare token id with no identity claim.
func credentialsFrom(r *http.Request) (userID, tokenID string) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if user, id, ok := strings.Cut(token, "."); ok && user != "" && id != "" {
			return user, id
		}
		return "", token
	}
	return strings.TrimSpace(r.Header.Get("X-User-ID")), ""
}

func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > 255 {
		return false
	}

	for _, ch := range userID {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == '.' || ch == '@') {
			return false
		}
	}

	return true
}
