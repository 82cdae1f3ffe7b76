package jwt

import (
	"context"
	"net/http"
	"strings"

	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/logx"
)

// contextKey is a private key type preventing collisions with other packages.
type contextKey string

// ContextAuthPayloadKey is the key used to store the parsed jwt.Payload (user identity) in the request Context.
const ContextAuthPayloadKey contextKey = "auth_payload"

// IdentityExtractorMiddleware attempts to extract and validate a JWT from the request.
// The token is read from the Authorization header ("Bearer <token>") or, for WebSocket
// handshakes where browsers cannot set headers, from the "token" query parameter.
// It injects the Payload into the Context upon success. It does NOT interrupt the
// request (no 401 response) on failure or missing token, treating the user as anonymous.
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Invalid or expired JWT provided, treating as anonymous", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest pulls the raw token string from the Authorization header or query string.
func tokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get("token")
}

// GetPayloadFromContext safely extracts the authenticated Payload from the request Context.
// In contexts where IdentityExtractorMiddleware is used, a nil return means the user is anonymous.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)

	if !ok {
		return nil
	}

	return payload
}
