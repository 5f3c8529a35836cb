// JWT middleware for net/http. Depends on context.go in the same package.
package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts the token from the Authorization header.
func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// JWTMiddleware is a minimal HTTP middleware for JWT auth. Missing or invalid
// tokens yield a guest; handlers decide whether a login is required.
func JWTMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r.Header.Get("Authorization"))
		if tokenStr == "" {
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), Guest())))
			return
		}

		authCtx, err := ParseAndExtractAuthContext(tokenStr, secret)
		if err != nil {
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), Guest())))
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), authCtx)))
	})
}
