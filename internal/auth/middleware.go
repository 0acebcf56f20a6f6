package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	headerAPIKey  = "X-API-Key"
	headerOwnerID = "X-Owner-ID"
	roleDevice    = "device"
)

// JWTMiddleware requires a bearer token and stores its identity in the
// request context.
func (g *Gateway) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			unauthorized(w, "authorization header required")
			return
		}
		claims, err := g.ValidateJWT(token)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}
		ctx := WithIdentity(r.Context(), claims.Username, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyMiddleware authenticates devices by API key. The key proves the
// device is trusted; X-Owner-ID names the owner it reports for.
func (g *Gateway) APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(headerAPIKey)
		if apiKey == "" {
			unauthorized(w, "API key required")
			return
		}
		if !g.ValidateAPIKey(apiKey) {
			unauthorized(w, "invalid API key")
			return
		}
		owner := strings.TrimSpace(r.Header.Get(headerOwnerID))
		if owner == "" {
			unauthorized(w, headerOwnerID+" header required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), owner, roleDevice)))
	})
}

// IngestMiddleware accepts either a bearer token or a device API key.
func (g *Gateway) IngestMiddleware(next http.Handler) http.Handler {
	jwtNext := g.JWTMiddleware(next)
	keyNext := g.APIKeyMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerAPIKey) != "" && r.Header.Get("Authorization") == "" {
			keyNext.ServeHTTP(w, r)
			return
		}
		jwtNext.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
