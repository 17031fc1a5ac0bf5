// Package middleware contains HTTP middleware for the scheduler API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Azure/sap-automation-qa/internal/auth"
	"github.com/Azure/sap-automation-qa/pkg/api"
)

func writeError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Detail: detail,
		Error:  http.StatusText(code),
		Code:   strconv.Itoa(code),
	})
}

// RequireToken ensures the request carries the configured bearer token.
// An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	wantHash := auth.HashKey(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}

			if !auth.Verify(parts[1], wantHash) {
				writeError(w, http.StatusUnauthorized, "Invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
