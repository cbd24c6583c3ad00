/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CallerContextKey is a custom type for the context key to avoid collisions.
type CallerContextKey string

const authenticatedCallerKey CallerContextKey = "authenticatedCaller"

// AuthenticatedCaller carries the identity claims extracted from a verified
// bearer token.
type AuthenticatedCaller struct {
	UserID    string
	BsimID    string
	AccountID string
}

// BearerAuthMiddleware creates a middleware that validates HS256 bearer tokens
// issued by the identity layer. The token subject is the caller's user id; the
// bsim_id and account_id claims identify the caller's home bank and account.
func BearerAuthMiddleware(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(signingSecret), nil
			})
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				http.Error(w, "Token missing subject claim", http.StatusUnauthorized)
				return
			}

			caller := AuthenticatedCaller{
				UserID:    sub,
				BsimID:    stringClaim(claims, "bsim_id"),
				AccountID: stringClaim(claims, "account_id"),
			}
			if caller.BsimID == "" {
				http.Error(w, "Token missing bsim_id claim", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authenticatedCallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthenticatedCaller retrieves the verified caller identity from the
// request context.
func GetAuthenticatedCaller(ctx context.Context) (AuthenticatedCaller, bool) {
	caller, ok := ctx.Value(authenticatedCallerKey).(AuthenticatedCaller)
	return caller, ok
}

// InternalAPIKeyMiddleware guards service-to-service endpoints. Callers must
// present the shared key in the X-Internal-API-Key header.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				http.Error(w, "Internal API not configured", http.StatusServiceUnavailable)
				return
			}
			presented := r.Header.Get("X-Internal-API-Key")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}
