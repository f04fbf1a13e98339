package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type AuthMiddleware struct {
	secretKey string
	ttl       time.Duration
	now       func() time.Time
}

type Claims struct {
	jwt.RegisteredClaims
}

// publicPaths skip token checks.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

func NewAuthMiddleware(secretKey string) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: secretKey,
		ttl:       StreamTokenTTL,
		now:       time.Now,
	}
}

// bearerToken reads the token from the Authorization header or the
// token query parameter.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// streamPath reports whether path accepts a stream token.
func streamPath(path string) bool {
	if strings.HasPrefix(path, "/api/stream/") || path == "/api/ws/status" {
		return path != "/api/stream/token"
	}
	return strings.HasPrefix(path, "/api/events/") && strings.HasSuffix(path, "/clip")
}

func (am *AuthMiddleware) validToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(am.secretKey)) == 1
}

// Middleware to check auth token
func (am *AuthMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			// Clip downloads and streams may carry a short-lived token instead
			if st := r.URL.Query().Get("st"); st != "" && streamPath(r.URL.Path) && am.VerifyStreamToken(st) == nil {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !am.validToken(token) {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Generate a JWT for WebSocket/streaming connections
func (am *AuthMiddleware) GenerateStreamToken() (string, time.Time, error) {
	now := am.now()
	expires := now.Add(am.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "stream",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(am.secretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return ss, expires, nil
}

// Verify JWT for streaming
func (am *AuthMiddleware) VerifyStreamToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(am.secretKey), nil
	}, jwt.WithTimeFunc(am.now), jwt.WithExpirationRequired())

	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return errors.New("invalid token")
	}

	return nil
}
