package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "ssblic/internal/errors"
)

const adminRole = "admin"

// AdminClaims are the JWT claims required on admin tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth guards the issuance and register endpoints. Tokens are HS256,
// carry role=admin, and arrive as a bearer Authorization header.
func AdminAuth(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				apierrors.WriteError(w, apierrors.ErrUnauthorized)
				return
			}

			claims := &AdminClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				logger.WarnContext(r.Context(), "admin token rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.WriteError(w, apierrors.ErrUnauthorized)
				return
			}
			if claims.Role != adminRole {
				apierrors.WriteError(w, apierrors.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewAdminToken mints an HS256 admin token. Used by tests and the keygen
// tooling; production tokens come from the operator's own issuer.
func NewAdminToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
