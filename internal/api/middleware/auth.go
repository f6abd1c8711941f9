package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/phrazzld/kcjob/internal/api/shared"
	"github.com/phrazzld/kcjob/internal/platform/logger"
	"github.com/phrazzld/kcjob/internal/redact"
)

// AuthMiddleware validates HS256 operator tokens signed with the admin
// secret. The token subject becomes the operator name in the context.
type AuthMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthMiddleware creates an AuthMiddleware for secret.
func NewAuthMiddleware(secret string) (*AuthMiddleware, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &AuthMiddleware{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Authenticate rejects requests without a valid bearer token.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := m.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return m.secret, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			return
		case err != nil:
			logger.FromContext(r.Context()).Debug("rejected operator token", "error", redact.Error(err))
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			return
		case claims.Subject == "":
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Token has no subject")
			return
		}

		ctx := shared.SetOperator(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
