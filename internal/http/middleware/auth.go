package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/account-service/internal/errors"
	logctx "github.com/pribylovaa/account-service/internal/pkg/log"
	"github.com/pribylovaa/account-service/internal/service"
)

// CookieAccessToken — имя cookie с access-токеном.
const CookieAccessToken = "accessToken"

// TokenVerifier проверяет access-токен и возвращает id пользователя.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

type userIDKey struct{}

// Authenticate пропускает запрос только с валидным access-токеном.
// Токен берётся из cookie accessToken, затем из Authorization: Bearer.
// id пользователя кладётся в контекст (UserIDFrom) и в логгер запроса.
func Authenticate(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := accessToken(r)
			if token == "" {
				apierrors.WriteError(w, r, service.ErrUnauthorized)
				return
			}

			userID, err := v.VerifyAccess(token)
			if err != nil {
				logctx.From(r.Context()).Debug("access_token_rejected", slog.String("reason", err.Error()))
				apierrors.WriteError(w, r, fmt.Errorf("%w: %w", service.ErrInvalidAccessToken, err))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			ctx = logctx.With(ctx, slog.String("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom возвращает id аутентифицированного пользователя.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func accessToken(r *http.Request) string {
	if c, err := r.Cookie(CookieAccessToken); err == nil && c.Value != "" {
		return c.Value
	}

	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}

	return ""
}
