package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/account-service/internal/errors"
	"github.com/pribylovaa/account-service/internal/http/middleware"
	"github.com/pribylovaa/account-service/internal/service"
)

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login — вход по username или email и паролю; токены уходят в cookie и в тело.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err))
		return
	}

	sess, err := h.accounts.Login(r.Context(), service.LoginInput{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setTokenCookies(w, &sess.TokenPair)
	writeOK(w, http.StatusOK, sess, "User logged in successfully")
}

// Logout закрывает сессию текущего пользователя и очищает cookie.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), middleware.UserIDFrom(r.Context())); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearTokenCookies(w)
	writeOK(w, http.StatusOK, struct{}{}, "User logged out")
}

// RefreshToken ротирует пару токенов. Токен берётся из cookie refreshToken,
// затем из JSON-поля refreshToken. Любая ошибка отдаётся как 401.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	tp, err := h.accounts.Refresh(r.Context(), refreshTokenFrom(r))
	if err != nil {
		apierrors.WriteError(w, r, apierrors.Unauthorized(err, service.ErrInvalidRefreshToken.Error()))
		return
	}

	h.setTokenCookies(w, tp)
	writeOK(w, http.StatusOK, tp, "Access token refreshed")
}

func refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(cookieRefreshToken); err == nil && c.Value != "" {
		return c.Value
	}

	var in refreshRequest
	if err := decodeStrict(r, &in); err != nil && !errors.Is(err, io.EOF) {
		return ""
	}

	return strings.TrimSpace(in.RefreshToken)
}
