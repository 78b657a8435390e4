package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/pribylovaa/account-service/internal/http/middleware"
	"github.com/pribylovaa/account-service/internal/models"
)

// Имена cookie с токенами.
const (
	cookieAccessToken  = middleware.CookieAccessToken
	cookieRefreshToken = "refreshToken"
)

func (h *Handlers) sameSite() http.SameSite {
	switch strings.ToLower(h.cookie.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (h *Handlers) tokenCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookie.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   !h.cookie.Insecure,
		SameSite: h.sameSite(),
	}
}

// setTokenCookies выставляет httpOnly-cookie с парой токенов.
func (h *Handlers) setTokenCookies(w http.ResponseWriter, tp *models.TokenPair) {
	http.SetCookie(w, h.tokenCookie(cookieAccessToken, tp.AccessToken, tp.AccessExpiresAt))
	http.SetCookie(w, h.tokenCookie(cookieRefreshToken, tp.RefreshToken, tp.RefreshExpiresAt))
}

// clearTokenCookies удаляет обе cookie (MaxAge < 0).
func (h *Handlers) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieAccessToken, cookieRefreshToken} {
		c := h.tokenCookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}
