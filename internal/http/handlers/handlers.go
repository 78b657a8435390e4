package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pribylovaa/account-service/internal/config"
	"github.com/pribylovaa/account-service/internal/models"
	"github.com/pribylovaa/account-service/internal/service"
)

// Accounts — операции сервисного слоя, которые обслуживает HTTP.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.PublicUser, error)
	Login(ctx context.Context, in service.LoginInput) (*models.Session, error)
	Logout(ctx context.Context, userID string) error
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	CurrentUser(ctx context.Context, userID string) (*models.PublicUser, error)
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	accounts Accounts
	cookie   config.CookieConfig
	media    config.MediaConfig
}

func New(a Accounts, cookie config.CookieConfig, media config.MediaConfig) *Handlers {
	return &Handlers{accounts: a, cookie: cookie, media: media}
}

// envelope — формат успешного ответа. StatusCode совпадает с HTTP-статусом.
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeOK(w http.ResponseWriter, status int, data any, msg string) {
	writeJSON(w, status, envelope{
		StatusCode: status,
		Data:       data,
		Message:    msg,
		Success:    true,
	})
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
