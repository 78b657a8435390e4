// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимает ошибку сервисного слоя (обёрнутые sentinel-значения),
// на выход даёт:
//   - HTTP-статус по классу ошибки;
//   - безопасное message: текст доменной ошибки либо общий текст для 500.
//
// Источник истинности по сообщениям: sentinel-ошибки internal/service.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/account-service/internal/service"
)

// Нестандартный код "клиент закрыл соединение".
const StatusClientClosedRequest = 499

const msgInternal = "internal error"

var (
	// ErrBadRequest — тело запроса не разбирается. HTTP 400.
	ErrBadRequest = errors.New("invalid request body")
	// ErrTooManyRequests — превышен лимит запросов. HTTP 429.
	ErrTooManyRequests = errors.New("too many requests")
)

// ErrorResponse — единый формат ошибки для фронта.
// StatusCode совпадает с HTTP-статусом ответа.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
	RequestID  string `json:"requestId,omitempty"`
}

// UnauthorizedError принудительно переводит любую ошибку в 401.
// Если внутри нет известной доменной ошибки, в ответ уходит Message.
type UnauthorizedError struct {
	Err     error
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return e.Err.Error()
}

func (e *UnauthorizedError) Unwrap() error { return e.Err }

// Unauthorized оборачивает err в UnauthorizedError с общим текстом fallback.
func Unauthorized(err error, fallback string) error {
	return &UnauthorizedError{Err: err, Message: fallback}
}

// mapping — таблица доменных ошибок. Порядок значим: первая совпавшая побеждает.
var mapping = []struct {
	err    error
	status int
}{
	{service.ErrMissingFields, http.StatusBadRequest},
	{service.ErrInvalidEmail, http.StatusBadRequest},
	{service.ErrPasswordTooLong, http.StatusBadRequest},
	{service.ErrAvatarRequired, http.StatusBadRequest},
	{service.ErrLoginRequired, http.StatusBadRequest},
	{ErrBadRequest, http.StatusBadRequest},
	{service.ErrUserExists, http.StatusConflict},
	{service.ErrUserNotFound, http.StatusNotFound},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrUnauthorized, http.StatusUnauthorized},
	{service.ErrInvalidAccessToken, http.StatusUnauthorized},
	{service.ErrRefreshTokenReused, http.StatusUnauthorized},
	{service.ErrInvalidRefreshToken, http.StatusUnauthorized},
	{ErrTooManyRequests, http.StatusTooManyRequests},
}

// ToHTTP конвертирует ошибку в HTTP-статус и тело ответа.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500, чтобы не маскировать баг;
//   - известная доменная ошибка — её статус и её текст;
//   - *UnauthorizedError — всегда 401, текст доменной ошибки или Message;
//   - context.Canceled / DeadlineExceeded — 499 / 504;
//   - прочее (в т.ч. ErrRegistrationFailed) — 500 с общим текстом.
func ToHTTP(err error) (int, ErrorResponse) {
	status, msg := classify(err)

	return status, ErrorResponse{
		StatusCode: status,
		Message:    msg,
		Success:    false,
	}
}

func classify(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, msgInternal
	}

	for _, m := range mapping {
		if errors.Is(err, m.err) {
			status := m.status
			if isUnauthorized(err) {
				status = http.StatusUnauthorized
			}

			return status, m.err.Error()
		}
	}

	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		msg := ue.Message
		if msg == "" {
			msg = service.ErrUnauthorized.Error()
		}

		return http.StatusUnauthorized, msg
	}

	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timeout"
	case errors.Is(err, service.ErrRegistrationFailed):
		return http.StatusInternalServerError, service.ErrRegistrationFailed.Error()
	}

	return http.StatusInternalServerError, msgInternal
}

func isUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// WriteError пишет статус и тело ошибки, добавляя request_id из заголовка.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
