package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pribylovaa/account-service/internal/models"
	"github.com/pribylovaa/account-service/internal/pkg/log"
	"github.com/pribylovaa/account-service/internal/storage"
	"github.com/pribylovaa/account-service/pkg/redact"
)

// LoginInput — логин по username или email и пароль.
type LoginInput struct {
	Username string `validate:"required_without=Email"`
	Email    string `validate:"required_without=Username"`
	Password string
}

// Login выполняет вход и открывает новую сессию.
// Предыдущий refresh-токен пользователя (если был) перестаёт быть действительным.
func (s *Service) Login(ctx context.Context, in LoginInput) (*models.Session, error) {
	const op = "service.session.Login"

	lg := log.From(ctx)

	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrLoginRequired)
	}

	user, err := s.users.UserByLogin(ctx, in.Username, in.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, in.Password) {
		lg.Info("login_invalid_password",
			slog.String("op", op),
			slog.String("user_id", user.ID),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	tp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.users.SetRefreshToken(ctx, user.ID, tp.RefreshToken); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("user_logged_in",
		slog.String("user_id", user.ID),
		slog.String("email", redact.Email(user.Email)),
	)

	return &models.Session{User: user.Public(), TokenPair: *tp}, nil
}

// Logout закрывает сессию: сохранённый refresh-токен удаляется.
func (s *Service) Logout(ctx context.Context, userID string) error {
	const op = "service.session.Logout"

	if userID == "" {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	if err := s.users.ClearRefreshToken(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_logged_out", slog.String("user_id", userID))

	return nil
}

// Refresh ротирует пару токенов по предъявленному refresh-токену.
//
// Токен должен пройти проверку подписи/срока и совпасть со значением,
// сохранённым у пользователя. Несовпадение означает повторное использование
// уже ротированного токена: сессия пользователя закрывается целиком.
// Замена токена в хранилище выполняется compare-and-swap, поэтому из двух
// конкурентных обновлений с одним токеном успешно только одно.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.session.Refresh"

	lg := log.From(ctx)

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidRefreshToken, err)
	}

	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(refreshToken)) != 1 {
		s.revokeOnReuse(ctx, user, refreshToken)
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenReused)
	}

	tp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	swapped, err := s.users.RotateRefreshToken(ctx, user.ID, refreshToken, tp.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !swapped {
		lg.Warn("refresh_token_rotation_lost",
			slog.String("op", op),
			slog.String("user_id", user.ID),
			slog.String("token_fp", redact.TokenFingerprint(refreshToken)),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenReused)
	}

	lg.Debug("refresh_token_rotated",
		slog.String("user_id", user.ID),
		slog.String("old_fp", redact.TokenFingerprint(refreshToken)),
		slog.String("new_fp", redact.TokenFingerprint(tp.RefreshToken)),
	)

	return tp, nil
}

// revokeOnReuse закрывает активную сессию пользователя, если ему предъявили
// устаревший refresh-токен. Ошибка очистки только логируется: ответ клиенту
// в любом случае 401.
func (s *Service) revokeOnReuse(ctx context.Context, user *models.User, presented string) {
	const op = "service.session.revokeOnReuse"

	lg := log.From(ctx)
	lg.Warn("refresh_token_reuse_detected",
		slog.String("op", op),
		slog.String("user_id", user.ID),
		slog.String("token_fp", redact.TokenFingerprint(presented)),
	)

	if user.RefreshToken == "" {
		return
	}

	// Снимаем только увиденное значение: токен от параллельного Login не трогаем.
	revoked, err := s.users.RotateRefreshToken(ctx, user.ID, user.RefreshToken, "")
	if err != nil {
		lg.Error("refresh_token_revoke_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID),
			slog.String("err", err.Error()),
		)
		return
	}

	if !revoked {
		lg.Info("refresh_token_revoke_skipped",
			slog.String("op", op),
			slog.String("user_id", user.ID),
		)
	}
}
