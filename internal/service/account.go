package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pribylovaa/account-service/internal/models"
	"github.com/pribylovaa/account-service/internal/pkg/log"
	"github.com/pribylovaa/account-service/internal/storage"
	"github.com/pribylovaa/account-service/pkg/redact"
)

// RegisterInput — данные формы регистрации.
// AvatarPath/CoverImagePath — локальные пути к уже принятым файлам.
type RegisterInput struct {
	FullName       string `validate:"required"`
	Username       string `validate:"required"`
	Email          string `validate:"required,email"`
	Password       string `validate:"required"`
	AvatarPath     string
	CoverImagePath string
}

// Register регистрирует нового пользователя.
//
// Порядок: валидация -> проверка уникальности -> загрузка медиа ->
// хэширование пароля и сохранение -> перечитывание без секретов.
// Пока не пройдены первые три шага, в хранилище ничего не пишется.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.PublicUser, error) {
	const op = "service.account.Register"

	lg := log.From(ctx)
	in = normalizeRegister(in)

	if err := s.validateRegister(in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err := s.users.UserByLogin(ctx, in.Username, in.Email)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if in.AvatarPath == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrAvatarRequired)
	}

	avatarURL, err := s.media.Upload(ctx, folderAvatars, in.AvatarPath)
	if err != nil || avatarURL == "" {
		lg.Warn("avatar_upload_failed",
			slog.String("op", op),
			slog.Any("err", err),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrAvatarRequired)
	}

	// Обложка необязательна: ошибка загрузки не прерывает регистрацию.
	var coverURL string
	if in.CoverImagePath != "" {
		coverURL, err = s.media.Upload(ctx, folderCovers, in.CoverImagePath)
		if err != nil {
			lg.Warn("cover_upload_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			coverURL = ""
		}
	}

	hash, err := hashPassword(in.Password, s.cfg.PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		Avatar:       avatarURL,
		CoverImage:   coverURL,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := s.users.ProfileByID(ctx, user.ID)
	if err != nil {
		lg.Error("registered_user_refetch_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w: %v", op, ErrRegistrationFailed, err)
	}

	lg.Info("user_registered",
		slog.String("user_id", created.ID),
		slog.String("email", redact.Email(created.Email)),
	)

	out := created.Public()
	return &out, nil
}

// CurrentUser возвращает профиль аутентифицированного пользователя.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.PublicUser, error) {
	const op = "service.account.CurrentUser"

	if userID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	user, err := s.users.ProfileByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := user.Public()
	return &out, nil
}

// normalizeRegister обрезает пробелы и приводит username/email к нижнему регистру.
// Пароль не трогаем: пробелы в нём значимы.
func normalizeRegister(in RegisterInput) RegisterInput {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return in
}

// validateRegister сводит ошибки валидатора к ErrMissingFields/ErrInvalidEmail,
// слишком длинный пароль даёт ErrPasswordTooLong.
// Пустое поле важнее некорректного e-mail.
func (s *Service) validateRegister(in RegisterInput) error {
	if strings.TrimSpace(in.Password) == "" {
		return ErrMissingFields
	}

	err := s.validate.Struct(in)
	if err == nil {
		if len(in.Password) > maxPasswordBytes {
			return ErrPasswordTooLong
		}

		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	invalidEmail := false
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return ErrMissingFields
		}
		if fe.Field() == "Email" {
			invalidEmail = true
		}
	}

	if invalidEmail {
		return ErrInvalidEmail
	}

	return ErrMissingFields
}
