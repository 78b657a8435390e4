// service содержит бизнес-логику учётных записей: регистрацию с загрузкой
// медиа, вход по паролю, выход и ротацию refresh-токенов.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования при потокобезопасных хранилищах.
//   - Ошибки возвращаются обёрнутыми sentinel-значениями ниже; HTTP-слой
//     маппит их на статусы (см. internal/errors).
//   - Refresh-токен проверяется дважды: подпись/срок (tokens.Manager) и
//     равенство единственному значению, сохранённому в записи пользователя.
package service

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/pribylovaa/account-service/internal/config"
	"github.com/pribylovaa/account-service/internal/storage"
	"github.com/pribylovaa/account-service/internal/tokens"
)

// Каталоги в медиа-хранилище.
const (
	folderAvatars = "avatars"
	folderCovers  = "covers"
)

var (
	// ErrMissingFields — одно из обязательных полей регистрации пустое. HTTP 400.
	ErrMissingFields = errors.New("all fields are required")

	// ErrInvalidEmail — e-mail не является адресом. HTTP 400.
	ErrInvalidEmail = errors.New("email is invalid")

	// ErrPasswordTooLong — пароль длиннее maxPasswordBytes. HTTP 400.
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

	// ErrAvatarRequired — аватар не передан или не загрузился. HTTP 400.
	ErrAvatarRequired = errors.New("avatar file is required")

	// ErrUserExists — username или email уже заняты. HTTP 409.
	ErrUserExists = errors.New("user with email or username already exists")

	// ErrRegistrationFailed — пользователь сохранён, но не перечитывается. HTTP 500.
	ErrRegistrationFailed = errors.New("something went wrong while registering the user")

	// ErrLoginRequired — не передан ни username, ни email. HTTP 400.
	ErrLoginRequired = errors.New("username or email is required")

	// ErrUserNotFound — пользователь с таким логином не существует. HTTP 404.
	ErrUserNotFound = errors.New("user does not exist")

	// ErrInvalidCredentials — пароль не совпал. HTTP 401.
	ErrInvalidCredentials = errors.New("invalid user credentials")

	// ErrUnauthorized — нет токена или идентичность не подтверждена. HTTP 401.
	ErrUnauthorized = errors.New("unauthorized request")

	// ErrInvalidAccessToken — access-токен не прошёл проверку. HTTP 401.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrInvalidRefreshToken — refresh-токен не прошёл проверку подписи/срока
	// или его владелец не найден. HTTP 401.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshTokenReused — предъявлен не тот refresh-токен, что хранится
	// у пользователя (уже ротирован или сессия закрыта). HTTP 401.
	ErrRefreshTokenReused = errors.New("refresh token is expired or used")
)

// Service описывает бизнес-логику учётных записей.
type Service struct {
	users    storage.UserStorage
	media    storage.MediaStorage
	tokens   *tokens.Manager
	cfg      config.AuthConfig
	validate *validator.Validate
}

// New создаёт новый экземпляр Service.
func New(users storage.UserStorage, media storage.MediaStorage, tm *tokens.Manager, cfg config.AuthConfig) *Service {
	return &Service{
		users:    users,
		media:    media,
		tokens:   tm,
		cfg:      cfg,
		validate: validator.New(),
	}
}
