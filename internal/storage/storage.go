// storage описывает контракты хранилищ сервиса: учётные записи пользователей
// (MongoDB или PostgreSQL) и медиа-файлы (MinIO/S3).
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/mock_storage.go -package=mocks

import (
	"context"
	"errors"

	"github.com/pribylovaa/account-service/internal/models"
)

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/email).
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument — файл не проходит ограничения (тип/размер/путь).
	ErrInvalidArgument = errors.New("invalid argument")
)

// UserStorage выполняет операции над учётными записями.
type UserStorage interface {
	// SaveUser создаёт пользователя и проставляет user.ID.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByLogin ищет пользователя с совпадающим username ИЛИ email.
	// Пустые аргументы в поиске не участвуют.
	UserByLogin(ctx context.Context, username, email string) (*models.User, error)
	// UserByID возвращает полную запись, включая хэш пароля и refresh-токен.
	UserByID(ctx context.Context, id string) (*models.User, error)
	// ProfileByID возвращает запись без хэша пароля и refresh-токена.
	ProfileByID(ctx context.Context, id string) (*models.User, error)
	// SetRefreshToken записывает актуальный refresh-токен пользователя.
	SetRefreshToken(ctx context.Context, id, token string) error
	// RotateRefreshToken заменяет oldToken на newToken, только если сейчас
	// хранится именно oldToken. Пустой newToken удаляет токен.
	// Возвращает false, если замена не произошла.
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) (bool, error)
	// ClearRefreshToken удаляет refresh-токен пользователя.
	ClearRefreshToken(ctx context.Context, id string) error
}

// Storage — хранилище пользователей с управлением соединением.
type Storage interface {
	UserStorage
	Close(ctx context.Context) error
}

// MediaStorage загружает локальный файл во внешнее хранилище.
type MediaStorage interface {
	// Upload кладёт файл localPath в каталог folder и возвращает публичный URL.
	Upload(ctx context.Context, folder, localPath string) (string, error)
}
