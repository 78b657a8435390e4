package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/account-service/internal/models"
	"github.com/pribylovaa/account-service/internal/storage"
)

const userColumns = `id, username, email, full_name, avatar, cover_image, password_hash, COALESCE(refresh_token, ''), created_at, updated_at`

// parseID — некорректный идентификатор равносилен отсутствию записи.
func parseID(op, id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return uid, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u  models.User
		id uuid.UUID
	)

	err := row.Scan(&id, &u.Username, &u.Email, &u.FullName, &u.Avatar, &u.CoverImage,
		&u.PasswordHash, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.ID = id.String()
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()

	return &u, nil
}

// SaveUser создаёт пользователя с новым UUID.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	query := `
		INSERT INTO users(id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	_, err := s.db.Exec(ctx, query,
		id,
		user.Username,
		user.Email,
		user.FullName,
		user.Avatar,
		user.CoverImage,
		user.PasswordHash,
		now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	user.ID = id.String()
	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// UserByLogin ищет пользователя по username ИЛИ email. Пустые аргументы не участвуют.
func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.postgres.UserByLogin"

	if username == "" && email == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE ($1::text <> '' AND username = $1::citext) OR ($2::text <> '' AND email = $2::citext)
		LIMIT 1
	`

	u, err := scanUser(s.db.QueryRow(ctx, query, username, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByID возвращает полную запись.
func (s *Storage) UserByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	uid, err := parseID(op, id)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.db.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// ProfileByID возвращает запись без хэша пароля и refresh-токена.
func (s *Storage) ProfileByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.postgres.ProfileByID"

	u, err := s.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u.PasswordHash = ""
	u.RefreshToken = ""

	return u, nil
}

// SetRefreshToken безусловно записывает refresh-токен.
func (s *Storage) SetRefreshToken(ctx context.Context, id, token string) error {
	const op = "storage.postgres.SetRefreshToken"

	return s.updateToken(ctx, op, id, `UPDATE users SET refresh_token = $2, updated_at = now() WHERE id = $1`, token)
}

// ClearRefreshToken обнуляет refresh-токен.
func (s *Storage) ClearRefreshToken(ctx context.Context, id string) error {
	const op = "storage.postgres.ClearRefreshToken"

	return s.updateToken(ctx, op, id, `UPDATE users SET refresh_token = NULL, updated_at = now() WHERE id = $1`)
}

func (s *Storage) updateToken(ctx context.Context, op, id, query string, args ...any) error {
	uid, err := parseID(op, id)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, query, append([]any{uid}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// RotateRefreshToken заменяет oldToken на newToken одним UPDATE с условием
// на текущее значение. (false, nil) — запись есть, но токен уже другой.
func (s *Storage) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) (bool, error) {
	const op = "storage.postgres.RotateRefreshToken"

	uid, err := parseID(op, id)
	if err != nil {
		return false, err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE users SET refresh_token = NULLIF($3::text, ''), updated_at = now() WHERE id = $1 AND refresh_token = $2`,
		uid, oldToken, newToken,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, uid).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: exists: %w", op, err)
	}

	if !exists {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return false, nil
}
