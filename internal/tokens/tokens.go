// tokens выпускает и проверяет пару JWT (access + refresh).
//
// Токены подписываются HS256 разными секретами и различаются аудиторией,
// поэтому access-токен нельзя предъявить вместо refresh и наоборот.
// Пакет не обращается к хранилищу: сохранение refresh-токена — забота вызывающего.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/account-service/internal/config"
	"github.com/pribylovaa/account-service/internal/models"
)

const (
	audienceAccess  = "access"
	audienceRefresh = "refresh"

	leeway = 5 * time.Second
)

var (
	// ErrInvalidToken — подпись, алгоритм, издатель или аудитория не сходятся.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
)

type accessClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	jwt.RegisteredClaims
}

// Manager выпускает и валидирует токены по конфигурации AuthConfig.
type Manager struct {
	cfg config.AuthConfig
	now func() time.Time
}

// New создаёт Manager.
func New(cfg config.AuthConfig) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// Issue выпускает новую пару токенов для пользователя.
// Каждый токен получает уникальный jti, поэтому две пары никогда не совпадают.
func (m *Manager) Issue(user *models.User) (*models.TokenPair, error) {
	const op = "tokens.Issue"

	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%s: empty user id", op)
	}

	now := m.now().UTC()
	accessExp := now.Add(m.cfg.AccessTokenTTL)
	refreshExp := now.Add(m.cfg.RefreshTokenTTL)

	access := accessClaims{
		Email:            user.Email,
		Username:         user.Username,
		FullName:         user.FullName,
		RegisteredClaims: m.registered(user.ID, audienceAccess, now, accessExp),
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).
		SignedString([]byte(m.cfg.AccessTokenSecret))
	if err != nil {
		return nil, fmt.Errorf("%s: sign access: %w", op, err)
	}

	refresh := m.registered(user.ID, audienceRefresh, now, refreshExp)

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).
		SignedString([]byte(m.cfg.RefreshTokenSecret))
	if err != nil {
		return nil, fmt.Errorf("%s: sign refresh: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess проверяет access-токен и возвращает id пользователя.
func (m *Manager) VerifyAccess(token string) (string, error) {
	const op = "tokens.VerifyAccess"

	var claims accessClaims
	if err := m.parse(token, m.cfg.AccessTokenSecret, audienceAccess, &claims); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return claims.Subject, nil
}

// VerifyRefresh проверяет refresh-токен и возвращает id пользователя.
// Сверка с сохранённым значением выполняется на уровне сервиса.
func (m *Manager) VerifyRefresh(token string) (string, error) {
	const op = "tokens.VerifyRefresh"

	var claims jwt.RegisteredClaims
	if err := m.parse(token, m.cfg.RefreshTokenSecret, audienceRefresh, &claims); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return claims.Subject, nil
}

func (m *Manager) registered(userID, audience string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    m.cfg.Issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

// parse разбирает токен в claims и сводит ошибки jwt к ErrInvalidToken/ErrTokenExpired.
func (m *Manager) parse(token, secret, audience string, claims jwt.Claims) error {
	if token == "" {
		return ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}

		return ErrInvalidToken
	}

	if !parsed.Valid {
		return ErrInvalidToken
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return ErrInvalidToken
	}

	return nil
}
