package models

import "time"

// TokenPair — пара токенов, выдаваемая при входе и обновлении сессии.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — долгоживущий JWT, единственное актуальное значение
//     хранится в записи пользователя;
//   - AccessExpiresAt/RefreshExpiresAt — моменты истечения (UTC), используются
//     для срока жизни cookie и в JSON не попадают.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// Session — результат успешного входа: пользователь и выпущенная пара токенов.
type Session struct {
	User PublicUser `json:"user"`
	TokenPair
}
