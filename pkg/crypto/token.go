package crypto

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки проверки токенов
var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrTokenTooLong = errors.New("token exceeds maximum length of 72 bytes")
)

// MaxTokenLength - ограничение bcrypt (72 байта)
const MaxTokenLength = 72

// DefaultCost - стоимость bcrypt для HashToken
const DefaultCost = 12

const bearerPrefix = "Bearer "

// TokenVerifier проверяет bearer-токены клиентов
//
// Секрет задаётся либо открытым текстом, либо bcrypt-хешем ($2a$/$2b$/$2y$).
// Открытый текст сравнивается за постоянное время.
// Пустой секрет означает, что авторизация выключена.
type TokenVerifier struct {
	plain  []byte
	hash   []byte
	hashed bool
}

// NewTokenVerifier создаёт верификатор для секрета
func NewTokenVerifier(secret string) *TokenVerifier {
	v := &TokenVerifier{}
	if IsBcryptHash(secret) {
		v.hash = []byte(secret)
		v.hashed = true
		return v
	}
	v.plain = []byte(secret)
	return v
}

// Enabled - задан ли секрет
func (v *TokenVerifier) Enabled() bool {
	return v.hashed || len(v.plain) > 0
}

// Verify проверяет предъявленный токен
//
// При выключенной авторизации принимается любой токен.
func (v *TokenVerifier) Verify(token string) bool {
	if !v.Enabled() {
		return true
	}
	if token == "" {
		return false
	}
	if v.hashed {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare(v.plain, []byte(token)) == 1
}

// VerifyHeader проверяет значение заголовка Authorization ("Bearer <token>")
func (v *TokenVerifier) VerifyHeader(header string) bool {
	if !v.Enabled() {
		return true
	}
	token, ok := ParseBearer(header)
	if !ok {
		return false
	}
	return v.Verify(token)
}

// ParseBearer извлекает токен из заголовка Authorization
func ParseBearer(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// IsBcryptHash - похоже ли значение на bcrypt-хеш
func IsBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashToken хеширует токен для хранения в конфигурации вместо открытого текста
//
// cost вне диапазона bcrypt прижимается к границам.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
