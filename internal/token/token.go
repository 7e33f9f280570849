// Пакет token — выпуск и проверка токенов аттестации.
//
// Токен аттестации — подписанный HS256 JWT, который даёт неаутентифицированному
// координатору право выполнить действие над одной конкретной нотой.
// Токен не хранится на сервере и не отзывается: актуальность статуса ноты
// проверяется обработчиком при каждом использовании.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity — срок действия токена аттестации.
const DefaultValidity = 30 * 24 * time.Hour

// audience — назначение токена. Отличает токены аттестации от прочих JWT,
// подписанных тем же секретом.
const audience = "attest"

// Ошибки сервиса токенов.
var (
	// ErrMissingSecret — секрет подписи не задан (фатальная ошибка конфигурации).
	ErrMissingSecret = errors.New("секрет подписи токенов не задан")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("токен просрочен")
	// ErrTokenInvalid — подпись не сходится или содержимое повреждено.
	ErrTokenInvalid = errors.New("токен невалиден")
)

// Claims — содержимое токена аттестации.
type Claims struct {
	// NoteID — идентификатор ноты, на которую выдан токен.
	NoteID string `json:"noteId"`
	jwt.RegisteredClaims
}

// Service выпускает и проверяет токены аттестации.
type Service struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// Option — параметр Service.
type Option func(*Service)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithValidity задаёт срок действия выпускаемых токенов.
func WithValidity(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.validity = d
		}
	}
}

// New создаёт сервис токенов. Пустой секрет — ErrMissingSecret.
func New(secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	s := &Service{
		secret:   []byte(secret),
		validity: DefaultValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue выпускает токен для ноты noteID.
func (s *Service) Issue(noteID string) (string, error) {
	if noteID == "" {
		return "", fmt.Errorf("%w: пустой noteId", ErrTokenInvalid)
	}
	now := s.now()
	claims := Claims{
		NoteID: noteID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   noteID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("подпись токена: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись и срок действия токена.
// Возвращает ErrTokenExpired или ErrTokenInvalid.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.NoteID == "" {
		return nil, fmt.Errorf("%w: отсутствует noteId", ErrTokenInvalid)
	}
	return claims, nil
}

// AttestURL формирует ссылку аттестации {baseURL}/attest/{token}.
func AttestURL(baseURL, tokenString string) string {
	return strings.TrimRight(baseURL, "/") + "/attest/" + tokenString
}
