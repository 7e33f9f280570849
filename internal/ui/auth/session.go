// Пакет auth — web-сессии Notas Fadex и OIDC-клиент Keycloak (PKCE).
// Сессия хранится целиком в cookie, запечатанном XChaCha20-Poly1305.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SessionCookieName — имя cookie сессии.
const SessionCookieName = "nf_session"

// SessionCookieMaxAge — время жизни cookie сессии (12 часов).
const SessionCookieMaxAge = 12 * 60 * 60

// refreshMargin — за сколько до истечения access token считается просроченным.
const refreshMargin = 30 * time.Second

// sessionFormatVersion — первый байт запечатанной cookie; входит в AAD.
const sessionFormatVersion byte = 0x01

// hkdfInfoSession — контекст вывода ключа сессий из NF_SESSION_SECRET.
var hkdfInfoSession = []byte("notas-fadex.session.v1")

// SessionData — содержимое cookie сессии.
// Роль в сессии не хранится: она вычисляется заново на каждом запросе
// из access token и локальных назначений.
type SessionData struct {
	AccessToken  string `json:"at"`
	RefreshToken string `json:"rt"`
	// IDToken — для id_token_hint при logout
	IDToken string `json:"it,omitempty"`
	// ExpiresAt — истечение access token (Unix)
	ExpiresAt int64 `json:"exp"`
	// Subject — sub пользователя в Keycloak
	Subject  string `json:"sub"`
	Username string `json:"usr"`
	Email    string `json:"eml,omitempty"`
}

// IsExpired сообщает, что access token пора обновить.
func (s *SessionData) IsExpired() bool {
	return time.Now().Add(refreshMargin).Unix() >= s.ExpiresAt
}

var errSessionTooShort = errors.New("cookie сессии слишком короткая")

// SessionManager запечатывает SessionData в cookie и обратно.
type SessionManager struct {
	key    []byte
	secure bool
}

// NewSessionManager создаёт менеджер сессий.
// Ключ шифрования выводится HKDF-SHA256 из secret. Пустой secret — случайный
// ключ: сессии не переживут рестарт и не работают между репликами.
func NewSessionManager(secret string, secure bool) (*SessionManager, error) {
	ikm := []byte(secret)
	if secret == "" {
		ikm = make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(rand.Reader, ikm); err != nil {
			return nil, fmt.Errorf("генерация ключа сессии: %w", err)
		}
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, hkdfInfoSession), key); err != nil {
		return nil, fmt.Errorf("вывод ключа сессии: %w", err)
	}
	// Проверяем ключ сразу, чтобы ошибка конфигурации всплыла при старте
	if _, err := chacha20poly1305.NewX(key); err != nil {
		return nil, fmt.Errorf("создание XChaCha20-Poly1305: %w", err)
	}

	return &SessionManager{key: key, secure: secure}, nil
}

// Encrypt запечатывает SessionData:
//
//	[версия 1 байт] [nonce 24 байта] [ciphertext + tag]
//
// и возвращает base64url без padding.
func (sm *SessionManager) Encrypt(data *SessionData) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("сериализация сессии: %w", err)
	}
	aead, err := chacha20poly1305.NewX(sm.key)
	if err != nil {
		return "", fmt.Errorf("создание XChaCha20-Poly1305: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = sessionFormatVersion
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return "", fmt.Errorf("генерация nonce: %w", err)
	}
	nonce := out[1:]
	out = aead.Seal(out, nonce, plaintext, sessionAAD(out[0]))

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt вскрывает cookie, запечатанную Encrypt.
func (sm *SessionManager) Decrypt(value string) (*SessionData, error) {
	blob, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("декодирование cookie сессии: %w", err)
	}
	if len(blob) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errSessionTooShort
	}
	if blob[0] != sessionFormatVersion {
		return nil, fmt.Errorf("неизвестная версия cookie сессии: %d", blob[0])
	}

	aead, err := chacha20poly1305.NewX(sm.key)
	if err != nil {
		return nil, fmt.Errorf("создание XChaCha20-Poly1305: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], sessionAAD(blob[0]))
	if err != nil {
		return nil, fmt.Errorf("вскрытие cookie сессии: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("десериализация сессии: %w", err)
	}
	return &data, nil
}

// sessionAAD привязывает шифртекст к версии формата и имени cookie.
func sessionAAD(version byte) []byte {
	return append([]byte{version}, SessionCookieName...)
}

// SetSessionCookie записывает сессию в ответ.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, data *SessionData) error {
	sealed, err := sm.Encrypt(data)
	if err != nil {
		return err
	}
	http.SetCookie(w, sm.cookie(sealed, SessionCookieMaxAge))
	return nil
}

// GetSessionFromRequest читает сессию из cookie запроса.
// nil, nil — cookie нет.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) (*SessionData, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sm.Decrypt(cookie.Value)
}

// ClearSessionCookie удаляет cookie сессии (logout, недействительная сессия).
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, sm.cookie("", -1))
}

// Secure сообщает, ставится ли флаг Secure на cookie.
func (sm *SessionManager) Secure() bool {
	return sm.secure
}

// cookie — на весь сайт: сессия нужна и API, и скачиванию файлов.
func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
