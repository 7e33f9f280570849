// Пакет keycloak — каталог сотрудников FADEX в Keycloak (Admin REST API).
// Используется для списка пользователей, их групп и статуса realm.
// Сервисный токен (client credentials) получает и обновляет golang.org/x/oauth2.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrNotFound — Keycloak вернул 404.
	ErrNotFound = errors.New("объект Keycloak не найден")
	// ErrNotConfigured — не заданы client credentials (NF_KEYCLOAK_CLIENT_ID).
	ErrNotConfigured = errors.New("доступ к Keycloak Admin API не настроен")
)

// User — сотрудник из каталога Keycloak.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Enabled   bool   `json:"enabled"`
	// CreatedMillis — createdTimestamp Keycloak (мс от epoch)
	CreatedMillis int64 `json:"createdTimestamp"`
}

// CreatedAt возвращает время создания учётной записи.
func (u *User) CreatedAt() time.Time {
	return time.UnixMilli(u.CreatedMillis).UTC()
}

// Group — группа Keycloak; имена групп маппятся в роли Notas Fadex.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Realm — краткие сведения о realm для страницы статуса IdP.
type Realm struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// Client — клиент каталога пользователей.
type Client struct {
	adminURL string
	http     *http.Client
	logger   *slog.Logger
}

// New создаёт клиент каталога.
// Пустой clientID допустим: все вызовы тогда возвращают ErrNotConfigured.
// base — HTTP-клиент для запросов токена и API (nil — с таймаутом 30s).
func New(baseURL, realm, clientID, clientSecret string, base *http.Client, logger *slog.Logger) *Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	c := &Client{
		adminURL: fmt.Sprintf("%s/admin/realms/%s", baseURL, url.PathEscape(realm)),
		logger:   logger.With(slog.String("component", "keycloak_directory")),
	}
	if clientID == "" {
		return c
	}

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", baseURL, url.PathEscape(realm)),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// Контекст живёт столько же, сколько клиент: из него oauth2 берёт base
	// для обновления токена.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	c.http = cc.Client(tokenCtx)
	c.http.Timeout = base.Timeout
	return c
}

// getJSON выполняет GET к Admin API и декодирует ответ в target.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target any) error {
	if c.http == nil {
		return ErrNotConfigured
	}

	reqURL := c.adminURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("запрос к Keycloak: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("Keycloak Admin API вернул ошибку",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("Keycloak вернул статус %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа Keycloak: %w", err)
	}
	return nil
}

// ListUsers возвращает страницу пользователей realm.
// search ищет по username, email и имени; пустой — все пользователи.
func (c *Client) ListUsers(ctx context.Context, search string, first, max int) ([]User, error) {
	q := url.Values{
		"first":               {strconv.Itoa(first)},
		"max":                 {strconv.Itoa(max)},
		"briefRepresentation": {"true"},
	}
	if search != "" {
		q.Set("search", search)
	}

	var users []User
	if err := c.getJSON(ctx, "/users", q, &users); err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}
	return users, nil
}

// CountUsers возвращает количество пользователей realm.
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := c.getJSON(ctx, "/users/count", nil, &count); err != nil {
		return 0, fmt.Errorf("CountUsers: %w", err)
	}
	return count, nil
}

// GetUser возвращает пользователя по ID.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	return &user, nil
}

// GetUserGroups возвращает группы пользователя.
func (c *Client) GetUserGroups(ctx context.Context, userID string) ([]Group, error) {
	var groups []Group
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/groups", nil, &groups); err != nil {
		return nil, fmt.Errorf("GetUserGroups: %w", err)
	}
	return groups, nil
}

// RealmInfo возвращает сведения о realm.
func (c *Client) RealmInfo(ctx context.Context) (*Realm, error) {
	var realm Realm
	if err := c.getJSON(ctx, "", nil, &realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}
	return &realm, nil
}
