// oidc.go — OIDC-клиент Keycloak для web-входа сотрудников FADEX.
// Authorization Code Flow с PKCE (RFC 7636), public client без секрета.
// Обмен и обновление токенов выполняет golang.org/x/oauth2.
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// oidcScopes — groups нужен для маппинга групп Keycloak в роли.
var oidcScopes = []string{"openid", "profile", "email", "groups"}

// OIDCClient — клиент OIDC endpoints realm.
type OIDCClient struct {
	oauth      *oauth2.Config
	logoutURL  string
	httpClient *http.Client
}

// OIDCConfig — конфигурация OIDC-клиента.
type OIDCConfig struct {
	// KeycloakURL — адрес Keycloak для обмена токенов (server-to-server).
	KeycloakURL string
	// BrowserKeycloakURL — адрес Keycloak для redirect браузера (пустой — KeycloakURL).
	BrowserKeycloakURL string
	Realm              string
	// ClientID — public client web-входа.
	ClientID string
	// HTTPClient — клиент для token endpoint (nil — новый с Timeout).
	HTTPClient *http.Client
	// Timeout — таймаут token endpoint при HTTPClient == nil (0 — 30s).
	Timeout time.Duration
}

// NewOIDCClient создаёт OIDC-клиент.
func NewOIDCClient(cfg OIDCConfig) *OIDCClient {
	browserURL := cfg.BrowserKeycloakURL
	if browserURL == "" {
		browserURL = cfg.KeycloakURL
	}
	browserBase := realmOIDCBase(browserURL, cfg.Realm)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &OIDCClient{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   browserBase + "/auth",
				TokenURL:  realmOIDCBase(cfg.KeycloakURL, cfg.Realm) + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: oidcScopes,
		},
		logoutURL:  browserBase + "/logout",
		httpClient: httpClient,
	}
}

func realmOIDCBase(keycloakURL, realm string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect", strings.TrimRight(keycloakURL, "/"), url.PathEscape(realm))
}

// PKCEParams — пара PKCE одного входа.
type PKCEParams struct {
	// CodeVerifier хранится в state cookie до callback.
	CodeVerifier string
	// CodeChallenge — S256 от CodeVerifier, уходит в authorize URL.
	CodeChallenge string
}

// GeneratePKCE генерирует пару code_verifier / code_challenge (S256).
func GeneratePKCE() (*PKCEParams, error) {
	verifier := oauth2.GenerateVerifier()
	return &PKCEParams{
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
	}, nil
}

// GenerateState генерирует случайный state для защиты callback от CSRF.
func GenerateState() (string, error) {
	return rand.Text(), nil
}

// AuthorizeURL формирует адрес входа в Keycloak.
func (c *OIDCClient) AuthorizeURL(redirectURI, state, codeChallenge string) string {
	return c.withRedirect(redirectURI).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// TokenResponse — токены сотрудника после входа или обновления.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// Expiry — момент истечения access token
	Expiry time.Time
}

// defaultTokenLifetime — срок access token, если Keycloak не прислал expires_in.
const defaultTokenLifetime = 5 * time.Minute

// ExpiresAt возвращает момент истечения access token (Unix).
func (t *TokenResponse) ExpiresAt() int64 {
	if t.Expiry.IsZero() {
		return time.Now().Add(defaultTokenLifetime).Unix()
	}
	return t.Expiry.Unix()
}

// ExchangeCode обменивает authorization code на токены.
// redirectURI должен совпадать с переданным в AuthorizeURL.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	tok, err := c.withRedirect(redirectURI).Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("обмен authorization code: %w", err)
	}
	return tokenResponse(tok, ""), nil
}

// RefreshTokens обновляет access token по refresh token.
// Keycloak может не вернуть новый refresh token, тогда остаётся прежний.
func (c *OIDCClient) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("обновление токена: %w", err)
	}
	return tokenResponse(tok, refreshToken), nil
}

// LogoutURL формирует адрес выхода из Keycloak.
// idTokenHint пустой — не передаётся.
func (c *OIDCClient) LogoutURL(idTokenHint, postLogoutRedirectURI string) string {
	params := url.Values{
		"client_id":                {c.oauth.ClientID},
		"post_logout_redirect_uri": {postLogoutRedirectURI},
	}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	return c.logoutURL + "?" + params.Encode()
}

func (c *OIDCClient) withRedirect(redirectURI string) *oauth2.Config {
	cfg := *c.oauth
	cfg.RedirectURL = redirectURI
	return &cfg
}

func (c *OIDCClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenResponse(tok *oauth2.Token, prevRefresh string) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = prevRefresh
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = id
	}
	return resp
}
