// Пакет handlers — web-обработчики Notas Fadex: вход через Keycloak
// и публичная страница аттестации.
// auth.go — Authorization Code + PKCE, зашифрованная session cookie.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fadex/notas-fadex/internal/ui/auth"
)

const (
	// stateCookieName — cookie с PKCE state на время входа.
	stateCookieName = "nf_auth_state"
	// stateCookieMaxAge — 5 минут на прохождение входа в Keycloak.
	stateCookieMaxAge = 5 * 60
)

// OIDCFlow — операции OIDC-клиента, нужные входу.
// Реализуется *auth.OIDCClient.
type OIDCFlow interface {
	AuthorizeURL(redirectURI, state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*auth.TokenResponse, error)
	LogoutURL(idTokenHint, postLogoutRedirectURI string) string
}

// AuthHandler — вход и выход сотрудников.
type AuthHandler struct {
	oidc           OIDCFlow
	sessionManager *auth.SessionManager
	// baseURL — публичный адрес приложения (redirect URI и возврат после выхода)
	baseURL string
	logger  *slog.Logger
}

// NewAuthHandler создаёт AuthHandler.
func NewAuthHandler(oidc OIDCFlow, sessionManager *auth.SessionManager, baseURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		oidc:           oidc,
		sessionManager: sessionManager,
		baseURL:        strings.TrimRight(baseURL, "/"),
		logger:         logger.With(slog.String("component", "web_auth")),
	}
}

// stateData — содержимое state cookie.
type stateData struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	// ReturnTo — локальный путь, куда вернуть пользователя после входа
	ReturnTo string `json:"return_to,omitempty"`
}

// HandleLogin — GET /auth/login?returnTo=/...
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	pkce, err := auth.GeneratePKCE()
	if err != nil {
		h.logger.Error("Ошибка генерации PKCE", slog.String("error", err.Error()))
		http.Error(w, "Erro interno do servidor", http.StatusInternalServerError)
		return
	}
	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("Ошибка генерации state", slog.String("error", err.Error()))
		http.Error(w, "Erro interno do servidor", http.StatusInternalServerError)
		return
	}

	sd, _ := json.Marshal(stateData{
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
		ReturnTo:     safeReturnTo(r.URL.Query().Get("returnTo")),
	})
	h.setStateCookie(w, base64.URLEncoding.EncodeToString(sd), stateCookieMaxAge)

	http.Redirect(w, r, h.oidc.AuthorizeURL(h.redirectURI(), state, pkce.CodeChallenge), http.StatusFound)
}

// HandleCallback — GET /auth/callback
// Проверяет state, обменивает code на токены и создаёт сессию.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("Keycloak вернул ошибку авторизации",
			slog.String("error", errCode),
			slog.String("description", q.Get("error_description")),
		)
		http.Error(w, "Falha na autenticação.", http.StatusBadRequest)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Parâmetros de autenticação ausentes.", http.StatusBadRequest)
		return
	}

	sd, err := h.readState(r)
	if err != nil {
		h.logger.Warn("Некорректный state cookie", slog.String("error", err.Error()))
		http.Error(w, "A sessão de login expirou. Tente novamente.", http.StatusBadRequest)
		return
	}
	if sd.State != state {
		h.logger.Warn("State mismatch (возможная CSRF атака)", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "A sessão de login expirou. Tente novamente.", http.StatusBadRequest)
		return
	}
	h.setStateCookie(w, "", -1)

	tokenResp, err := h.oidc.ExchangeCode(r.Context(), code, h.redirectURI(), sd.CodeVerifier)
	if err != nil {
		h.logger.Error("Ошибка обмена code на tokens", slog.String("error", err.Error()))
		http.Error(w, "Falha na autenticação.", http.StatusBadGateway)
		return
	}

	session, err := sessionFromToken(tokenResp)
	if err != nil {
		h.logger.Error("Ошибка извлечения данных из токена", slog.String("error", err.Error()))
		http.Error(w, "Falha na autenticação.", http.StatusInternalServerError)
		return
	}
	if err := h.sessionManager.SetSessionCookie(w, session); err != nil {
		h.logger.Error("Ошибка установки session cookie", slog.String("error", err.Error()))
		http.Error(w, "Erro interno do servidor", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Пользователь вошёл",
		slog.String("user_id", session.Subject),
		slog.String("username", session.Username),
	)
	returnTo := sd.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// HandleLogout — POST /auth/logout
// Удаляет сессию и отправляет пользователя на logout Keycloak.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	idToken := ""
	if session, err := h.sessionManager.GetSessionFromRequest(r); err == nil && session != nil {
		idToken = session.IDToken
		h.logger.Info("Пользователь вышел", slog.String("user_id", session.Subject))
	}
	h.sessionManager.ClearSessionCookie(w)
	http.Redirect(w, r, h.oidc.LogoutURL(idToken, h.baseURL+"/"), http.StatusFound)
}

func (h *AuthHandler) redirectURI() string {
	return h.baseURL + "/auth/callback"
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.sessionManager.Secure(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) readState(r *http.Request) (*stateData, error) {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return nil, err
	}
	raw, err := base64.URLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, fmt.Errorf("декодирование state cookie: %w", err)
	}
	var sd stateData
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("парсинг state cookie: %w", err)
	}
	return &sd, nil
}

// safeReturnTo допускает только локальные пути (защита от open redirect).
func safeReturnTo(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return ""
	}
	return p
}

// idClaims — профиль пользователя из payload access token.
type idClaims struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// sessionFromToken извлекает профиль из access token без проверки подписи:
// токен только что получен напрямую от token endpoint. Подпись проверяется
// на каждом запросе, использующем сессию.
func sessionFromToken(tokenResp *auth.TokenResponse) (*auth.SessionData, error) {
	parts := strings.SplitN(tokenResp.AccessToken, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("некорректный формат JWT: ожидалось 3 сегмента")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования JWT payload: %w", err)
	}
	var claims idClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("ошибка парсинга JWT claims: %w", err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("отсутствует sub в токене")
	}

	return &auth.SessionData{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
		ExpiresAt:    tokenResp.ExpiresAt(),
		Subject:      claims.Sub,
		Username:     claims.PreferredUsername,
		Email:        claims.Email,
	}, nil
}
