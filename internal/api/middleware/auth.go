// auth.go — аутентификация запросов Notas Fadex.
// Субъект берётся из Bearer JWT Keycloak либо из зашифрованной web-сессии;
// группы IdP маппятся в роль, локальное назначение роли может её только повысить.
// Результат — *model.Actor в контексте запроса.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/fadex/notas-fadex/internal/api/errors"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

type contextKey string

// ContextKeyActor — аутентифицированный субъект в контексте запроса.
const ContextKeyActor contextKey = "actor"

// AssignedRoleProvider — чтение локального назначения роли.
// Реализуется repository.UserRoleRepository.
type AssignedRoleProvider interface {
	// GetAssignedRole возвращает nil, nil если назначения нет.
	GetAssignedRole(ctx context.Context, userID string) (*rbac.Role, error)
}

// SessionTokenSource — access token из web-сессии.
// Возвращает пустую строку, если сессии нет или она недействительна.
type SessionTokenSource interface {
	AccessToken(w http.ResponseWriter, r *http.Request) string
}

// keycloakClaims — claims access token Keycloak.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	Email             string       `json:"email"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// Authenticator — проверка JWT через JWKS Keycloak и сборка Actor.
type Authenticator struct {
	jwks     keyfunc.Keyfunc
	roles    AssignedRoleProvider
	sessions SessionTokenSource
	groups   rbac.GroupMapping
	issuer   string
	leeway   time.Duration
	logger   *slog.Logger
}

// AuthOptions — параметры Authenticator.
type AuthOptions struct {
	// Issuer — ожидаемый iss (пустой — не проверяется)
	Issuer string
	// Leeway — допустимое отклонение часов
	Leeway time.Duration
	// Groups — маппинг групп IdP в роли
	Groups rbac.GroupMapping
	// Roles — локальные назначения ролей (может быть nil)
	Roles AssignedRoleProvider
	// Sessions — web-сессии (может быть nil)
	Sessions SessionTokenSource
}

// NewAuthenticator создаёт Authenticator с JWKS из Keycloak.
// Ключи обновляются в фоне каждые refreshInterval; первый запрос к JWKS
// не блокирует старт, если Keycloak ещё недоступен.
func NewAuthenticator(
	jwksURL string,
	clientTimeout, refreshInterval time.Duration,
	opts AuthOptions,
	logger *slog.Logger,
) (*Authenticator, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: clientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewAuthenticatorWithKeyfunc(k, opts, logger), nil
}

// NewAuthenticatorWithKeyfunc создаёт Authenticator с готовой keyfunc (тесты).
func NewAuthenticatorWithKeyfunc(kf keyfunc.Keyfunc, opts AuthOptions, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		jwks:     kf,
		roles:    opts.Roles,
		sessions: opts.Sessions,
		groups:   opts.Groups,
		issuer:   opts.Issuer,
		leeway:   opts.Leeway,
		logger:   logger.With(slog.String("component", "auth")),
	}
}

// Middleware определяет субъекта запроса, но не требует его.
// Некорректный Bearer token — 401: клиент явно предъявил учётные данные.
// Недействительная сессия просто не даёт субъекта.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header := r.Header.Get("Authorization"); header != "" {
				scheme, raw, ok := strings.Cut(header, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
					apierrors.Unauthorized(w, "Formato de autorização inválido.")
					return
				}
				actor, err := a.Authenticate(r.Context(), raw)
				if err != nil {
					a.logger.Debug("JWT валидация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
					apierrors.Unauthorized(w, "Token inválido ou expirado.")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}

			if a.sessions != nil {
				if raw := a.sessions.AccessToken(w, r); raw != "" {
					actor, err := a.Authenticate(r.Context(), raw)
					if err == nil {
						r = r.WithContext(WithActor(r.Context(), actor))
					} else {
						a.logger.Debug("Токен сессии не прошёл проверку",
							slog.String("error", err.Error()),
						)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate проверяет подпись RS256, срок и issuer токена и собирает Actor.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*model.Actor, error) {
	claims := &keycloakClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	tok, err := jwt.ParseWithClaims(raw, claims, a.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, fmt.Errorf("невалидный токен")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("отсутствует sub в токене")
	}

	return &model.Actor{
		ID:       claims.Subject,
		Username: claims.PreferredUsername,
		Email:    claims.Email,
		Role:     a.resolveRole(ctx, claims),
	}, nil
}

// resolveRole: группы IdP, затем realm_access.roles, затем локальное повышение.
func (a *Authenticator) resolveRole(ctx context.Context, claims *keycloakClaims) rbac.Role {
	idpRole := rbac.MapGroupsToRole(claims.Groups, a.groups)
	if idpRole == "" && claims.RealmAccess != nil {
		var realmRoles []rbac.Role
		for _, r := range claims.RealmAccess.Roles {
			if role, ok := rbac.ParseRole(r); ok {
				realmRoles = append(realmRoles, role)
			}
		}
		idpRole = rbac.HighestRole(realmRoles)
	}

	var assigned *rbac.Role
	if a.roles != nil {
		var err error
		assigned, err = a.roles.GetAssignedRole(ctx, claims.Subject)
		if err != nil {
			a.logger.Warn("Ошибка получения назначенной роли",
				slog.String("user_id", claims.Subject),
				slog.String("error", err.Error()),
			)
			assigned = nil
		}
	}
	return rbac.EffectiveRole(idpRole, assigned)
}

// RequireActor отклоняет запросы без аутентифицированного субъекта.
// Используется после Authenticator.Middleware().
func RequireActor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ActorFromContext(r.Context()) == nil {
				apierrors.Unauthorized(w, "Autenticação necessária.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithActor помещает субъекта в контекст.
func WithActor(ctx context.Context, actor *model.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// ActorFromContext извлекает субъекта из контекста (nil, если нет).
func ActorFromContext(ctx context.Context) *model.Actor {
	actor, _ := ctx.Value(ContextKeyActor).(*model.Actor)
	return actor
}

// --- ReadinessChecker для Keycloak ---

// KeycloakReadinessChecker — проверка доступности Keycloak через JWKS.
type KeycloakReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewKeycloakReadinessChecker создаёт checker доступности Keycloak.
func NewKeycloakReadinessChecker(jwksURL string, timeout time.Duration) *KeycloakReadinessChecker {
	return &KeycloakReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusFail = "fail"

// CheckReady проверяет, что JWKS endpoint отдаёт хотя бы один ключ.
func (k *KeycloakReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации Keycloak
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("Keycloak JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("Keycloak JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "Keycloak JWKS: нет ключей"
	}
	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
