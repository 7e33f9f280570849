// Пакет middleware — web-сессии для API Notas Fadex.
// auth.go — чтение сессии из cookie и авто-refresh токенов Keycloak.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fadex/notas-fadex/internal/ui/auth"
)

// TokenRefresher — обновление токенов по refresh token.
// Реализуется *auth.OIDCClient.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
}

// Sessions отдаёт access token из session cookie, обновляя его через Keycloak,
// когда он близок к истечению. Повреждённая или необновляемая сессия удаляется.
type Sessions struct {
	sessionManager *auth.SessionManager
	refresher      TokenRefresher
	logger         *slog.Logger
}

// NewSessions создаёт источник токенов из web-сессий.
func NewSessions(sessionManager *auth.SessionManager, refresher TokenRefresher, logger *slog.Logger) *Sessions {
	return &Sessions{
		sessionManager: sessionManager,
		refresher:      refresher,
		logger:         logger.With(slog.String("component", "web_sessions")),
	}
}

// AccessToken возвращает действующий access token сессии или пустую строку.
func (s *Sessions) AccessToken(w http.ResponseWriter, r *http.Request) string {
	session, err := s.sessionManager.GetSessionFromRequest(r)
	if err != nil {
		s.logger.Debug("Ошибка чтения сессии",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		s.sessionManager.ClearSessionCookie(w)
		return ""
	}
	if session == nil {
		return ""
	}
	if !session.IsExpired() {
		return session.AccessToken
	}

	refreshed, err := s.refresh(r.Context(), session)
	if err != nil {
		s.logger.Info("Не удалось обновить сессию",
			slog.String("username", session.Username),
			slog.String("error", err.Error()),
		)
		s.sessionManager.ClearSessionCookie(w)
		return ""
	}
	if err := s.sessionManager.SetSessionCookie(w, refreshed); err != nil {
		s.logger.Error("Ошибка обновления session cookie", slog.String("error", err.Error()))
		return ""
	}
	s.logger.Debug("Сессия обновлена через refresh token", slog.String("username", session.Username))
	return refreshed.AccessToken
}

// refresh обменивает refresh token на новую пару токенов, сохраняя профиль.
func (s *Sessions) refresh(ctx context.Context, session *auth.SessionData) (*auth.SessionData, error) {
	tokenResp, err := s.refresher.RefreshTokens(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}
	next := *session
	next.AccessToken = tokenResp.AccessToken
	next.RefreshToken = tokenResp.RefreshToken
	next.ExpiresAt = tokenResp.ExpiresAt()
	if tokenResp.IDToken != "" {
		next.IDToken = tokenResp.IDToken
	}
	return &next, nil
}
