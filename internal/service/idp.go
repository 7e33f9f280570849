// idp.go — сервис статуса Identity Provider (Keycloak).
// GetStatus — проверка подключения, RealmInfo, подсчёт пользователей.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/keycloak"
)

// RealmInspector — чтение сведений о realm.
// Реализуется *keycloak.Client.
type RealmInspector interface {
	RealmInfo(ctx context.Context) (*keycloak.Realm, error)
	CountUsers(ctx context.Context) (int, error)
}

// IDPService — сервис статуса Identity Provider.
type IDPService struct {
	kcClient    RealmInspector
	gate        *PermissionGate
	keycloakURL string
	realm       string
	logger      *slog.Logger
}

// IDPStatus — статус подключения к Keycloak.
type IDPStatus struct {
	Connected   bool
	Realm       string
	KeycloakURL string
	UsersCount  *int
	Error       *string
}

// NewIDPService создаёт сервис статуса IdP.
func NewIDPService(
	kcClient RealmInspector,
	gate *PermissionGate,
	keycloakURL, realm string,
	logger *slog.Logger,
) *IDPService {
	return &IDPService{
		kcClient:    kcClient,
		gate:        gate,
		keycloakURL: keycloakURL,
		realm:       realm,
		logger:      logger.With(slog.String("component", "idp_service")),
	}
}

// GetStatus возвращает статус подключения к Keycloak. Требует MANAGE_USERS.
func (s *IDPService) GetStatus(ctx context.Context, actor *model.Actor) (*IDPStatus, error) {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManageUsers); err != nil {
		return nil, err
	}

	status := &IDPStatus{
		Realm:       s.realm,
		KeycloakURL: s.keycloakURL,
	}

	if _, err := s.kcClient.RealmInfo(ctx); err != nil {
		errMsg := fmt.Sprintf("Keycloak недоступен: %v", err)
		status.Error = &errMsg
		return status, nil
	}
	status.Connected = true

	usersCount, err := s.kcClient.CountUsers(ctx)
	if err != nil {
		s.logger.Warn("Ошибка подсчёта пользователей", slog.String("error", err.Error()))
	} else {
		status.UsersCount = &usersCount
	}
	return status, nil
}
