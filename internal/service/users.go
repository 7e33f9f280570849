// users.go — сервис управления пользователями (Keycloak + локальные роли и права).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/keycloak"
	"github.com/fadex/notas-fadex/internal/repository"
)

// UserDirectory — чтение пользователей из IdP.
// Реализуется *keycloak.Client.
type UserDirectory interface {
	ListUsers(ctx context.Context, query string, first, max int) ([]keycloak.User, error)
	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id string) (*keycloak.User, error)
	GetUserGroups(ctx context.Context, userID string) ([]keycloak.Group, error)
}

// UserService — сервис управления пользователями.
// Объединяет данные из Keycloak (основной источник) с локальными ролями и правами.
type UserService struct {
	directory UserDirectory
	roleRepo  repository.UserRoleRepository
	grantRepo repository.PermissionGrantRepository
	gate      *PermissionGate
	groups    rbac.GroupMapping
	logger    *slog.Logger
}

// NewUserService создаёт сервис управления пользователями.
func NewUserService(
	directory UserDirectory,
	roleRepo repository.UserRoleRepository,
	grantRepo repository.PermissionGrantRepository,
	gate *PermissionGate,
	groups rbac.GroupMapping,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		directory: directory,
		roleRepo:  roleRepo,
		grantRepo: grantRepo,
		gate:      gate,
		groups:    groups,
		logger:    logger.With(slog.String("component", "users_service")),
	}
}

// Current возвращает данные текущего пользователя с правами.
func (s *UserService) Current(ctx context.Context, actor *model.Actor) (*model.User, error) {
	if actor == nil || actor.ID == "" {
		return nil, ErrUnauthenticated
	}
	user := &model.User{
		ID:            actor.ID,
		Username:      actor.Username,
		Email:         actor.Email,
		EffectiveRole: actor.Role,
		Enabled:       true,
	}
	assigned, err := s.roleRepo.GetAssignedRole(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("получение назначенной роли: %w", err)
	}
	user.AssignedRole = assigned

	perms, err := s.effectivePermissions(ctx, actor.ID, actor.Role)
	if err != nil {
		return nil, err
	}
	user.Permissions = perms
	return user, nil
}

// ListUsers возвращает пользователей из Keycloak с локальными ролями.
// Требует MANAGE_USERS.
func (s *UserService) ListUsers(ctx context.Context, actor *model.Actor, search string, limit, offset int) ([]*model.User, int, error) {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManageUsers); err != nil {
		return nil, 0, err
	}

	kcUsers, err := s.directory.ListUsers(ctx, search, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: получение пользователей: %v", ErrIDPUnavailable, err)
	}
	total, err := s.directory.CountUsers(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: подсчёт пользователей: %v", ErrIDPUnavailable, err)
	}

	users := make([]*model.User, 0, len(kcUsers))
	for i := range kcUsers {
		user, err := s.enrichUser(ctx, &kcUsers[i])
		if err != nil {
			s.logger.Warn("Ошибка обогащения пользователя",
				slog.String("user_id", kcUsers[i].ID),
				slog.String("error", err.Error()),
			)
			users = append(users, basicUser(&kcUsers[i]))
			continue
		}
		users = append(users, user)
	}
	return users, total, nil
}

// GetUser возвращает пользователя по Keycloak ID. Требует MANAGE_USERS.
func (s *UserService) GetUser(ctx context.Context, actor *model.Actor, id string) (*model.User, error) {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManageUsers); err != nil {
		return nil, err
	}
	return s.loadUser(ctx, id)
}

// SetRole назначает или снимает (role == nil) локальную роль.
// Требует MANAGE_USERS; назначать OWNER может только OWNER.
func (s *UserService) SetRole(ctx context.Context, actor *model.Actor, id string, role *string) (*model.User, error) {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManageUsers); err != nil {
		return nil, err
	}

	kcUser, err := s.getDirectoryUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if role == nil {
		if err := s.roleRepo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("удаление назначенной роли: %w", err)
		}
		s.logger.Info("Назначенная роль снята",
			slog.String("user_id", id),
			slog.String("by", actor.DisplayName()),
		)
		return s.loadUser(ctx, id)
	}

	r, ok := rbac.ParseRole(*role)
	if !ok {
		return nil, ErrInvalidRole
	}
	if r == rbac.RoleOwner && actor.Role != rbac.RoleOwner {
		return nil, fmt.Errorf("%w: назначить OWNER может только OWNER", ErrForbidden)
	}

	ra := &model.RoleAssignment{
		UserID:     id,
		Username:   kcUser.Username,
		Role:       r,
		AssignedBy: actor.DisplayName(),
	}
	if err := s.roleRepo.Upsert(ctx, ra); err != nil {
		return nil, fmt.Errorf("назначение роли: %w", err)
	}

	s.logger.Info("Роль назначена",
		slog.String("user_id", id),
		slog.String("role", string(r)),
		slog.String("by", actor.DisplayName()),
	)
	return s.loadUser(ctx, id)
}

// GrantPermission выдаёт право пользователю. Требует MANAGE_PERMISSIONS.
func (s *UserService) GrantPermission(ctx context.Context, actor *model.Actor, userID, permission string) error {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManagePermissions); err != nil {
		return err
	}
	perm, ok := rbac.ParsePermission(permission)
	if !ok {
		return fmt.Errorf("%w: неизвестное право %q", ErrValidation, permission)
	}
	if _, err := s.getDirectoryUser(ctx, userID); err != nil {
		return err
	}

	if err := s.grantRepo.Grant(ctx, &model.PermissionGrant{
		UserID:     userID,
		Permission: perm,
		GrantedBy:  actor.DisplayName(),
	}); err != nil {
		return fmt.Errorf("выдача права %s: %w", perm, err)
	}

	s.logger.Info("Право выдано",
		slog.String("user_id", userID),
		slog.String("permission", string(perm)),
		slog.String("by", actor.DisplayName()),
	)
	return nil
}

// RevokePermission отзывает право. Требует MANAGE_PERMISSIONS.
func (s *UserService) RevokePermission(ctx context.Context, actor *model.Actor, userID, permission string) error {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManagePermissions); err != nil {
		return err
	}
	perm, ok := rbac.ParsePermission(permission)
	if !ok {
		return fmt.Errorf("%w: неизвестное право %q", ErrValidation, permission)
	}

	if err := s.grantRepo.Revoke(ctx, userID, perm); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("отзыв права %s: %w", perm, err)
	}

	s.logger.Info("Право отозвано",
		slog.String("user_id", userID),
		slog.String("permission", string(perm)),
		slog.String("by", actor.DisplayName()),
	)
	return nil
}

// loadUser возвращает обогащённого пользователя, при ошибке обогащения — базового.
func (s *UserService) loadUser(ctx context.Context, id string) (*model.User, error) {
	kcUser, err := s.getDirectoryUser(ctx, id)
	if err != nil {
		return nil, err
	}
	user, err := s.enrichUser(ctx, kcUser)
	if err != nil {
		s.logger.Warn("Ошибка обогащения пользователя, используем базовые данные",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		return basicUser(kcUser), nil
	}
	return user, nil
}

func (s *UserService) getDirectoryUser(ctx context.Context, id string) (*keycloak.User, error) {
	kcUser, err := s.directory.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: получение пользователя: %v", ErrIDPUnavailable, err)
	}
	return kcUser, nil
}

// enrichUser дополняет пользователя Keycloak группами, ролями и правами.
func (s *UserService) enrichUser(ctx context.Context, kcUser *keycloak.User) (*model.User, error) {
	kcGroups, err := s.directory.GetUserGroups(ctx, kcUser.ID)
	if err != nil {
		return nil, fmt.Errorf("получение групп: %w", err)
	}
	groups := make([]string, len(kcGroups))
	for i, g := range kcGroups {
		groups[i] = g.Name
	}

	idpRole := rbac.MapGroupsToRole(groups, s.groups)
	assigned, err := s.roleRepo.GetAssignedRole(ctx, kcUser.ID)
	if err != nil {
		return nil, fmt.Errorf("получение назначенной роли: %w", err)
	}
	effective := rbac.EffectiveRole(idpRole, assigned)

	perms, err := s.effectivePermissions(ctx, kcUser.ID, effective)
	if err != nil {
		return nil, err
	}

	user := basicUser(kcUser)
	user.Groups = groups
	user.IdpRole = idpRole
	user.AssignedRole = assigned
	user.EffectiveRole = effective
	user.Permissions = perms
	return user, nil
}

// effectivePermissions объединяет права роли и явные выдачи.
func (s *UserService) effectivePermissions(ctx context.Context, userID string, role rbac.Role) ([]rbac.Permission, error) {
	if rbac.GrantsAll(role) {
		return rbac.AllPermissions, nil
	}
	grants, err := s.grantRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение прав пользователя: %w", err)
	}

	has := make(map[rbac.Permission]bool)
	for _, p := range rbac.RoleGrants(role) {
		has[p] = true
	}
	for _, g := range grants {
		has[g.Permission] = true
	}
	perms := make([]rbac.Permission, 0, len(has))
	for _, p := range rbac.AllPermissions {
		if has[p] {
			perms = append(perms, p)
		}
	}
	return perms, nil
}

// basicUser создаёт User без обогащения (fallback при ошибке).
func basicUser(kcUser *keycloak.User) *model.User {
	return &model.User{
		ID:        kcUser.ID,
		Username:  kcUser.Username,
		Email:     kcUser.Email,
		FirstName: kcUser.FirstName,
		LastName:  kcUser.LastName,
		Enabled:   kcUser.Enabled,
		CreatedAt: kcUser.CreatedAt(),
	}
}
