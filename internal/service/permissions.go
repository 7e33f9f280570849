// permissions.go — проверка прав пользователя.
// OWNER и MANAGER имеют все права; остальным нужна явная выдача
// (permission_grants) или право, входящее в матрицу роли.
package service

import (
	"context"
	"fmt"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

// GrantChecker — проверка явной выдачи права.
// Реализуется repository.PermissionGrantRepository.
type GrantChecker interface {
	Exists(ctx context.Context, userID string, perm rbac.Permission) (bool, error)
}

// PermissionGate — точка принятия решений о доступе.
type PermissionGate struct {
	grants GrantChecker
}

// NewPermissionGate создаёт PermissionGate.
func NewPermissionGate(grants GrantChecker) *PermissionGate {
	return &PermissionGate{grants: grants}
}

// HasPermission сообщает, обладает ли actor правом perm.
// Неаутентифицированный actor (nil или без ID) не имеет прав.
func (g *PermissionGate) HasPermission(ctx context.Context, actor *model.Actor, perm rbac.Permission) (bool, error) {
	if actor == nil || actor.ID == "" {
		return false, nil
	}
	if rbac.RoleAllows(actor.Role, perm) {
		return true, nil
	}
	ok, err := g.grants.Exists(ctx, actor.ID, perm)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки права %s для %s: %w", perm, actor.ID, err)
	}
	return ok, nil
}

// Require возвращает ErrUnauthenticated или ErrForbidden, если права нет.
func (g *PermissionGate) Require(ctx context.Context, actor *model.Actor, perm rbac.Permission) error {
	if actor == nil || actor.ID == "" {
		return ErrUnauthenticated
	}
	ok, err := g.HasPermission(ctx, actor, perm)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: требуется %s", ErrForbidden, perm)
	}
	return nil
}
