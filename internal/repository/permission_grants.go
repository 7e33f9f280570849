package repository

import (
	"context"
	"fmt"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

// PermissionGrantRepository — таблица permission_grants, ключ (user_id, permission).
type PermissionGrantRepository interface {
	// Exists сообщает, выдано ли право пользователю.
	Exists(ctx context.Context, userID string, perm rbac.Permission) (bool, error)
	// Grant выдаёт право. Повторная выдача не ошибка.
	Grant(ctx context.Context, g *model.PermissionGrant) error
	// Revoke отзывает право. Если права не было — ErrNotFound.
	Revoke(ctx context.Context, userID string, perm rbac.Permission) error
	// ListByUser возвращает права пользователя.
	ListByUser(ctx context.Context, userID string) ([]model.PermissionGrant, error)
}

// permissionGrantRepo — реализация PermissionGrantRepository.
type permissionGrantRepo struct {
	db DBTX
}

// NewPermissionGrantRepository создаёт репозиторий прав.
func NewPermissionGrantRepository(db DBTX) PermissionGrantRepository {
	return &permissionGrantRepo{db: db}
}

func (r *permissionGrantRepo) Exists(ctx context.Context, userID string, perm rbac.Permission) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM permission_grants WHERE user_id = $1 AND permission = $2
		)`, userID, perm).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки права %s: %w", perm, err)
	}
	return exists, nil
}

func (r *permissionGrantRepo) Grant(ctx context.Context, g *model.PermissionGrant) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO permission_grants (user_id, permission, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, permission) DO UPDATE SET granted_by = permission_grants.granted_by
		RETURNING granted_by, granted_at`,
		g.UserID, g.Permission, g.GrantedBy,
	).Scan(&g.GrantedBy, &g.GrantedAt)
	if err != nil {
		return fmt.Errorf("ошибка выдачи права %s: %w", g.Permission, err)
	}
	return nil
}

func (r *permissionGrantRepo) Revoke(ctx context.Context, userID string, perm rbac.Permission) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM permission_grants WHERE user_id = $1 AND permission = $2`, userID, perm)
	if err != nil {
		return fmt.Errorf("ошибка отзыва права %s: %w", perm, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *permissionGrantRepo) ListByUser(ctx context.Context, userID string) ([]model.PermissionGrant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, permission, granted_by, granted_at
		FROM permission_grants
		WHERE user_id = $1
		ORDER BY permission`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения прав пользователя: %w", err)
	}
	defer rows.Close()

	var result []model.PermissionGrant
	for rows.Next() {
		var g model.PermissionGrant
		if err := rows.Scan(&g.UserID, &g.Permission, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования права: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}
