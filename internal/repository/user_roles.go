package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

// UserRoleRepository — интерфейс CRUD для таблицы user_roles.
type UserRoleRepository interface {
	// Upsert создаёт или обновляет локальное назначение роли.
	Upsert(ctx context.Context, ra *model.RoleAssignment) error
	// GetByUserID возвращает назначение по user ID.
	GetByUserID(ctx context.Context, userID string) (*model.RoleAssignment, error)
	// GetAssignedRole возвращает назначенную роль или nil, если её нет.
	GetAssignedRole(ctx context.Context, userID string) (*rbac.Role, error)
	// Delete удаляет назначение по user ID.
	Delete(ctx context.Context, userID string) error
	// List возвращает все назначения (с пагинацией).
	List(ctx context.Context, limit, offset int) ([]*model.RoleAssignment, error)
}

// userRoleRepo — реализация UserRoleRepository.
type userRoleRepo struct {
	db DBTX
}

// NewUserRoleRepository создаёт репозиторий назначений ролей.
func NewUserRoleRepository(db DBTX) UserRoleRepository {
	return &userRoleRepo{db: db}
}

const urColumns = `id, user_id, username, role, assigned_by, created_at, updated_at`

func (r *userRoleRepo) Upsert(ctx context.Context, ra *model.RoleAssignment) error {
	query := `
		INSERT INTO user_roles (id, user_id, username, role, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			role = EXCLUDED.role,
			assigned_by = EXCLUDED.assigned_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	if ra.ID == "" {
		ra.ID = uuid.New().String()
	}
	err := r.db.QueryRow(ctx, query,
		ra.ID, ra.UserID, ra.Username, ra.Role, ra.AssignedBy,
	).Scan(&ra.ID, &ra.CreatedAt, &ra.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert назначения роли: %w", err)
	}
	return nil
}

func (r *userRoleRepo) GetByUserID(ctx context.Context, userID string) (*model.RoleAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_roles WHERE user_id = $1`, urColumns)

	ra := &model.RoleAssignment{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&ra.ID, &ra.UserID, &ra.Username, &ra.Role,
		&ra.AssignedBy, &ra.CreatedAt, &ra.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения назначения роли: %w", err)
	}
	return ra, nil
}

func (r *userRoleRepo) GetAssignedRole(ctx context.Context, userID string) (*rbac.Role, error) {
	ra, err := r.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	role := ra.Role
	return &role, nil
}

func (r *userRoleRepo) Delete(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления назначения роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRoleRepo) List(ctx context.Context, limit, offset int) ([]*model.RoleAssignment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM user_roles
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, urColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка назначений ролей: %w", err)
	}
	defer rows.Close()

	var result []*model.RoleAssignment
	for rows.Next() {
		ra := &model.RoleAssignment{}
		if err := rows.Scan(
			&ra.ID, &ra.UserID, &ra.Username, &ra.Role,
			&ra.AssignedBy, &ra.CreatedAt, &ra.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования назначения роли: %w", err)
		}
		result = append(result, ra)
	}
	return result, rows.Err()
}
