package model

import (
	"time"

	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

// Actor — аутентифицированный субъект запроса.
// Передаётся явно в сервисы вместо глобального состояния сессии.
type Actor struct {
	// ID — subject из IdP
	ID string
	// Username — preferred_username
	Username string
	// Email — адрес электронной почты
	Email string
	// Role — итоговая роль (пусто, если группы IdP не сопоставлены)
	Role rbac.Role
}

// DisplayName возвращает имя для истории и писем.
func (a *Actor) DisplayName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

// User — пользователь из Keycloak с локальными дополнениями роли и прав.
// Не хранится в БД целиком — собирается из Keycloak + user_roles + permission_grants.
type User struct {
	// ID — Keycloak user ID (sub)
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Enabled   bool
	// Groups — группы пользователя из IdP
	Groups []string
	// IdpRole — роль, вычисленная из групп IdP
	IdpRole rbac.Role
	// AssignedRole — локальное назначение роли (nil если нет)
	AssignedRole *rbac.Role
	// EffectiveRole — max(IdpRole, AssignedRole)
	EffectiveRole rbac.Role
	// Permissions — явно выданные права
	Permissions []rbac.Permission
	CreatedAt   time.Time
}

// RoleAssignment — локальное назначение роли пользователю.
// Хранится в таблице user_roles. Роль может быть только повышена относительно IdP.
type RoleAssignment struct {
	ID     string
	UserID string
	// Username — кэшированное имя пользователя
	Username string
	Role     rbac.Role
	// AssignedBy — кто назначил роль
	AssignedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PermissionGrant — явное право пользователя (таблица permission_grants).
type PermissionGrant struct {
	UserID     string
	Permission rbac.Permission
	GrantedBy  string
	GrantedAt  time.Time
}
