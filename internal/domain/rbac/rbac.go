// Пакет rbac — роли, права и логика определения эффективной роли пользователя.
// Реализует двухуровневую авторизацию: роли из IdP + локальные назначения.
// Правила: итоговая роль = max(роль из IdP, локальное назначение).
// Роль можно только повысить, не понизить.
package rbac

// Role — роль пользователя. Закрытое перечисление.
type Role string

// Роли в порядке возрастания привилегий.
const (
	RoleViewer  Role = "VIEWER"
	RoleMember  Role = "MEMBER"
	RoleManager Role = "MANAGER"
	RoleOwner   Role = "OWNER"
)

// Permission — право на привилегированное действие.
type Permission string

const (
	// PermissionViewAllNotes — просмотр нот всех пользователей.
	PermissionViewAllNotes Permission = "VIEW_ALL_NOTES"
	// PermissionCreateNotes — создание нот.
	PermissionCreateNotes Permission = "CREATE_NOTES"
	// PermissionManageUsers — изменение ролей пользователей.
	PermissionManageUsers Permission = "MANAGE_USERS"
	// PermissionManagePermissions — выдача и отзыв прав.
	PermissionManagePermissions Permission = "MANAGE_PERMISSIONS"
	// PermissionManageSettings — изменение системных настроек.
	PermissionManageSettings Permission = "MANAGE_SETTINGS"
	// PermissionExportReports — выгрузка отчётов.
	PermissionExportReports Permission = "EXPORT_REPORTS"
	// PermissionDownloadAnyFile — скачивание файлов чужих нот.
	PermissionDownloadAnyFile Permission = "DOWNLOAD_ANY_FILE"
)

// AllPermissions — полный список прав в стабильном порядке.
var AllPermissions = []Permission{
	PermissionViewAllNotes,
	PermissionCreateNotes,
	PermissionManageUsers,
	PermissionManagePermissions,
	PermissionManageSettings,
	PermissionExportReports,
	PermissionDownloadAnyFile,
}

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[Role]int{
	RoleViewer:  1,
	RoleMember:  2,
	RoleManager: 3,
	RoleOwner:   4,
}

// roleMatrix — права, выдаваемые ролью без явных грантов.
// OWNER и MANAGER получают все права (см. GrantsAll).
var roleMatrix = map[Role][]Permission{
	RoleMember: {PermissionCreateNotes},
	RoleViewer: nil,
}

// GrantsAll сообщает, даёт ли роль все права безусловно.
func GrantsAll(role Role) bool {
	return role == RoleOwner || role == RoleManager
}

// RoleGrants возвращает права, которые роль даёт без явных грантов.
func RoleGrants(role Role) []Permission {
	if GrantsAll(role) {
		return AllPermissions
	}
	return roleMatrix[role]
}

// RoleAllows проверяет право по матрице ролей.
func RoleAllows(role Role, perm Permission) bool {
	for _, p := range RoleGrants(role) {
		if p == perm {
			return true
		}
	}
	return false
}

// EffectiveRole вычисляет итоговую роль = max(idpRole, assigned).
// Если assigned == nil, возвращает idpRole.
func EffectiveRole(idpRole Role, assigned *Role) Role {
	if assigned == nil {
		return idpRole
	}
	return maxRole(idpRole, *assigned)
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b Role) Role {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []Role) Role {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// GroupMapping — соответствие групп IdP ролям.
type GroupMapping struct {
	Owner   []string
	Manager []string
	Member  []string
	Viewer  []string
}

// MapGroupsToRole определяет роль пользователя на основе его групп IdP.
// Возвращает максимальную роль из всех совпадений.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, mapping GroupMapping) Role {
	sets := []struct {
		role Role
		set  map[string]bool
	}{
		{RoleOwner, toSet(mapping.Owner)},
		{RoleManager, toSet(mapping.Manager)},
		{RoleMember, toSet(mapping.Member)},
		{RoleViewer, toSet(mapping.Viewer)},
	}

	var roles []Role
	for _, g := range groups {
		for _, s := range sets {
			if s.set[g] {
				roles = append(roles, s.role)
			}
		}
	}

	return HighestRole(roles)
}

// ParseRole проверяет строку и возвращает роль.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleWeight[r]
	return r, ok
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := ParseRole(role)
	return ok
}

// ParsePermission проверяет строку и возвращает право.
func ParsePermission(s string) (Permission, bool) {
	for _, p := range AllPermissions {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
