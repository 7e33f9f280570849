// users.go — обработчики /api/v1/me и /api/v1/users.
// Пользователи берутся из Keycloak и дополняются локальными ролями и правами.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/fadex/notas-fadex/internal/api/errors"
	"github.com/fadex/notas-fadex/internal/api/middleware"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

// userResponse — представление пользователя в API.
type userResponse struct {
	ID            string               `json:"id"`
	Username      string               `json:"username"`
	Email         *openapi_types.Email `json:"email,omitempty"`
	FirstName     *string              `json:"firstName,omitempty"`
	LastName      *string              `json:"lastName,omitempty"`
	Enabled       bool                 `json:"enabled"`
	Groups        []string             `json:"groups,omitempty"`
	IdpRole       rbac.Role            `json:"idpRole,omitempty"`
	AssignedRole  *rbac.Role           `json:"assignedRole,omitempty"`
	EffectiveRole rbac.Role            `json:"effectiveRole,omitempty"`
	Permissions   []rbac.Permission    `json:"permissions"`
	CreatedAt     *time.Time           `json:"createdAt,omitempty"`
}

type userListResponse struct {
	Items   []userResponse `json:"items"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"hasMore"`
}

// setRoleRequest — тело PUT /api/v1/users/{id}/role. null снимает назначение.
type setRoleRequest struct {
	Role *string `json:"role"`
}

func mapUser(u *model.User) userResponse {
	result := userResponse{
		ID:            u.ID,
		Username:      u.Username,
		Enabled:       u.Enabled,
		Groups:        u.Groups,
		IdpRole:       u.IdpRole,
		AssignedRole:  u.AssignedRole,
		EffectiveRole: u.EffectiveRole,
		Permissions:   u.Permissions,
	}

	if u.Email != "" {
		email := openapi_types.Email(u.Email)
		result.Email = &email
	}
	if u.FirstName != "" {
		result.FirstName = &u.FirstName
	}
	if u.LastName != "" {
		result.LastName = &u.LastName
	}
	if !u.CreatedAt.IsZero() {
		createdAt := u.CreatedAt
		result.CreatedAt = &createdAt
	}
	if result.Permissions == nil {
		result.Permissions = []rbac.Permission{}
	}

	return result
}

// GetMe — GET /api/v1/me.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Current(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения текущего пользователя")
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

// ListUsers — GET /api/v1/users?search=&limit=&offset=.
// Доступ: MANAGE_USERS.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := readPagination(r)
	if err != nil {
		apierrors.ValidationError(w, "Parâmetros de paginação inválidos.")
		return
	}

	users, total, err := h.users.ListUsers(r.Context(), middleware.ActorFromContext(r.Context()),
		r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка пользователей")
		return
	}

	items := make([]userResponse, len(users))
	for i, u := range users {
		items[i] = mapUser(u)
	}

	writeJSON(w, http.StatusOK, userListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// GetUser — GET /api/v1/users/{id}.
// Доступ: MANAGE_USERS.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.users.GetUser(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения пользователя", slog.String("user_id", id))
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

// SetUserRole — PUT /api/v1/users/{id}/role.
// Доступ: MANAGE_USERS.
func (h *APIHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Corpo da requisição inválido.")
		return
	}

	user, err := h.users.SetRole(r.Context(), middleware.ActorFromContext(r.Context()), id, req.Role)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка назначения роли", slog.String("user_id", id))
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

// GrantPermission — PUT /api/v1/users/{id}/permissions/{permission}.
// Доступ: MANAGE_PERMISSIONS.
func (h *APIHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	perm := chi.URLParam(r, "permission")

	if err := h.users.GrantPermission(r.Context(), middleware.ActorFromContext(r.Context()), id, perm); err != nil {
		h.writeServiceError(w, err, "Ошибка выдачи права",
			slog.String("user_id", id), slog.String("permission", perm))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokePermission — DELETE /api/v1/users/{id}/permissions/{permission}.
// Доступ: MANAGE_PERMISSIONS.
func (h *APIHandler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	perm := chi.URLParam(r, "permission")

	if err := h.users.RevokePermission(r.Context(), middleware.ActorFromContext(r.Context()), id, perm); err != nil {
		h.writeServiceError(w, err, "Ошибка отзыва права",
			slog.String("user_id", id), slog.String("permission", perm))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
