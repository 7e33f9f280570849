// idp.go — обработчики /api/v1/idp endpoints.
package handlers

import (
	"net/http"

	"github.com/fadex/notas-fadex/internal/api/middleware"
)

type idpStatusResponse struct {
	Connected   bool    `json:"connected"`
	Realm       string  `json:"realm"`
	KeycloakURL *string `json:"keycloakUrl,omitempty"`
	UsersCount  *int    `json:"usersCount,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// GetIdpStatus — GET /api/v1/idp/status.
// Статус подключения к Keycloak. Недоступный Keycloak отдаётся как connected=false.
// Доступ: MANAGE_USERS.
func (h *APIHandler) GetIdpStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.idp.GetStatus(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения статуса IdP")
		return
	}

	resp := idpStatusResponse{
		Connected:  status.Connected,
		Realm:      status.Realm,
		UsersCount: status.UsersCount,
		Error:      status.Error,
	}
	if status.KeycloakURL != "" {
		resp.KeycloakURL = &status.KeycloakURL
	}

	writeJSON(w, http.StatusOK, resp)
}
