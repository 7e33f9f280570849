// settings.go — обработчики /api/v1/settings.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/fadex/notas-fadex/internal/api/errors"
	"github.com/fadex/notas-fadex/internal/api/middleware"
)

type settingResponse struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// ListSettings — GET /api/v1/settings.
func (h *APIHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	h.writeSettings(w, r)
}

// UpdateSettings — PUT /api/v1/settings.
// Тело — объект {"ключ": "значение"}. Ключи применяются по алфавиту;
// при ошибке уже применённые ключи остаются сохранёнными.
// Доступ: MANAGE_SETTINGS.
func (h *APIHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Corpo da requisição inválido.")
		return
	}
	if len(req) == 0 {
		apierrors.ValidationError(w, "Nenhuma configuração informada.")
		return
	}

	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	actor := middleware.ActorFromContext(r.Context())
	for _, key := range keys {
		if err := h.settings.Set(r.Context(), actor, key, req[key]); err != nil {
			h.writeServiceError(w, err, "Ошибка сохранения настройки", slog.String("key", key))
			return
		}
	}

	h.writeSettings(w, r)
}

// DeleteSetting — DELETE /api/v1/settings/{key}. Возвращает значение по умолчанию.
// Доступ: MANAGE_SETTINGS.
func (h *APIHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.settings.Delete(r.Context(), middleware.ActorFromContext(r.Context()), key); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления настройки", slog.String("key", key))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) writeSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения настроек")
		return
	}

	items := make([]settingResponse, len(settings))
	for i, s := range settings {
		items[i] = settingResponse{
			Key:       s.Key,
			Value:     s.Value,
			UpdatedAt: s.UpdatedAt,
			UpdatedBy: s.UpdatedBy,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
