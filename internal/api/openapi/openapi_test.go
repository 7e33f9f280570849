package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/routers/legacy"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if doc.Info.Title != "Notas Fadex API" {
		t.Errorf("title = %q", doc.Info.Title)
	}
}

// TestRoutesDescribed проверяет, что публичные маршруты сервера описаны в документе.
func TestRoutesDescribed(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		t.Fatalf("NewRouter() ошибка: %v", err)
	}

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health/live"},
		{http.MethodGet, "/health/ready"},
		{http.MethodGet, "/api/public/notes?token=t"},
		{http.MethodPost, "/api/public/attest"},
		{http.MethodPost, "/api/public/reject"},
		{http.MethodGet, "/api/download/abc"},
		{http.MethodGet, "/api/cron/check-expirations"},
		{http.MethodGet, "/api/cron/send-reminders"},
		{http.MethodGet, "/api/v1/notes"},
		{http.MethodPost, "/api/v1/notes"},
		{http.MethodGet, "/api/v1/notes/export"},
		{http.MethodGet, "/api/v1/notes/3f1c7f8e-8a0c-4c4e-9a55-0d3c1b6c2f10"},
		{http.MethodGet, "/api/v1/notes/3f1c7f8e-8a0c-4c4e-9a55-0d3c1b6c2f10/history"},
		{http.MethodPost, "/api/v1/notes/3f1c7f8e-8a0c-4c4e-9a55-0d3c1b6c2f10/resend"},
		{http.MethodGet, "/api/v1/me"},
		{http.MethodGet, "/api/v1/users"},
		{http.MethodGet, "/api/v1/users/u1"},
		{http.MethodPut, "/api/v1/users/u1/role"},
		{http.MethodPut, "/api/v1/users/u1/permissions/EXPORT_REPORTS"},
		{http.MethodDelete, "/api/v1/users/u1/permissions/EXPORT_REPORTS"},
		{http.MethodGet, "/api/v1/settings"},
		{http.MethodPut, "/api/v1/settings"},
		{http.MethodDelete, "/api/v1/settings/reminder.enabled"},
		{http.MethodGet, "/api/v1/idp/status"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			if _, _, err := router.FindRoute(req); err != nil {
				t.Errorf("маршрут не описан: %v", err)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	h, err := Handler(doc)
	if err != nil {
		t.Fatalf("Handler() ошибка: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if body["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", body["openapi"])
	}
}
