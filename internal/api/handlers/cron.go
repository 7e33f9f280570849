// cron.go — задачи планировщика. Доступ проверяет middleware.CronAuth.
package handlers

import (
	"net/http"
)

type sweepResponse struct {
	Success             bool `json:"success"`
	UpdatedCount        int  `json:"updatedCount"`
	NotificationsFailed int  `json:"notificationsFailed"`
}

type remindersResponse struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
}

// CheckExpirations — GET /api/cron/check-expirations.
func (h *APIHandler) CheckExpirations(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweep.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка проверки сроков аттестации")
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		Success:             true,
		UpdatedCount:        res.UpdatedCount,
		NotificationsFailed: res.NotificationsFailed,
	})
}

// SendReminders — GET /api/cron/send-reminders.
func (h *APIHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	res, err := h.reminders.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка рассылки напоминаний")
		return
	}
	writeJSON(w, http.StatusOK, remindersResponse{
		Success: true,
		Sent:    res.Sent,
		Failed:  res.Failed,
		Skipped: res.Skipped,
	})
}
