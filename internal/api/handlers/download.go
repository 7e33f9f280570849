package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/fadex/notas-fadex/internal/api/middleware"
	"github.com/fadex/notas-fadex/internal/service"
)

// DownloadFile — GET /api/download/{fileId}?token=.
// Пускает по сессии (владелец или DOWNLOAD_ANY_FILE) либо по токену
// аттестации ноты, которой принадлежит файл.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	rc, obj, err := h.downloads.Open(r.Context(), service.DownloadRequest{
		FileID: fileID,
		Actor:  middleware.ActorFromContext(r.Context()),
		Token:  r.URL.Query().Get("token"),
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка скачивания файла", slog.String("file_id", fileID))
		return
	}
	defer rc.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(obj.Name)))
	w.Header().Set("Cache-Control", "private, no-store")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(obj.Size))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Передача файла прервана",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}
