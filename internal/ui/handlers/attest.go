package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apihandlers "github.com/fadex/notas-fadex/internal/api/handlers"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/service"
	"github.com/fadex/notas-fadex/internal/ui/pages"
)

// NoteLookup — поиск ноты по токену аттестации.
// Реализуется *service.AttestationService.
type NoteLookup interface {
	NoteForToken(ctx context.Context, tok string) (*model.FiscalNote, *service.Result)
	FileURL(fileID, tok string) string
}

// AttestHandler — публичная страница /attest/{token}.
type AttestHandler struct {
	lookup NoteLookup
	logger *slog.Logger
}

// NewAttestHandler создаёт AttestHandler.
func NewAttestHandler(lookup NoteLookup, logger *slog.Logger) *AttestHandler {
	return &AttestHandler{
		lookup: lookup,
		logger: logger.With(slog.String("component", "attest_page")),
	}
}

// HandleAttestPage — GET /attest/{token}.
// Просроченная или чужая ссылка и уже обработанная нота дают страницу с сообщением.
func (h *AttestHandler) HandleAttestPage(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")

	data := pages.AttestPageData{Token: tok}
	status := http.StatusOK

	note, res := h.lookup.NoteForToken(r.Context(), tok)
	if res != nil {
		data.Message = res.Message
		status = apihandlers.ResultStatus(res.Code)
	} else {
		data.Note = h.summary(note, tok)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(status)
	if err := pages.AttestPage(data).Render(r.Context(), w); err != nil {
		h.logger.Error("Ошибка рендера страницы аттестации", slog.String("error", err.Error()))
	}
}

func (h *AttestHandler) summary(n *model.FiscalNote, tok string) *pages.NoteSummary {
	s := &pages.NoteSummary{
		ID:                   n.ID,
		NumeroNota:           n.NumeroNota,
		Amount:               model.FormatBRL(n.Amount),
		IssueDate:            model.FormatDateBR(n.IssueDate),
		Deadline:             model.FormatDateBR(n.AttestationDeadline),
		ProjectTitle:         n.ProjectTitle,
		ProjectAccountNumber: n.ProjectAccountNumber,
		Requester:            n.Requester,
		Description:          n.Description,
		CoordinatorEmail:     n.CoordinatorEmail,
	}
	if n.DriveFileID != nil {
		s.FileURL = h.lookup.FileURL(*n.DriveFileID, tok)
	}
	return s
}
