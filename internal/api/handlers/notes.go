// notes.go — обработчики /api/v1/notes: создание, список, карточка,
// история, повторная отправка ссылки и выгрузка отчёта.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	apierrors "github.com/fadex/notas-fadex/internal/api/errors"
	"github.com/fadex/notas-fadex/internal/api/middleware"
	"github.com/fadex/notas-fadex/internal/domain/lifecycle"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/service"
)

// multipartOverhead — запас на поля формы сверх размера PDF.
const multipartOverhead = 1 << 20

// --- DTO ---

// createNoteRequest — JSON-тело POST /api/v1/notes (без файла).
type createNoteRequest struct {
	NumeroNota           string              `json:"numeroNota"`
	Amount               decimal.Decimal     `json:"amount"`
	IssueDate            openapi_types.Date  `json:"issueDate"`
	Description          string              `json:"description"`
	ProjectAccountNumber string              `json:"projectAccountNumber"`
	ProjectTitle         string              `json:"projectTitle"`
	Requester            string              `json:"requester"`
	RequesterEmail       openapi_types.Email `json:"requesterEmail"`
	CoordinatorEmail     openapi_types.Email `json:"coordinatorEmail"`
}

// noteResponse — представление ноты в API.
type noteResponse struct {
	ID                   string              `json:"id"`
	NumeroNota           string              `json:"numeroNota"`
	Status               model.NoteStatus    `json:"status"`
	Amount               decimal.Decimal     `json:"amount"`
	IssueDate            openapi_types.Date  `json:"issueDate"`
	Description          string              `json:"description,omitempty"`
	ProjectAccountNumber string              `json:"projectAccountNumber"`
	ProjectTitle         string              `json:"projectTitle"`
	Requester            string              `json:"requester"`
	RequesterEmail       openapi_types.Email `json:"requesterEmail"`
	CoordinatorEmail     openapi_types.Email `json:"coordinatorEmail"`
	CreatorID            string              `json:"creatorId"`
	AttestationDeadline  time.Time           `json:"attestationDeadline"`
	AttestedAt           *time.Time          `json:"attestedAt,omitempty"`
	AttestedBy           *string             `json:"attestedBy,omitempty"`
	Observation          *string             `json:"observation,omitempty"`
	FileURL              *string             `json:"fileUrl,omitempty"`
	AttestedFileURL      *string             `json:"attestedFileUrl,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

// createNoteResponse — ответ создания ноты и повторной отправки ссылки.
type createNoteResponse struct {
	Note      noteResponse `json:"note"`
	AttestURL string       `json:"attestUrl"`
	// EmailSent — письмо координатору принято провайдером
	EmailSent bool `json:"emailSent"`
}

type noteListResponse struct {
	Items  []noteResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type historyEventResponse struct {
	ID       string            `json:"id"`
	Type     model.HistoryType `json:"type"`
	Details  string            `json:"details"`
	Date     time.Time         `json:"date"`
	AuthorID *string           `json:"authorId,omitempty"`
	UserName string            `json:"userName,omitempty"`
}

// downloadURL формирует относительную ссылку на файл ноты.
func downloadURL(fileID *string) *string {
	if fileID == nil || *fileID == "" {
		return nil
	}
	u := "/api/download/" + *fileID
	return &u
}

func toNoteResponse(n *model.FiscalNote) noteResponse {
	return noteResponse{
		ID:                   n.ID,
		NumeroNota:           n.NumeroNota,
		Status:               n.Status,
		Amount:               n.Amount,
		IssueDate:            openapi_types.Date{Time: n.IssueDate},
		Description:          n.Description,
		ProjectAccountNumber: n.ProjectAccountNumber,
		ProjectTitle:         n.ProjectTitle,
		Requester:            n.Requester,
		RequesterEmail:       openapi_types.Email(n.RequesterEmail),
		CoordinatorEmail:     openapi_types.Email(n.CoordinatorEmail),
		CreatorID:            n.CreatorID,
		AttestationDeadline:  n.AttestationDeadline,
		AttestedAt:           n.AttestedAt,
		AttestedBy:           n.AttestedBy,
		Observation:          n.Observation,
		FileURL:              downloadURL(n.DriveFileID),
		AttestedFileURL:      downloadURL(n.AttestedDriveFileID),
		CreatedAt:            n.CreatedAt,
		UpdatedAt:            n.UpdatedAt,
	}
}

func toCreateNoteResponse(res *service.CreateResult) createNoteResponse {
	return createNoteResponse{
		Note:      toNoteResponse(res.Note),
		AttestURL: res.AttestURL,
		EmailSent: res.Notification.Sent,
	}
}

// --- Обработчики ---

// CreateNote — POST /api/v1/notes.
// Принимает multipart/form-data (поле file с PDF) или JSON без файла.
func (h *APIHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())

	var (
		in  service.CreateNoteInput
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, filestore.MaxPDFSize+multipartOverhead)
		if err := r.ParseMultipartForm(multipartOverhead); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apierrors.ValidationError(w, service.PDFErrorMessage(filestore.ErrTooLarge))
				return
			}
			apierrors.ValidationError(w, "Formulário inválido.")
			return
		}
		defer r.MultipartForm.RemoveAll()
		in, err = noteInputFromForm(r.MultipartForm)
	} else {
		in, err = noteInputFromJSON(r)
	}
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.notes.Create(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания ноты")
		return
	}
	writeJSON(w, http.StatusCreated, toCreateNoteResponse(res))
}

// noteInputFromJSON разбирает JSON-тело создания ноты.
func noteInputFromJSON(r *http.Request) (service.CreateNoteInput, error) {
	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.CreateNoteInput{}, errors.New("Corpo da requisição inválido.")
	}
	return service.CreateNoteInput{
		NumeroNota:           req.NumeroNota,
		Amount:               req.Amount,
		IssueDate:            req.IssueDate.Time,
		Description:          req.Description,
		ProjectAccountNumber: req.ProjectAccountNumber,
		ProjectTitle:         req.ProjectTitle,
		Requester:            req.Requester,
		RequesterEmail:       string(req.RequesterEmail),
		CoordinatorEmail:     string(req.CoordinatorEmail),
	}, nil
}

// noteInputFromForm разбирает multipart-форму создания ноты.
func noteInputFromForm(form *multipart.Form) (service.CreateNoteInput, error) {
	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	amount, err := parseAmount(value("amount"))
	if err != nil {
		return service.CreateNoteInput{}, errors.New("Valor da nota inválido.")
	}
	var issueDate time.Time
	if raw := value("issueDate"); raw != "" {
		issueDate, err = time.Parse(openapi_types.DateFormat, raw)
		if err != nil {
			return service.CreateNoteInput{}, errors.New("Data de emissão inválida (use AAAA-MM-DD).")
		}
	}

	in := service.CreateNoteInput{
		NumeroNota:           value("numeroNota"),
		Amount:               amount,
		IssueDate:            issueDate,
		Description:          value("description"),
		ProjectAccountNumber: value("projectAccountNumber"),
		ProjectTitle:         value("projectTitle"),
		Requester:            value("requester"),
		RequesterEmail:       value("requesterEmail"),
		CoordinatorEmail:     value("coordinatorEmail"),
	}

	if files := form.File["file"]; len(files) > 0 {
		uploaded, err := openUpload(files[0])
		if err != nil {
			return service.CreateNoteInput{}, errors.New("Não foi possível ler o arquivo enviado.")
		}
		in.File = uploaded
	}
	return in, nil
}

// openUpload открывает файл multipart-формы.
// Файл остаётся открытым до RemoveAll формы.
func openUpload(fh *multipart.FileHeader) (*service.UploadedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	return &service.UploadedFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Content:     f,
	}, nil
}

// parseAmount принимает "1530.75" и бразильскую запись "1.530,75".
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.New("пустое значение")
	}
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	}
	return decimal.NewFromString(raw)
}

// ListNotes — GET /api/v1/notes?status=&limit=&offset=.
func (h *APIHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	filter, ok := noteFilterFromQuery(w, r)
	if !ok {
		return
	}

	list, err := h.notes.List(r.Context(), middleware.ActorFromContext(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка нот")
		return
	}

	items := make([]noteResponse, 0, len(list.Notes))
	for _, n := range list.Notes {
		items = append(items, toNoteResponse(n))
	}
	writeJSON(w, http.StatusOK, noteListResponse{
		Items:  items,
		Total:  list.Total,
		Limit:  list.Limit,
		Offset: list.Offset,
	})
}

// noteFilterFromQuery читает status/limit/offset. При ошибке пишет 400.
func noteFilterFromQuery(w http.ResponseWriter, r *http.Request) (model.NoteFilter, bool) {
	var filter model.NoteFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := lifecycle.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Status inválido: %s.", raw))
			return filter, false
		}
		filter.Status = &status
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, "Parâmetro limit inválido.")
		return filter, false
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, "Parâmetro offset inválido.")
		return filter, false
	}
	if limit != nil {
		filter.Limit = *limit
	}
	if offset != nil {
		filter.Offset = *offset
	}
	return filter, true
}

// GetNote — GET /api/v1/notes/{id}.
func (h *APIHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := h.notes.Get(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения ноты", slog.String("note_id", id))
		return
	}
	writeJSON(w, http.StatusOK, toNoteResponse(note))
}

// GetNoteHistory — GET /api/v1/notes/{id}/history.
func (h *APIHandler) GetNoteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.notes.History(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения истории ноты", slog.String("note_id", id))
		return
	}

	items := make([]historyEventResponse, 0, len(events))
	for _, e := range events {
		items = append(items, historyEventResponse{
			ID:       e.ID,
			Type:     e.Type,
			Details:  e.Details,
			Date:     e.Date,
			AuthorID: e.AuthorID,
			UserName: e.UserName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ResendAttestLink — POST /api/v1/notes/{id}/resend.
func (h *APIHandler) ResendAttestLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.notes.ResendAttestLink(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка повторной отправки ссылки", slog.String("note_id", id))
		return
	}
	writeJSON(w, http.StatusOK, toCreateNoteResponse(res))
}

// ExportNotes — GET /api/v1/notes/export (xlsx).
// Файл формируется в памяти, чтобы ошибка не оборвала уже начатый ответ.
func (h *APIHandler) ExportNotes(w http.ResponseWriter, r *http.Request) {
	filter, ok := noteFilterFromQuery(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	count, err := h.reports.ExportXLSX(r.Context(), middleware.ActorFromContext(r.Context()), filter, &buf)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка выгрузки отчёта")
		return
	}

	filename := fmt.Sprintf("notas-fadex-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Total-Count", fmt.Sprint(count))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
