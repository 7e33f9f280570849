// public.go — публичные обработчики ссылки аттестации (без сессии).
// Доступ определяется только токеном аттестации. Ответ форм — {success, message}.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/service"
)

// ResultStatus возвращает HTTP-статус для кода результата формы.
func ResultStatus(code string) int {
	switch code {
	case service.ResultOK:
		return http.StatusOK
	case service.ResultValidation:
		return http.StatusBadRequest
	case service.ResultTokenExpired, service.ResultTokenInvalid:
		return http.StatusUnauthorized
	case service.ResultTokenMismatch:
		return http.StatusForbidden
	case service.ResultNotFound:
		return http.StatusNotFound
	case service.ResultNotPending:
		return http.StatusConflict
	case service.ResultUploadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicNoteResponse — сведения о ноте для держателя токена.
// Не содержит идентификаторов пользователей.
type publicNoteResponse struct {
	ID                   string              `json:"id"`
	NumeroNota           string              `json:"numeroNota"`
	Status               model.NoteStatus    `json:"status"`
	Amount               decimal.Decimal     `json:"amount"`
	IssueDate            openapi_types.Date  `json:"issueDate"`
	Description          string              `json:"description,omitempty"`
	ProjectAccountNumber string              `json:"projectAccountNumber"`
	ProjectTitle         string              `json:"projectTitle"`
	Requester            string              `json:"requester"`
	CoordinatorEmail     openapi_types.Email `json:"coordinatorEmail"`
	AttestationDeadline  time.Time           `json:"attestationDeadline"`
	FileURL              string              `json:"fileUrl,omitempty"`
}

type publicNoteEnvelope struct {
	service.Result
	Note *publicNoteResponse `json:"note,omitempty"`
}

// rejectRequest — тело POST /api/public/reject.
type rejectRequest struct {
	Token           string `json:"token"`
	NoteID          string `json:"noteId"`
	CoordinatorName string `json:"coordinatorName"`
	RejectionReason string `json:"rejectionReason"`
}

func (h *APIHandler) toPublicNote(n *model.FiscalNote, tok string) *publicNoteResponse {
	resp := &publicNoteResponse{
		ID:                   n.ID,
		NumeroNota:           n.NumeroNota,
		Status:               n.Status,
		Amount:               n.Amount,
		IssueDate:            openapi_types.Date{Time: n.IssueDate},
		Description:          n.Description,
		ProjectAccountNumber: n.ProjectAccountNumber,
		ProjectTitle:         n.ProjectTitle,
		Requester:            n.Requester,
		CoordinatorEmail:     openapi_types.Email(n.CoordinatorEmail),
		AttestationDeadline:  n.AttestationDeadline,
	}
	if n.DriveFileID != nil {
		resp.FileURL = h.attestation.FileURL(*n.DriveFileID, tok)
	}
	return resp
}

// writeResult записывает результат формы со статусом по коду.
func writeResult(w http.ResponseWriter, res service.Result) {
	writeJSON(w, ResultStatus(res.Code), res)
}

// GetPublicNote — GET /api/public/notes?token=.
func (h *APIHandler) GetPublicNote(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	note, res := h.attestation.NoteForToken(r.Context(), tok)
	if res != nil {
		env := publicNoteEnvelope{Result: *res}
		if note != nil {
			env.Note = h.toPublicNote(note, tok)
		}
		writeJSON(w, ResultStatus(res.Code), env)
		return
	}
	writeJSON(w, http.StatusOK, publicNoteEnvelope{
		Result: service.Result{Success: true, Code: service.ResultOK},
		Note:   h.toPublicNote(note, tok),
	})
}

// PostAttest — POST /api/public/attest (multipart/form-data).
// Токен из query (?token=) проверяется до чтения тела; затем тело
// ограничивается размером PDF с запасом на поля формы.
func (h *APIHandler) PostAttest(w http.ResponseWriter, r *http.Request) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		if _, res := h.attestation.VerifyToken(tok); res != nil {
			h.logResult("attest", *res)
			writeResult(w, *res)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, filestore.MaxPDFSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, service.Result{
				Code:    service.ResultValidation,
				Message: service.PDFErrorMessage(filestore.ErrTooLarge),
			})
			return
		}
		writeResult(w, service.Result{Code: service.ResultValidation, Message: "Formulário inválido."})
		return
	}
	defer r.MultipartForm.RemoveAll()

	// FormValue: поле формы, при его отсутствии — query
	form := service.AttestForm{
		Token:            r.FormValue("token"),
		CoordinatorName:  r.FormValue("coordinatorName"),
		CoordinatorEmail: r.FormValue("coordinatorEmail"),
		Observation:      r.FormValue("observation"),
	}
	uploaded, res := h.attestUpload(r.MultipartForm.File["attestedFile"])
	if res != nil {
		writeResult(w, *res)
		return
	}
	form.File = uploaded

	result := h.attestation.HandleAttest(r.Context(), form)
	h.logResult("attest", result)
	writeResult(w, result)
}

// attestUpload открывает первый файл формы. Нет файла — (nil, nil):
// обязательность проверяет сервис. Файл не открылся — Result с общей
// ошибкой чтения.
func (h *APIHandler) attestUpload(files []*multipart.FileHeader) (*service.UploadedFile, *service.Result) {
	if len(files) == 0 {
		return nil, nil
	}
	uploaded, err := openUpload(files[0])
	if err != nil {
		h.logger.Warn("Не удалось открыть файл формы аттестации", slog.String("error", err.Error()))
		return nil, &service.Result{Code: service.ResultValidation, Message: service.PDFErrorMessage(err)}
	}
	return uploaded, nil
}

// PostReject — POST /api/public/reject (JSON или форма).
func (h *APIHandler) PostReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, multipartOverhead)).Decode(&req); err != nil {
			writeResult(w, service.Result{Code: service.ResultValidation, Message: "Corpo da requisição inválido."})
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, multipartOverhead)
		if err := r.ParseForm(); err != nil {
			writeResult(w, service.Result{Code: service.ResultValidation, Message: "Formulário inválido."})
			return
		}
		req = rejectRequest{
			Token:           r.PostFormValue("token"),
			NoteID:          r.PostFormValue("noteId"),
			CoordinatorName: r.PostFormValue("coordinatorName"),
			RejectionReason: r.PostFormValue("rejectionReason"),
		}
	}

	res := h.attestation.HandleReject(r.Context(), service.RejectForm{
		Token:           req.Token,
		NoteID:          req.NoteID,
		CoordinatorName: req.CoordinatorName,
		Reason:          req.RejectionReason,
	})
	h.logResult("reject", res)
	writeResult(w, res)
}

func (h *APIHandler) logResult(action string, res service.Result) {
	if res.Success {
		return
	}
	h.logger.Info("Публичная форма отклонена",
		slog.String("action", action),
		slog.String("code", res.Code),
	)
}
