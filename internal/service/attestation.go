// attestation.go — обработка публичных форм аттестации и отклонения.
// Порядок проверок фиксирован: токен → файл → схема → нота → загрузка файла
// → переход → письмо. Ошибка любого шага до перехода не меняет состояние.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/token"
)

// Коды результата обработки формы (для выбора HTTP-статуса).
const (
	ResultOK            = "OK"
	ResultTokenExpired  = "TOKEN_EXPIRED"
	ResultTokenInvalid  = "TOKEN_INVALID"
	ResultTokenMismatch = "TOKEN_MISMATCH"
	ResultValidation    = "VALIDATION_ERROR"
	ResultNotFound      = "NOT_FOUND"
	ResultNotPending    = "NOT_PENDING"
	ResultUploadFailed  = "UPLOAD_FAILED"
	ResultInternal      = "INTERNAL_ERROR"
)

// Сообщения пользователю.
const (
	msgAttested      = "Nota atestada com sucesso!"
	msgRejected      = "Nota rejeitada com sucesso."
	msgTokenExpired  = "O link de atesto expirou. Solicite um novo link ao responsável pela nota."
	msgTokenInvalid  = "Link de atesto inválido."
	msgTokenMismatch = "O link de atesto não corresponde a esta nota."
	msgNotFound      = "Nota fiscal não encontrada."
	msgNotPending    = "Esta nota já foi processada e não está mais pendente."
	msgUploadFailed  = "Não foi possível enviar o arquivo. Tente novamente."
	msgInternal      = "Ocorreu um erro ao processar a solicitação. Tente novamente."
)

// Result — результат обработки публичной формы.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Code — машинный код результата
	Code string `json:"code,omitempty"`
	// Notification — результат отправки письма (только при успехе)
	Notification *NotificationOutcome `json:"-"`
}

func failure(code, message string) Result {
	return Result{Success: false, Message: message, Code: code}
}

// AttestForm — поля формы аттестации.
type AttestForm struct {
	Token            string        `json:"-" validate:"-"`
	CoordinatorName  string        `json:"coordinatorName" validate:"required,min=3,max=200"`
	CoordinatorEmail string        `json:"coordinatorEmail" validate:"required,email"`
	Observation      string        `json:"observation" validate:"max=1000"`
	File             *UploadedFile `json:"-" validate:"-"`
}

// RejectForm — поля формы отклонения.
type RejectForm struct {
	Token           string `json:"-" validate:"-"`
	NoteID          string `json:"noteId" validate:"-"`
	CoordinatorName string `json:"coordinatorName" validate:"required,min=3,max=200"`
	Reason          string `json:"reason" validate:"required,min=10,max=1000"`
}

// AttestationService — обработчик публичных действий координатора.
type AttestationService struct {
	tokens *token.Service
	notes  *NoteService
	store  filestore.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewAttestationService создаёт AttestationService.
func NewAttestationService(
	tokens *token.Service,
	notes *NoteService,
	store filestore.Store,
	logger *slog.Logger,
) *AttestationService {
	return &AttestationService{
		tokens: tokens,
		notes:  notes,
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("service", "attestation")),
	}
}

// SetClock подменяет источник времени (для тестов).
func (s *AttestationService) SetClock(now func() time.Time) {
	s.now = now
}

// VerifyToken проверяет токен и возвращает ID ноты.
// При ошибке возвращает готовый Result.
func (s *AttestationService) VerifyToken(tok string) (string, *Result) {
	claims, err := s.tokens.Verify(tok)
	if err != nil {
		var r Result
		if errors.Is(err, token.ErrTokenExpired) {
			r = failure(ResultTokenExpired, msgTokenExpired)
		} else {
			r = failure(ResultTokenInvalid, msgTokenInvalid)
		}
		return "", &r
	}
	return claims.NoteID, nil
}

// NoteForToken возвращает ноту для страницы аттестации.
// Нота, уже покинувшая PENDENTE, отдаётся вместе с Result NOT_PENDING,
// чтобы страница могла показать её текущий статус.
func (s *AttestationService) NoteForToken(ctx context.Context, tok string) (*model.FiscalNote, *Result) {
	noteID, res := s.VerifyToken(tok)
	if res != nil {
		return nil, res
	}
	note, err := s.notes.GetForAttestation(ctx, noteID)
	if err != nil {
		r := s.noteFailure(noteID, err)
		return nil, &r
	}
	if note.Status != model.StatusPending {
		r := failure(ResultNotPending, msgNotPending)
		return note, &r
	}
	return note, nil
}

// FileURL — ссылка на файл ноты для держателя токена.
func (s *AttestationService) FileURL(fileID, tok string) string {
	return s.notes.DownloadURL(fileID) + "?token=" + url.QueryEscape(tok)
}

// HandleAttest обрабатывает форму аттестации.
func (s *AttestationService) HandleAttest(ctx context.Context, form AttestForm) Result {
	noteID, res := s.VerifyToken(form.Token)
	if res != nil {
		return *res
	}

	// Файл проверяется до любых обращений к БД
	if form.File == nil {
		return failure(ResultValidation, PDFErrorMessage(filestore.ErrNoFile))
	}
	pdf, err := filestore.CheckPDF(form.File.ContentType, form.File.Size, form.File.Content)
	if err != nil {
		return failure(ResultValidation, PDFErrorMessage(err))
	}

	form.CoordinatorName = strings.TrimSpace(form.CoordinatorName)
	form.CoordinatorEmail = strings.TrimSpace(form.CoordinatorEmail)
	if err := validateStruct(form); err != nil {
		msg, _ := UserMessage(err)
		return failure(ResultValidation, msg)
	}

	note, err := s.notes.GetForAttestation(ctx, noteID)
	if err != nil {
		return s.noteFailure(noteID, err)
	}
	if note.Status != model.StatusPending {
		return failure(ResultNotPending, msgNotPending)
	}

	obj, err := s.store.Upload(ctx, filestore.AttestedName(noteID, s.now()), "application/pdf", pdf)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return failure(ResultValidation, PDFErrorMessage(err))
		}
		s.logger.Error("Ошибка загрузки аттестованного файла",
			slog.String("note_id", noteID),
			slog.String("error", err.Error()),
		)
		return failure(ResultUploadFailed, msgUploadFailed)
	}

	tr, err := s.notes.Attest(ctx, AttestCommand{
		NoteID:           noteID,
		CoordinatorName:  form.CoordinatorName,
		CoordinatorEmail: form.CoordinatorEmail,
		Observation:      strings.TrimSpace(form.Observation),
		AttestedFileID:   obj.ID,
		AttestedFileURL:  s.notes.DownloadURL(obj.ID),
	})
	if err != nil {
		// Файл уже загружен, но переход не применён: объект остаётся без ссылки
		s.logger.Warn("Переход не применён после загрузки файла",
			slog.String("note_id", noteID),
			slog.String("file_id", obj.ID),
			slog.String("error", err.Error()),
		)
		return s.noteFailure(noteID, err)
	}

	return Result{Success: true, Message: msgAttested, Code: ResultOK, Notification: &tr.Notification}
}

// HandleReject обрабатывает форму отклонения.
// noteID формы должен совпадать с ID ноты в токене.
func (s *AttestationService) HandleReject(ctx context.Context, form RejectForm) Result {
	noteID, res := s.VerifyToken(form.Token)
	if res != nil {
		return *res
	}
	if form.NoteID != noteID {
		return failure(ResultTokenMismatch, msgTokenMismatch)
	}

	form.CoordinatorName = strings.TrimSpace(form.CoordinatorName)
	form.Reason = strings.TrimSpace(form.Reason)
	if err := validateStruct(form); err != nil {
		msg, _ := UserMessage(err)
		return failure(ResultValidation, msg)
	}

	note, err := s.notes.GetForAttestation(ctx, noteID)
	if err != nil {
		return s.noteFailure(noteID, err)
	}
	if note.Status != model.StatusPending {
		return failure(ResultNotPending, msgNotPending)
	}

	tr, err := s.notes.Reject(ctx, RejectCommand{
		NoteID:          noteID,
		CoordinatorName: form.CoordinatorName,
		Reason:          form.Reason,
	})
	if err != nil {
		return s.noteFailure(noteID, err)
	}

	return Result{Success: true, Message: msgRejected, Code: ResultOK, Notification: &tr.Notification}
}

// noteFailure переводит ошибку сервиса нот в Result.
func (s *AttestationService) noteFailure(noteID string, err error) Result {
	switch {
	case errors.Is(err, ErrNoteNotFound):
		return failure(ResultNotFound, msgNotFound)
	case errors.Is(err, ErrNoteNotPending):
		return failure(ResultNotPending, msgNotPending)
	default:
		s.logger.Error("Ошибка обработки формы аттестации",
			slog.String("note_id", noteID),
			slog.String("error", err.Error()),
		)
		return failure(ResultInternal, msgInternal)
	}
}
