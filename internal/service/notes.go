// notes.go — движок жизненного цикла фискальных нот.
// Каждый переход из PENDENTE применяется условным UPDATE в одной транзакции
// с событием истории; уведомление отправляется после фиксации и не влияет
// на результат перехода.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fadex/notas-fadex/internal/domain/lifecycle"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/mailer"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/token"
)

// UploadedFile — файл, полученный из multipart-формы.
type UploadedFile struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// CreateNoteInput — данные новой ноты.
type CreateNoteInput struct {
	NumeroNota           string          `json:"numeroNota" validate:"required,max=100"`
	Amount               decimal.Decimal `json:"amount"`
	IssueDate            time.Time       `json:"issueDate" validate:"required"`
	Description          string          `json:"description" validate:"max=2000"`
	ProjectAccountNumber string          `json:"projectAccountNumber" validate:"required,max=50"`
	ProjectTitle         string          `json:"projectTitle" validate:"required,max=300"`
	Requester            string          `json:"requester" validate:"required,max=200"`
	RequesterEmail       string          `json:"requesterEmail" validate:"required,email"`
	CoordinatorEmail     string          `json:"coordinatorEmail" validate:"required,email"`
	// File — исходный PDF ноты (необязателен)
	File *UploadedFile `json:"-" validate:"-"`
}

// CreateResult — результат создания ноты.
type CreateResult struct {
	Note *model.FiscalNote
	// AttestURL — публичная ссылка для координатора
	AttestURL    string
	Notification NotificationOutcome
}

// AttestCommand — аттестация ноты координатором.
type AttestCommand struct {
	NoteID string
	// Actor — аутентифицированный пользователь (nil для публичной ссылки)
	Actor            *model.Actor
	CoordinatorName  string
	CoordinatorEmail string
	Observation      string
	AttestedFileID   string
	AttestedFileURL  string
}

// RejectCommand — отклонение ноты координатором.
type RejectCommand struct {
	NoteID          string
	Actor           *model.Actor
	CoordinatorName string
	Reason          string
}

// TransitionResult — результат перехода: нота после фиксации
// и отдельный результат уведомления.
type TransitionResult struct {
	Note         *model.FiscalNote
	Notification NotificationOutcome
}

// NoteList — страница списка нот.
type NoteList struct {
	Notes  []*model.FiscalNote
	Total  int
	Limit  int
	Offset int
}

// NoteService — операции над нотами.
type NoteService struct {
	notes    repository.NoteRepository
	history  repository.HistoryRepository
	settings SettingsReader
	tokens   *token.Service
	store    filestore.Store
	gate     *PermissionGate
	notifier *notifier
	baseURL  string
	now      func() time.Time
	logger   *slog.Logger
}

// NewNoteService создаёт NoteService.
// baseURL — публичный адрес приложения (ссылки аттестации и скачивания).
func NewNoteService(
	notes repository.NoteRepository,
	history repository.HistoryRepository,
	settings SettingsReader,
	tokens *token.Service,
	store filestore.Store,
	gate *PermissionGate,
	sender mailer.Sender,
	baseURL string,
	logger *slog.Logger,
) *NoteService {
	l := logger.With(slog.String("service", "notes"))
	return &NoteService{
		notes:    notes,
		history:  history,
		settings: settings,
		tokens:   tokens,
		store:    store,
		gate:     gate,
		notifier: &notifier{sender: sender, logger: l},
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
		logger:   l,
	}
}

// SetClock подменяет источник времени (для тестов).
func (s *NoteService) SetClock(now func() time.Time) {
	s.now = now
}

// DownloadURL формирует URL скачивания файла.
func (s *NoteService) DownloadURL(fileID string) string {
	return s.baseURL + "/api/download/" + fileID
}

// Create создаёт ноту в PENDENTE со сроком now + deadline_days,
// записывает событие CREATED и отправляет координатору ссылку аттестации.
func (s *NoteService) Create(ctx context.Context, actor *model.Actor, in CreateNoteInput) (*CreateResult, error) {
	if err := s.gate.Require(ctx, actor, rbac.PermissionCreateNotes); err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Message: "O valor da nota deve ser maior que zero."}
	}

	now := s.now().UTC()
	days := s.settings.DeadlineDays(ctx)
	note := &model.FiscalNote{
		ID:                   uuid.New().String(),
		Status:               model.StatusPending,
		AttestationDeadline:  now.AddDate(0, 0, days),
		Amount:               in.Amount,
		IssueDate:            in.IssueDate,
		Description:          in.Description,
		NumeroNota:           in.NumeroNota,
		ProjectAccountNumber: in.ProjectAccountNumber,
		ProjectTitle:         in.ProjectTitle,
		Requester:            in.Requester,
		RequesterEmail:       in.RequesterEmail,
		CoordinatorEmail:     in.CoordinatorEmail,
		CreatorID:            actor.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if in.File != nil {
		content, err := filestore.CheckPDF(in.File.ContentType, in.File.Size, in.File.Content)
		if err != nil {
			return nil, &ValidationError{Message: PDFErrorMessage(err)}
		}
		obj, err := s.store.Upload(ctx, filestore.NoteFileName(note.ID, now), "application/pdf", content)
		if err != nil {
			return nil, fmt.Errorf("%w: PDF ноты: %v", ErrUploadFailed, err)
		}
		note.DriveFileID = &obj.ID
	}

	authorID := actor.ID
	created := &model.NoteHistoryEvent{
		ID:       uuid.New().String(),
		Type:     model.HistoryCreated,
		Details:  fmt.Sprintf("Nota criada por %s com prazo de atesto até %s.", actor.DisplayName(), model.FormatDateBR(note.AttestationDeadline)),
		Date:     now,
		AuthorID: &authorID,
		UserName: actor.DisplayName(),
	}
	if err := s.notes.Create(ctx, note, created); err != nil {
		if note.DriveFileID != nil {
			// Файл уже загружен, а нота не записана: объект остаётся без ссылки
			s.logger.Warn("Нота не создана после загрузки файла",
				slog.String("note_id", note.ID),
				slog.String("file_id", *note.DriveFileID),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("ошибка создания ноты: %w", err)
	}
	note.History = []model.NoteHistoryEvent{*created}

	s.logger.Info("Нота создана",
		slog.String("note_id", note.ID),
		slog.String("numero_nota", note.NumeroNota),
		slog.String("creator_id", actor.ID),
		slog.Time("deadline", note.AttestationDeadline),
	)

	tok, err := s.tokens.Issue(note.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выпуска токена аттестации: %w", err)
	}
	link := token.AttestURL(s.baseURL, tok)
	outcome := s.notifier.send(ctx, note.ID, func() (mailer.Message, error) {
		return mailer.AttestRequest(note, link)
	})

	return &CreateResult{Note: note, AttestURL: link, Notification: outcome}, nil
}

// Attest переводит ноту PENDENTE → ATESTADA.
func (s *NoteService) Attest(ctx context.Context, cmd AttestCommand) (*TransitionResult, error) {
	now := s.now().UTC()
	name := strings.TrimSpace(cmd.CoordinatorName)

	tr := model.Transition{
		To:         model.StatusAttested,
		At:         now,
		AttestedBy: &name,
	}
	if cmd.Observation != "" {
		obs := cmd.Observation
		tr.Observation = &obs
	}
	if cmd.AttestedFileID != "" {
		id, url := cmd.AttestedFileID, cmd.AttestedFileURL
		tr.AttestedDriveFileID = &id
		tr.AttestedFileURL = &url
	}

	details := "Nota atestada por " + name + "."
	if cmd.Observation != "" {
		details += " Observação: " + cmd.Observation
	}
	event := s.actionEvent(cmd.Actor, name, details, now)
	if cmd.Actor != nil {
		tr.AttestedByID = event.AuthorID
	}

	note, err := s.transition(ctx, cmd.NoteID, tr, event)
	if err != nil {
		return nil, err
	}

	outcome := s.notifier.send(ctx, note.ID, func() (mailer.Message, error) {
		return mailer.Attested(note, cmd.CoordinatorEmail)
	})
	return &TransitionResult{Note: note, Notification: outcome}, nil
}

// Reject переводит ноту PENDENTE → REJEITADA. Причина сохраняется в observation.
func (s *NoteService) Reject(ctx context.Context, cmd RejectCommand) (*TransitionResult, error) {
	now := s.now().UTC()
	name := strings.TrimSpace(cmd.CoordinatorName)
	reason := strings.TrimSpace(cmd.Reason)

	tr := model.Transition{
		To:          model.StatusRejected,
		At:          now,
		Observation: &reason,
	}
	event := s.actionEvent(cmd.Actor, name,
		fmt.Sprintf("Nota rejeitada por %s. Motivo: %s", name, reason), now)

	note, err := s.transition(ctx, cmd.NoteID, tr, event)
	if err != nil {
		return nil, err
	}

	outcome := s.notifier.send(ctx, note.ID, func() (mailer.Message, error) {
		return mailer.Rejected(note, name, reason)
	})
	return &TransitionResult{Note: note, Notification: outcome}, nil
}

// Expire переводит одну просроченную ноту в EXPIRADA.
// ErrNotOverdue, если срок ещё не истёк.
func (s *NoteService) Expire(ctx context.Context, noteID string) (*TransitionResult, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, mapNoteError(noteID, err)
	}
	if err := lifecycle.ValidateTransition(note.Status, model.StatusExpired); err != nil {
		return nil, mapNoteError(noteID, err)
	}

	now := s.now().UTC()
	if !note.IsOverdue(now) {
		return nil, ErrNotOverdue
	}

	expired, err := s.transition(ctx, noteID, model.Transition{To: model.StatusExpired, At: now}, expiredEvent(note, now))
	if err != nil {
		return nil, err
	}

	outcome := s.notifier.send(ctx, expired.ID, func() (mailer.Message, error) {
		return mailer.Expired(expired)
	})
	return &TransitionResult{Note: expired, Notification: outcome}, nil
}

// transition применяет переход условным UPDATE. Тип события истории
// определяется целевым статусом; текущий статус сверяет репозиторий.
func (s *NoteService) transition(
	ctx context.Context,
	noteID string,
	tr model.Transition,
	event *model.NoteHistoryEvent,
) (*model.FiscalNote, error) {
	typ, ok := lifecycle.HistoryTypeFor(tr.To)
	if !ok {
		return nil, &lifecycle.TransitionError{
			Code:    lifecycle.CodeInvalidTarget,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", tr.To),
		}
	}
	event.Type = typ

	note, err := s.notes.ApplyTransition(ctx, noteID, tr, event)
	if err != nil {
		return nil, mapNoteError(noteID, err)
	}
	noteTransitionsTotal.WithLabelValues(string(tr.To)).Inc()

	s.logger.Info("Статус ноты изменён",
		slog.String("note_id", noteID),
		slog.String("status", string(tr.To)),
		slog.String("by", event.UserName),
	)
	return note, nil
}

// actionEvent формирует событие истории для действия координатора.
// Type заполняет transition.
func (s *NoteService) actionEvent(
	actor *model.Actor,
	name string,
	details string,
	at time.Time,
) *model.NoteHistoryEvent {
	e := &model.NoteHistoryEvent{
		ID:       uuid.New().String(),
		Details:  details,
		Date:     at,
		UserName: name,
	}
	if actor != nil && actor.ID != "" {
		id := actor.ID
		e.AuthorID = &id
	}
	return e
}

// expiredEvent — системное событие EXPIRED (без автора).
func expiredEvent(n *model.FiscalNote, at time.Time) *model.NoteHistoryEvent {
	return &model.NoteHistoryEvent{
		ID:       uuid.New().String(),
		NoteID:   n.ID,
		Type:     model.HistoryExpired,
		Details:  ExpiredMessage(n.AttestationDeadline),
		Date:     at,
		UserName: model.SystemUserName,
	}
}

// ExpiredMessage — текст события EXPIRED для ноты со сроком deadline.
func ExpiredMessage(deadline time.Time) string {
	return fmt.Sprintf("A nota expirou em %s pois não foi atestada até o prazo final.", model.FormatDateBR(deadline))
}

// Get возвращает ноту с историей. Доступна владельцу и VIEW_ALL_NOTES.
func (s *NoteService) Get(ctx context.Context, actor *model.Actor, noteID string) (*model.FiscalNote, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, mapNoteError(noteID, err)
	}
	if err := s.authorizeView(ctx, actor, note); err != nil {
		return nil, err
	}

	history, err := s.history.ListByNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории ноты %s: %w", noteID, err)
	}
	note.History = history
	return note, nil
}

// GetForAttestation возвращает ноту для публичной страницы аттестации.
// Доступ проверяется токеном на уровне вызывающего.
func (s *NoteService) GetForAttestation(ctx context.Context, noteID string) (*model.FiscalNote, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, mapNoteError(noteID, err)
	}
	return note, nil
}

// List возвращает ноты: все для VIEW_ALL_NOTES, иначе только свои.
func (s *NoteService) List(ctx context.Context, actor *model.Actor, filter model.NoteFilter) (*NoteList, error) {
	if actor == nil || actor.ID == "" {
		return nil, ErrUnauthenticated
	}
	all, err := s.gate.HasPermission(ctx, actor, rbac.PermissionViewAllNotes)
	if err != nil {
		return nil, err
	}
	if !all {
		id := actor.ID
		filter.CreatorID = &id
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	notes, err := s.notes.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка нот: %w", err)
	}
	total, err := s.notes.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта нот: %w", err)
	}
	return &NoteList{Notes: notes, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// History возвращает историю ноты в порядке добавления.
func (s *NoteService) History(ctx context.Context, actor *model.Actor, noteID string) ([]model.NoteHistoryEvent, error) {
	note, err := s.Get(ctx, actor, noteID)
	if err != nil {
		return nil, err
	}
	return note.History, nil
}

// ResendAttestLink выпускает новый токен и повторно отправляет ссылку координатору.
// Доступно владельцу ноты и VIEW_ALL_NOTES, только пока нота PENDENTE.
func (s *NoteService) ResendAttestLink(ctx context.Context, actor *model.Actor, noteID string) (*CreateResult, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, mapNoteError(noteID, err)
	}
	if err := s.authorizeView(ctx, actor, note); err != nil {
		return nil, err
	}
	if err := lifecycle.ValidateTransition(note.Status, model.StatusAttested); err != nil {
		return nil, mapNoteError(noteID, err)
	}

	tok, err := s.tokens.Issue(note.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выпуска токена аттестации: %w", err)
	}
	link := token.AttestURL(s.baseURL, tok)
	outcome := s.notifier.send(ctx, note.ID, func() (mailer.Message, error) {
		return mailer.AttestRequest(note, link)
	})
	return &CreateResult{Note: note, AttestURL: link, Notification: outcome}, nil
}

// authorizeView разрешает просмотр владельцу и обладателю VIEW_ALL_NOTES.
func (s *NoteService) authorizeView(ctx context.Context, actor *model.Actor, note *model.FiscalNote) error {
	if actor == nil || actor.ID == "" {
		return ErrUnauthenticated
	}
	if note.CreatorID == actor.ID {
		return nil
	}
	return s.gate.Require(ctx, actor, rbac.PermissionViewAllNotes)
}

// mapNoteError переводит ошибки репозитория в ошибки сервиса.
func mapNoteError(noteID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNoteNotFound, noteID)
	case lifecycle.IsNotPending(err):
		return fmt.Errorf("%w: %w", ErrNoteNotPending, err)
	default:
		return fmt.Errorf("ошибка доступа к ноте %s: %w", noteID, err)
	}
}

// PDFErrorMessage — сообщение пользователю об ошибке проверки PDF.
func PDFErrorMessage(err error) string {
	switch {
	case errors.Is(err, filestore.ErrNoFile):
		return "O arquivo PDF é obrigatório."
	case errors.Is(err, filestore.ErrTooLarge):
		return "O arquivo deve ter no máximo 10MB."
	case errors.Is(err, filestore.ErrNotPDF):
		return "Apenas arquivos PDF são permitidos."
	default:
		return "Não foi possível ler o arquivo enviado."
	}
}
