// handler.go — основной обработчик API Notas Fadex.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/fadex/notas-fadex/internal/api/errors"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/service"
)

// NoteOperations — операции над нотами (*service.NoteService).
type NoteOperations interface {
	Create(ctx context.Context, actor *model.Actor, in service.CreateNoteInput) (*service.CreateResult, error)
	Get(ctx context.Context, actor *model.Actor, id string) (*model.FiscalNote, error)
	List(ctx context.Context, actor *model.Actor, filter model.NoteFilter) (*service.NoteList, error)
	History(ctx context.Context, actor *model.Actor, id string) ([]model.NoteHistoryEvent, error)
	ResendAttestLink(ctx context.Context, actor *model.Actor, id string) (*service.CreateResult, error)
}

// AttestationOperations — публичные действия координатора (*service.AttestationService).
type AttestationOperations interface {
	VerifyToken(tok string) (string, *service.Result)
	NoteForToken(ctx context.Context, tok string) (*model.FiscalNote, *service.Result)
	FileURL(fileID, tok string) string
	HandleAttest(ctx context.Context, form service.AttestForm) service.Result
	HandleReject(ctx context.Context, form service.RejectForm) service.Result
}

// FileDownloader — авторизованное открытие файлов (*service.DownloadService).
type FileDownloader interface {
	Open(ctx context.Context, req service.DownloadRequest) (io.ReadCloser, *filestore.Object, error)
}

// ExpirationRunner — проход по просроченным нотам (*service.ExpirationSweep).
type ExpirationRunner interface {
	Run(ctx context.Context) (*service.SweepResult, error)
}

// ReminderRunner — рассылка напоминаний (*service.ReminderService).
type ReminderRunner interface {
	Run(ctx context.Context) (*service.ReminderResult, error)
}

// UserOperations — управление пользователями (*service.UserService).
type UserOperations interface {
	Current(ctx context.Context, actor *model.Actor) (*model.User, error)
	ListUsers(ctx context.Context, actor *model.Actor, search string, limit, offset int) ([]*model.User, int, error)
	GetUser(ctx context.Context, actor *model.Actor, id string) (*model.User, error)
	SetRole(ctx context.Context, actor *model.Actor, id string, role *string) (*model.User, error)
	GrantPermission(ctx context.Context, actor *model.Actor, userID, permission string) error
	RevokePermission(ctx context.Context, actor *model.Actor, userID, permission string) error
}

// SettingsOperations — настройки приложения (*service.SettingsService).
type SettingsOperations interface {
	List(ctx context.Context) ([]repository.Setting, error)
	Set(ctx context.Context, actor *model.Actor, key, value string) error
	Delete(ctx context.Context, actor *model.Actor, key string) error
}

// ReportExporter — выгрузка отчёта по нотам (*service.ReportService).
type ReportExporter interface {
	ExportXLSX(ctx context.Context, actor *model.Actor, filter model.NoteFilter, w io.Writer) (int, error)
}

// IDPStatusReader — статус Identity Provider (*service.IDPService).
type IDPStatusReader interface {
	GetStatus(ctx context.Context, actor *model.Actor) (*service.IDPStatus, error)
}

// Services — зависимости APIHandler.
type Services struct {
	Notes       NoteOperations
	Attestation AttestationOperations
	Downloads   FileDownloader
	Sweep       ExpirationRunner
	Reminders   ReminderRunner
	Users       UserOperations
	Settings    SettingsOperations
	Reports     ReportExporter
	IDP         IDPStatusReader
}

// APIHandler — основной обработчик API Notas Fadex.
type APIHandler struct {
	health      *HealthHandler
	notes       NoteOperations
	attestation AttestationOperations
	downloads   FileDownloader
	sweep       ExpirationRunner
	reminders   ReminderRunner
	users       UserOperations
	settings    SettingsOperations
	reports     ReportExporter
	idp         IDPStatusReader
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, svc Services, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:      health,
		notes:       svc.Notes,
		attestation: svc.Attestation,
		downloads:   svc.Downloads,
		sweep:       svc.Sweep,
		reminders:   svc.Reminders,
		users:       svc.Users,
		settings:    svc.Settings,
		reports:     svc.Reports,
		idp:         svc.IDP,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку сервисного слоя в ответ API.
// Неизвестные ошибки логируются и отдаются как 500 без подробностей.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, logMsg string, attrs ...any) {
	if msg, ok := service.UserMessage(err); ok {
		apierrors.ValidationError(w, msg)
		return
	}

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		apierrors.Unauthorized(w, "Autenticação necessária.")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Você não tem permissão para esta operação.")
	case errors.Is(err, service.ErrNoteNotFound):
		apierrors.NotFound(w, "Nota fiscal não encontrada.")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Recurso não encontrado.")
	case errors.Is(err, service.ErrNoteNotPending):
		apierrors.NotPending(w, "Esta nota já foi processada e não está mais pendente.")
	case errors.Is(err, service.ErrInvalidRole):
		apierrors.ValidationError(w, "Papel inválido: use OWNER, MANAGER, MEMBER ou VIEWER.")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, "Dados inválidos.")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Recurso já existe.")
	case errors.Is(err, service.ErrSweepInProgress):
		apierrors.Conflict(w, "A verificação de prazos já está em execução.")
	case errors.Is(err, service.ErrIDPUnavailable):
		apierrors.IDPUnavailable(w, "Provedor de identidade indisponível.")
	case errors.Is(err, service.ErrUploadFailed):
		h.logger.Error(logMsg, append(attrs, slog.String("error", err.Error()))...)
		apierrors.UploadFailed(w, "Não foi possível salvar o arquivo. Tente novamente.")
	default:
		h.logger.Error(logMsg, append(attrs, slog.String("error", err.Error()))...)
		apierrors.InternalError(w, "Erro interno do servidor.")
	}
}

// queryInt читает целочисленный query-параметр. nil — параметр отсутствует.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// readPagination извлекает limit/offset из query и нормализует их.
func readPagination(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return 0, 0, err
	}
	l, o := paginationDefaults(limit, offset)
	return l, o, nil
}
