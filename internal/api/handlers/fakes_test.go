package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fadex/notas-fadex/internal/api/middleware"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/service"
)

// stubNotes — NoteOperations с подменяемыми ответами.
type stubNotes struct {
	createIn  *service.CreateNoteInput
	createRes *service.CreateResult
	createErr error

	note      *model.FiscalNote
	getErr    error
	list      *service.NoteList
	listIn    model.NoteFilter
	listErr   error
	history   []model.NoteHistoryEvent
	resendErr error
}

func (s *stubNotes) Create(_ context.Context, _ *model.Actor, in service.CreateNoteInput) (*service.CreateResult, error) {
	if in.File != nil {
		// Содержимое читается до закрытия формы
		data, _ := io.ReadAll(in.File.Content)
		in.File.Content = strings.NewReader(string(data))
	}
	s.createIn = &in
	return s.createRes, s.createErr
}

func (s *stubNotes) Get(context.Context, *model.Actor, string) (*model.FiscalNote, error) {
	return s.note, s.getErr
}

func (s *stubNotes) List(_ context.Context, _ *model.Actor, filter model.NoteFilter) (*service.NoteList, error) {
	s.listIn = filter
	return s.list, s.listErr
}

func (s *stubNotes) History(context.Context, *model.Actor, string) ([]model.NoteHistoryEvent, error) {
	return s.history, s.getErr
}

func (s *stubNotes) ResendAttestLink(context.Context, *model.Actor, string) (*service.CreateResult, error) {
	if s.resendErr != nil {
		return nil, s.resendErr
	}
	return s.createRes, nil
}

// stubAttestation — AttestationOperations, запоминающий последнюю форму.
type stubAttestation struct {
	note        *model.FiscalNote
	noteResult  *service.Result
	tokenResult *service.Result
	verified    []string

	attestForm service.AttestForm
	fileBody   string
	rejectForm service.RejectForm
	result     service.Result
}

func (s *stubAttestation) VerifyToken(tok string) (string, *service.Result) {
	s.verified = append(s.verified, tok)
	if s.tokenResult != nil {
		return "", s.tokenResult
	}
	return "n1", nil
}

func (s *stubAttestation) NoteForToken(context.Context, string) (*model.FiscalNote, *service.Result) {
	return s.note, s.noteResult
}

func (s *stubAttestation) FileURL(fileID, tok string) string {
	return "https://notas.fadex.test/api/download/" + fileID + "?token=" + tok
}

func (s *stubAttestation) HandleAttest(_ context.Context, form service.AttestForm) service.Result {
	s.attestForm = form
	if form.File != nil {
		data, _ := io.ReadAll(form.File.Content)
		s.fileBody = string(data)
	}
	return s.result
}

func (s *stubAttestation) HandleReject(_ context.Context, form service.RejectForm) service.Result {
	s.rejectForm = form
	return s.result
}

type stubDownloads struct {
	req  service.DownloadRequest
	body string
	obj  *filestore.Object
	err  error
}

func (s *stubDownloads) Open(_ context.Context, req service.DownloadRequest) (io.ReadCloser, *filestore.Object, error) {
	s.req = req
	if s.err != nil {
		return nil, nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), s.obj, nil
}

type stubSweep struct {
	res *service.SweepResult
	err error
}

func (s *stubSweep) Run(context.Context) (*service.SweepResult, error) { return s.res, s.err }

type stubReminders struct {
	res *service.ReminderResult
	err error
}

func (s *stubReminders) Run(context.Context) (*service.ReminderResult, error) { return s.res, s.err }

type stubUsers struct {
	user      *model.User
	users     []*model.User
	total     int
	err       error
	gotRole   *string
	gotPerm   string
	gotSearch string
	gotLimit  int
}

func (s *stubUsers) Current(context.Context, *model.Actor) (*model.User, error) { return s.user, s.err }

func (s *stubUsers) ListUsers(_ context.Context, _ *model.Actor, search string, limit, _ int) ([]*model.User, int, error) {
	s.gotSearch = search
	s.gotLimit = limit
	return s.users, s.total, s.err
}

func (s *stubUsers) GetUser(context.Context, *model.Actor, string) (*model.User, error) {
	return s.user, s.err
}

func (s *stubUsers) SetRole(_ context.Context, _ *model.Actor, _ string, role *string) (*model.User, error) {
	s.gotRole = role
	return s.user, s.err
}

func (s *stubUsers) GrantPermission(_ context.Context, _ *model.Actor, _, permission string) error {
	s.gotPerm = permission
	return s.err
}

func (s *stubUsers) RevokePermission(_ context.Context, _ *model.Actor, _, permission string) error {
	s.gotPerm = permission
	return s.err
}

type stubSettings struct {
	items  []repository.Setting
	setErr error
	set    []string
}

func (s *stubSettings) List(context.Context) ([]repository.Setting, error) { return s.items, nil }

func (s *stubSettings) Set(_ context.Context, _ *model.Actor, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.set = append(s.set, key+"="+value)
	return nil
}

func (s *stubSettings) Delete(context.Context, *model.Actor, string) error { return s.setErr }

type stubReports struct {
	body string
	err  error
}

func (s *stubReports) ExportXLSX(_ context.Context, _ *model.Actor, _ model.NoteFilter, w io.Writer) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	_, _ = io.WriteString(w, s.body)
	return 3, nil
}

type stubIDP struct {
	status *service.IDPStatus
	err    error
}

func (s *stubIDP) GetStatus(context.Context, *model.Actor) (*service.IDPStatus, error) {
	return s.status, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(svc Services) *APIHandler {
	return NewAPIHandler(NewHealthHandler(nil, nil, nil, nil), svc, testLogger())
}

// withActor добавляет пользователя в контекст запроса.
func withActor(r *http.Request) *http.Request {
	actor := &model.Actor{ID: "user-1", Username: "maria", Email: "maria@fadex.test"}
	return r.WithContext(middleware.WithActor(r.Context(), actor))
}

// withURLParams подставляет chi-параметры маршрута.
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
