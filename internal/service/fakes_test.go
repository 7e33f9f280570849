package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fadex/notas-fadex/internal/domain/lifecycle"
	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/keycloak"
	"github.com/fadex/notas-fadex/internal/mailer"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/token"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testPDF — минимальное содержимое с сигнатурой PDF.
var testPDF = []byte("%PDF-1.7\n1 0 obj << >> endobj\n%%EOF\n")

// --- fakeNoteRepo ---

// fakeNoteRepo — in-memory NoteRepository. Условный UPDATE моделируется
// проверкой статуса под мьютексом.
type fakeNoteRepo struct {
	mu     sync.Mutex
	notes  map[string]*model.FiscalNote
	events map[string][]model.NoteHistoryEvent

	// failApply — ошибка, возвращаемая ApplyTransition (до изменения состояния)
	failApply error
	// failCreate — ошибка, возвращаемая Create
	failCreate error
	// getCalls — количество обращений к чтению нот
	getCalls int
}

func newFakeNoteRepo() *fakeNoteRepo {
	return &fakeNoteRepo{
		notes:  make(map[string]*model.FiscalNote),
		events: make(map[string][]model.NoteHistoryEvent),
	}
}

func cloneNote(n *model.FiscalNote) *model.FiscalNote {
	c := *n
	c.History = nil
	return &c
}

// put добавляет ноту напрямую (фикстура).
func (r *fakeNoteRepo) put(n *model.FiscalNote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[n.ID] = cloneNote(n)
}

func (r *fakeNoteRepo) get(id string) *model.FiscalNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	if !ok {
		return nil
	}
	return cloneNote(n)
}

func (r *fakeNoteRepo) eventsOf(id string) []model.NoteHistoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.NoteHistoryEvent(nil), r.events[id]...)
}

func (r *fakeNoteRepo) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls
}

func (r *fakeNoteRepo) Create(_ context.Context, note *model.FiscalNote, created *model.NoteHistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	if _, ok := r.notes[note.ID]; ok {
		return repository.ErrConflict
	}
	r.notes[note.ID] = cloneNote(note)
	created.NoteID = note.ID
	r.events[note.ID] = append(r.events[note.ID], *created)
	return nil
}

func (r *fakeNoteRepo) GetByID(_ context.Context, id string) (*model.FiscalNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	n, ok := r.notes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneNote(n), nil
}

func (r *fakeNoteRepo) GetByFileID(_ context.Context, fileID string) (*model.FiscalNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	for _, n := range r.notes {
		if n.OwnsFile(fileID) {
			return cloneNote(n), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeNoteRepo) filtered(filter model.NoteFilter) []*model.FiscalNote {
	var out []*model.FiscalNote
	for _, n := range r.notes {
		if filter.CreatorID != nil && n.CreatorID != *filter.CreatorID {
			continue
		}
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		out = append(out, cloneNote(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeNoteRepo) List(_ context.Context, filter model.NoteFilter) ([]*model.FiscalNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.filtered(filter)
	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (r *fakeNoteRepo) Count(_ context.Context, filter model.NoteFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filtered(filter)), nil
}

func (r *fakeNoteRepo) ApplyTransition(
	_ context.Context,
	noteID string,
	tr model.Transition,
	event *model.NoteHistoryEvent,
) (*model.FiscalNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failApply != nil {
		return nil, r.failApply
	}
	n, ok := r.notes[noteID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if terr := lifecycle.ValidateTransition(n.Status, tr.To); terr != nil {
		if lifecycle.IsNotPending(terr) {
			return nil, fmt.Errorf("%w: %w", repository.ErrNotPending, terr)
		}
		return nil, terr
	}

	n.Status = tr.To
	n.UpdatedAt = tr.At
	if tr.To == model.StatusAttested {
		at := tr.At
		n.AttestedAt = &at
	}
	if tr.AttestedByID != nil {
		n.AttestedByID = tr.AttestedByID
	}
	if tr.AttestedBy != nil {
		n.AttestedBy = tr.AttestedBy
	}
	if tr.Observation != nil {
		n.Observation = tr.Observation
	}
	if tr.AttestedDriveFileID != nil {
		n.AttestedDriveFileID = tr.AttestedDriveFileID
	}
	if tr.AttestedFileURL != nil {
		n.AttestedFileURL = tr.AttestedFileURL
	}

	event.NoteID = noteID
	r.events[noteID] = append(r.events[noteID], *event)
	return cloneNote(n), nil
}

func (r *fakeNoteRepo) ExpireOverdue(
	_ context.Context,
	now time.Time,
	event func(*model.FiscalNote) *model.NoteHistoryEvent,
) ([]*model.FiscalNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FiscalNote
	for _, n := range r.notes {
		if n.Status != model.StatusPending || !n.AttestationDeadline.Before(now) {
			continue
		}
		n.Status = model.StatusExpired
		n.UpdatedAt = now
		e := event(n)
		e.NoteID = n.ID
		r.events[n.ID] = append(r.events[n.ID], *e)
		out = append(out, cloneNote(n))
	}
	return out, nil
}

func (r *fakeNoteRepo) ListDueReminders(_ context.Context, now, remindBefore time.Time) ([]*model.FiscalNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FiscalNote
	for _, n := range r.notes {
		last := n.CreatedAt
		if n.LastReminderAt != nil {
			last = *n.LastReminderAt
		}
		if n.Status == model.StatusPending && !n.AttestationDeadline.Before(now) && last.Before(remindBefore) {
			out = append(out, cloneNote(n))
		}
	}
	return out, nil
}

func (r *fakeNoteRepo) MarkReminded(_ context.Context, noteID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[noteID]
	if !ok || n.Status != model.StatusPending {
		return false, nil
	}
	n.LastReminderAt = &at
	return true, nil
}

// ListByNote реализует repository.HistoryRepository.
func (r *fakeNoteRepo) ListByNote(_ context.Context, noteID string) ([]model.NoteHistoryEvent, error) {
	return r.eventsOf(noteID), nil
}

// --- fakeGrants ---

type fakeGrants struct {
	mu     sync.Mutex
	grants map[string]map[rbac.Permission]model.PermissionGrant
	err    error
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{grants: make(map[string]map[rbac.Permission]model.PermissionGrant)}
}

func (g *fakeGrants) Exists(_ context.Context, userID string, perm rbac.Permission) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	_, ok := g.grants[userID][perm]
	return ok, nil
}

func (g *fakeGrants) Grant(_ context.Context, pg *model.PermissionGrant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grants[pg.UserID] == nil {
		g.grants[pg.UserID] = make(map[rbac.Permission]model.PermissionGrant)
	}
	g.grants[pg.UserID][pg.Permission] = *pg
	return nil
}

func (g *fakeGrants) Revoke(_ context.Context, userID string, perm rbac.Permission) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.grants[userID][perm]; !ok {
		return repository.ErrNotFound
	}
	delete(g.grants[userID], perm)
	return nil
}

func (g *fakeGrants) ListByUser(_ context.Context, userID string) ([]model.PermissionGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.PermissionGrant
	for _, pg := range g.grants[userID] {
		out = append(out, pg)
	}
	return out, nil
}

// --- fakeRoles ---

type fakeRoles struct {
	mu    sync.Mutex
	roles map[string]*model.RoleAssignment
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: make(map[string]*model.RoleAssignment)}
}

func (r *fakeRoles) Upsert(_ context.Context, ra *model.RoleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *ra
	r.roles[ra.UserID] = &c
	return nil
}

func (r *fakeRoles) GetByUserID(_ context.Context, userID string) (*model.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra, ok := r.roles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *ra
	return &c, nil
}

func (r *fakeRoles) GetAssignedRole(_ context.Context, userID string) (*rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra, ok := r.roles[userID]
	if !ok {
		return nil, nil
	}
	role := ra.Role
	return &role, nil
}

func (r *fakeRoles) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.roles, userID)
	return nil
}

func (r *fakeRoles) List(_ context.Context, _, _ int) ([]*model.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.RoleAssignment
	for _, ra := range r.roles {
		out = append(out, ra)
	}
	return out, nil
}

// --- fakeSettingsRepo ---

type fakeSettingsRepo struct {
	mu     sync.Mutex
	values map[string]repository.Setting
	gets   int
	err    error
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{values: make(map[string]repository.Setting)}
}

func (r *fakeSettingsRepo) Get(_ context.Context, key string) (*repository.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.err != nil {
		return nil, r.err
	}
	s, ok := r.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *fakeSettingsRepo) Set(_ context.Context, key, value, updatedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = repository.Setting{Key: key, Value: value, UpdatedBy: updatedBy, UpdatedAt: time.Now()}
	return nil
}

func (r *fakeSettingsRepo) List(_ context.Context) ([]repository.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Setting
	for _, s := range r.values {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeSettingsRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.values, key)
	return nil
}

// --- staticSettings ---

type staticSettings struct {
	deadline int
	reminder int
	disabled bool
}

func (s staticSettings) DeadlineDays(context.Context) int          { return s.deadline }
func (s staticSettings) ReminderFrequencyDays(context.Context) int { return s.reminder }
func (s staticSettings) RemindersEnabled(context.Context) bool     { return !s.disabled }

// --- fakeSender ---

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailer.Message(nil), f.sent...)
}

// --- fakeStore ---

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	uploads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Upload(_ context.Context, name, contentType string, r io.Reader) (*filestore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.err != nil {
		return nil, s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	id := filestore.ObjectID(name)
	s.objects[id] = data
	return &filestore.Object{ID: id, Name: name, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *fakeStore) Open(_ context.Context, id string) (io.ReadCloser, *filestore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	if !ok {
		return nil, nil, filestore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), &filestore.Object{ID: id, Size: int64(len(data))}, nil
}

func (s *fakeStore) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// --- fakeLocker ---

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, ErrSweepInProgress
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

// --- fakeDirectory ---

type fakeDirectory struct {
	users  map[string]keycloak.User
	groups map[string][]string
	err    error
}

func (d *fakeDirectory) ListUsers(_ context.Context, _ string, _, _ int) ([]keycloak.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []keycloak.User
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *fakeDirectory) CountUsers(context.Context) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	return len(d.users), nil
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*keycloak.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, keycloak.ErrNotFound
	}
	return &u, nil
}

func (d *fakeDirectory) GetUserGroups(_ context.Context, userID string) ([]keycloak.Group, error) {
	var out []keycloak.Group
	for _, g := range d.groups[userID] {
		out = append(out, keycloak.Group{Name: g})
	}
	return out, nil
}

func (d *fakeDirectory) RealmInfo(context.Context) (*keycloak.Realm, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &keycloak.Realm{Realm: "fadex", Enabled: true}, nil
}

// --- окружение сервиса нот ---

// testNow — фиксированное «сейчас» тестов.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testSecret = "test-auth-secret"

// noteEnv — собранный NoteService с фейковыми зависимостями.
type noteEnv struct {
	repo     *fakeNoteRepo
	grants   *fakeGrants
	sender   *fakeSender
	store    *fakeStore
	tokens   *token.Service
	gate     *PermissionGate
	notes    *NoteService
	attest   *AttestationService
	now      time.Time
	settings staticSettings
}

func newNoteEnv(t *testing.T) *noteEnv {
	t.Helper()
	env := &noteEnv{
		repo:     newFakeNoteRepo(),
		grants:   newFakeGrants(),
		sender:   &fakeSender{},
		store:    newFakeStore(),
		now:      testNow,
		settings: staticSettings{deadline: 30, reminder: 3},
	}
	clock := func() time.Time { return env.now }

	tokens, err := token.New(testSecret, token.WithClock(clock))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	env.tokens = tokens
	env.gate = NewPermissionGate(env.grants)
	env.notes = NewNoteService(env.repo, env.repo, env.settings, tokens, env.store, env.gate,
		env.sender, "https://notas.fadex.test/", testLogger())
	env.notes.SetClock(clock)
	env.attest = NewAttestationService(tokens, env.notes, env.store, testLogger())
	env.attest.SetClock(clock)
	return env
}

// pendingNote добавляет ноту PENDENTE со сроком deadline.
func (e *noteEnv) pendingNote(t *testing.T, id string, deadline time.Time) *model.FiscalNote {
	t.Helper()
	n := &model.FiscalNote{
		ID:                   id,
		Status:               model.StatusPending,
		AttestationDeadline:  deadline,
		Amount:               decimal.RequireFromString("1530.75"),
		IssueDate:            testNow.AddDate(0, 0, -2),
		NumeroNota:           "NF-" + id,
		ProjectAccountNumber: "12345-6",
		ProjectTitle:         "Projeto Alfa",
		Requester:            "Maria",
		RequesterEmail:       "maria@fadex.test",
		CoordinatorEmail:     "coord@fadex.test",
		CreatorID:            "user-maria",
		CreatedAt:            testNow.AddDate(0, 0, -1),
		UpdatedAt:            testNow.AddDate(0, 0, -1),
	}
	e.repo.put(n)
	return n
}

func (e *noteEnv) issue(t *testing.T, noteID string) string {
	t.Helper()
	tok, err := e.tokens.Issue(noteID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func pdfFile(size int64) *UploadedFile {
	if size == 0 {
		size = int64(len(testPDF))
	}
	return &UploadedFile{
		Filename:    "atestado.pdf",
		ContentType: "application/pdf",
		Size:        size,
		Content:     bytes.NewReader(testPDF),
	}
}

func actor(id string, role rbac.Role) *model.Actor {
	return &model.Actor{ID: id, Username: id, Email: id + "@fadex.test", Role: role}
}

var errBoom = errors.New("boom")
