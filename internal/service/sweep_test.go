package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/mailer"
)

func newSweep(env *noteEnv, locker Locker) *ExpirationSweep {
	s := NewExpirationSweep(env.repo, locker, time.Minute, env.sender, testLogger())
	s.SetClock(func() time.Time { return env.now })
	return s
}

// Сценарий 1: просроченная нота переходит в EXPIRADA с системным событием.
func TestExpirationSweep_ExpiresOverdue(t *testing.T) {
	env := newNoteEnv(t)
	deadline := time.Date(2026, 2, 27, 15, 0, 0, 0, time.UTC)
	overdue := env.pendingNote(t, "n1", deadline)
	fresh := env.pendingNote(t, "n2", testNow.Add(time.Hour))

	res, err := newSweep(env, LocalLocker{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() ошибка: %v", err)
	}
	if res.UpdatedCount != 1 {
		t.Errorf("UpdatedCount = %d, ожидается 1", res.UpdatedCount)
	}

	if got := env.repo.get(overdue.ID); got.Status != model.StatusExpired {
		t.Errorf("статус просроченной = %s", got.Status)
	}
	if got := env.repo.get(fresh.ID); got.Status != model.StatusPending {
		t.Errorf("непросроченная нота изменена: %s", got.Status)
	}

	events := env.repo.eventsOf(overdue.ID)
	if len(events) != 1 {
		t.Fatalf("событий = %d, ожидается 1", len(events))
	}
	e := events[0]
	if e.Type != model.HistoryExpired || e.UserName != "Sistema (Cron Job)" || e.AuthorID != nil {
		t.Errorf("событие = %+v", e)
	}
	if e.Details != "A nota expirou em 27/02/2026 pois não foi atestada até o prazo final." {
		t.Errorf("Details = %q", e.Details)
	}

	msgs := env.sender.messages()
	if len(msgs) != 1 || msgs[0].Kind != mailer.KindExpired {
		t.Errorf("письма = %+v", msgs)
	}
}

func TestExpirationSweep_ManyNotes(t *testing.T) {
	env := newNoteEnv(t)
	const n = 25
	for i := 0; i < n; i++ {
		env.pendingNote(t, fmt.Sprintf("n%02d", i), testNow.AddDate(0, 0, -i-1))
	}

	res, err := newSweep(env, LocalLocker{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() ошибка: %v", err)
	}
	if res.UpdatedCount != n {
		t.Errorf("UpdatedCount = %d, ожидается %d", res.UpdatedCount, n)
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("n%02d", i)
		if events := env.repo.eventsOf(id); len(events) != 1 || events[0].Type != model.HistoryExpired {
			t.Errorf("нота %s: события %+v", id, events)
		}
	}
}

// P6: повторный прогон ничего не меняет.
func TestExpirationSweep_Idempotent(t *testing.T) {
	env := newNoteEnv(t)
	env.pendingNote(t, "n1", testNow.Add(-time.Minute))
	sweep := newSweep(env, LocalLocker{})

	if _, err := sweep.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("второй Run() ошибка: %v", err)
	}
	if res.UpdatedCount != 0 {
		t.Errorf("UpdatedCount второго прогона = %d, ожидается 0", res.UpdatedCount)
	}
	if len(env.repo.eventsOf("n1")) != 1 {
		t.Error("второй прогон не должен добавлять события")
	}
	if len(env.sender.messages()) != 1 {
		t.Error("письмо об истечении отправляется один раз")
	}
}

func TestExpirationSweep_SkipsTerminal(t *testing.T) {
	env := newNoteEnv(t)
	n := env.pendingNote(t, "n1", testNow.AddDate(0, 0, -5))
	n.Status = model.StatusAttested
	env.repo.put(n)

	res, err := newSweep(env, LocalLocker{}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.UpdatedCount != 0 {
		t.Errorf("UpdatedCount = %d, ATESTADA не истекает", res.UpdatedCount)
	}
	if got := env.repo.get(n.ID); got.Status != model.StatusAttested {
		t.Errorf("статус = %s", got.Status)
	}
}

func TestExpirationSweep_NotificationFailureCounted(t *testing.T) {
	env := newNoteEnv(t)
	env.sender.err = errBoom
	env.pendingNote(t, "n1", testNow.Add(-time.Hour))
	env.pendingNote(t, "n2", testNow.Add(-time.Hour))

	res, err := newSweep(env, LocalLocker{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v, ошибка письма не прерывает sweep", err)
	}
	if res.UpdatedCount != 2 || res.NotificationsFailed != 2 {
		t.Errorf("результат = %+v", res)
	}
	if env.repo.get("n1").Status != model.StatusExpired {
		t.Error("нота должна остаться EXPIRADA")
	}
}

func TestExpirationSweep_LockHeld(t *testing.T) {
	env := newNoteEnv(t)
	env.pendingNote(t, "n1", testNow.Add(-time.Hour))
	locker := &fakeLocker{}

	release, err := locker.Obtain(context.Background(), sweepLockKey, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	_, err = newSweep(env, locker).Run(context.Background())
	if !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("Run() = %v, ожидается ErrSweepInProgress", err)
	}
	if env.repo.get("n1").Status != model.StatusPending {
		t.Error("при занятой блокировке ноты не меняются")
	}

	if err := release(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := newSweep(env, locker).Run(context.Background())
	if err != nil || res.UpdatedCount != 1 {
		t.Errorf("Run() после освобождения = %+v, %v", res, err)
	}
	// Блокировка освобождена после прогона
	if _, err := locker.Obtain(context.Background(), sweepLockKey, time.Minute); err != nil {
		t.Errorf("блокировка не освобождена: %v", err)
	}
}

// Sweep и ручной переход конкурируют за одну ноту: событие ровно одно.
func TestExpirationSweep_RaceWithAttest(t *testing.T) {
	env := newNoteEnv(t)
	n := env.pendingNote(t, "n1", testNow.Add(-time.Minute))

	if _, err := newSweep(env, LocalLocker{}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := env.notes.Attest(context.Background(), AttestCommand{NoteID: n.ID, CoordinatorName: "José"})
	if !errors.Is(err, ErrNoteNotPending) {
		t.Errorf("Attest() после sweep = %v, ожидается ErrNoteNotPending", err)
	}
	if len(env.repo.eventsOf(n.ID)) != 1 {
		t.Error("ожидается единственное событие EXPIRED")
	}
}
