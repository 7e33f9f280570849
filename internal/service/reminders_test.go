package service

import (
	"context"
	"testing"
	"time"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/mailer"
)

func newReminders(env *noteEnv, settings SettingsReader) *ReminderService {
	s := NewReminderService(env.repo, settings, env.tokens, env.sender, "https://notas.fadex.test", testLogger())
	s.SetClock(func() time.Time { return env.now })
	return s
}

func TestReminderService_Run(t *testing.T) {
	env := newNoteEnv(t)
	due := env.pendingNote(t, "n1", testNow.AddDate(0, 0, 10))
	due.CreatedAt = testNow.AddDate(0, 0, -5)
	env.repo.put(due)

	recent := env.pendingNote(t, "n2", testNow.AddDate(0, 0, 10))
	recent.CreatedAt = testNow.AddDate(0, 0, -1)
	env.repo.put(recent)

	overdue := env.pendingNote(t, "n3", testNow.Add(-time.Hour))
	overdue.CreatedAt = testNow.AddDate(0, 0, -40)
	env.repo.put(overdue)

	res, err := newReminders(env, env.settings).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() ошибка: %v", err)
	}
	if res.Sent != 1 || res.Failed != 0 {
		t.Errorf("результат = %+v, ожидается одно напоминание", res)
	}

	msgs := env.sender.messages()
	if len(msgs) != 1 || msgs[0].Kind != mailer.KindReminder || msgs[0].To[0] != "coord@fadex.test" {
		t.Fatalf("письма = %+v", msgs)
	}
	if got := env.repo.get(due.ID); got.LastReminderAt == nil || !got.LastReminderAt.Equal(testNow) {
		t.Errorf("LastReminderAt = %v", got.LastReminderAt)
	}
	if len(env.repo.eventsOf(due.ID)) != 0 {
		t.Error("напоминание не меняет историю ноты")
	}

	// Повторный прогон в тот же день ничего не отправляет
	res, err = newReminders(env, env.settings).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 {
		t.Errorf("повторное напоминание отправлено: %+v", res)
	}
}

func TestReminderService_Disabled(t *testing.T) {
	env := newNoteEnv(t)
	n := env.pendingNote(t, "n1", testNow.AddDate(0, 0, 10))
	n.CreatedAt = testNow.AddDate(0, 0, -10)
	env.repo.put(n)

	res, err := newReminders(env, staticSettings{deadline: 30, reminder: 3, disabled: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || len(env.sender.messages()) != 0 {
		t.Errorf("напоминания отключены, но отправлены: %+v", res)
	}
}

func TestReminderService_SendFailureKeepsDue(t *testing.T) {
	env := newNoteEnv(t)
	env.sender.err = errBoom
	n := env.pendingNote(t, "n1", testNow.AddDate(0, 0, 10))
	n.CreatedAt = testNow.AddDate(0, 0, -10)
	env.repo.put(n)

	res, err := newReminders(env, env.settings).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Sent != 0 {
		t.Errorf("результат = %+v", res)
	}
	if env.repo.get(n.ID).LastReminderAt != nil {
		t.Error("неудачное напоминание не фиксируется")
	}
}

func TestReminderService_MailDisabledSkips(t *testing.T) {
	env := newNoteEnv(t)
	env.sender.err = mailer.ErrDisabled
	n := env.pendingNote(t, "n1", testNow.AddDate(0, 0, 10))
	n.CreatedAt = testNow.AddDate(0, 0, -10)
	env.repo.put(n)

	res, err := newReminders(env, env.settings).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("результат = %+v", res)
	}
}

func TestReminderService_IgnoresTerminal(t *testing.T) {
	env := newNoteEnv(t)
	n := env.pendingNote(t, "n1", testNow.AddDate(0, 0, 10))
	n.CreatedAt = testNow.AddDate(0, 0, -10)
	n.Status = model.StatusRejected
	env.repo.put(n)

	res, err := newReminders(env, env.settings).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 {
		t.Errorf("напоминание по REJEITADA: %+v", res)
	}
}
