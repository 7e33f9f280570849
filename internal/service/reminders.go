// reminders.go — периодические напоминания координаторам о нотах PENDENTE.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/mailer"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/token"
)

// ReminderResult — итог прогона напоминаний.
type ReminderResult struct {
	Sent    int
	Failed  int
	Skipped int
}

// ReminderService отправляет координаторам повторные ссылки аттестации
// не чаще одного раза в reminder.frequency_days.
type ReminderService struct {
	notes    repository.NoteRepository
	settings SettingsReader
	tokens   *token.Service
	notifier *notifier
	baseURL  string
	now      func() time.Time
	logger   *slog.Logger
}

// NewReminderService создаёт ReminderService.
func NewReminderService(
	notes repository.NoteRepository,
	settings SettingsReader,
	tokens *token.Service,
	sender mailer.Sender,
	baseURL string,
	logger *slog.Logger,
) *ReminderService {
	l := logger.With(slog.String("service", "reminders"))
	return &ReminderService{
		notes:    notes,
		settings: settings,
		tokens:   tokens,
		notifier: &notifier{sender: sender, logger: l},
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
		logger:   l,
	}
}

// SetClock подменяет источник времени (для тестов).
func (s *ReminderService) SetClock(now func() time.Time) {
	s.now = now
}

// Run отправляет напоминания по всем нотам, которым они положены.
// Время напоминания фиксируется только после успешной отправки.
func (s *ReminderService) Run(ctx context.Context) (*ReminderResult, error) {
	result := &ReminderResult{}
	if !s.settings.RemindersEnabled(ctx) {
		s.logger.Debug("Напоминания отключены настройкой")
		return result, nil
	}

	now := s.now().UTC()
	days := s.settings.ReminderFrequencyDays(ctx)
	due, err := s.notes.ListDueReminders(ctx, now, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки нот для напоминаний: %w", err)
	}

	for _, n := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		s.remind(ctx, n, now, result)
	}

	s.logger.Info("Напоминания отправлены",
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *ReminderService) remind(ctx context.Context, n *model.FiscalNote, now time.Time, result *ReminderResult) {
	tok, err := s.tokens.Issue(n.ID)
	if err != nil {
		s.logger.Error("Ошибка выпуска токена для напоминания",
			slog.String("note_id", n.ID),
			slog.String("error", err.Error()),
		)
		result.Failed++
		return
	}

	link := token.AttestURL(s.baseURL, tok)
	outcome := s.notifier.send(ctx, n.ID, func() (mailer.Message, error) {
		return mailer.Reminder(n, link)
	})
	if !outcome.Sent {
		if outcome.Attempted {
			result.Failed++
		} else {
			result.Skipped++
		}
		return
	}

	marked, err := s.notes.MarkReminded(ctx, n.ID, now)
	if err != nil {
		s.logger.Warn("Не удалось отметить напоминание",
			slog.String("note_id", n.ID),
			slog.String("error", err.Error()),
		)
	}
	if !marked {
		// Нота перешла в терминальный статус во время прогона
		result.Skipped++
		return
	}
	result.Sent++
}
