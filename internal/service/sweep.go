// sweep.go — массовое истечение сроков аттестации.
// Вызывается планировщиком через /api/cron/check-expirations.
// Конкурентные запуски сериализуются распределённой блокировкой Redis;
// корректность при этом обеспечивает условный UPDATE в репозитории.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/mailer"
	"github.com/fadex/notas-fadex/internal/repository"
)

// sweepLockKey — ключ блокировки sweep в Redis.
const sweepLockKey = "notas-fadex:lock:expiration-sweep"

// Locker — распределённая блокировка.
type Locker interface {
	// Obtain захватывает блокировку key на ttl. Возвращает функцию освобождения.
	// Если блокировка занята — ErrSweepInProgress.
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker — Locker поверх bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker создаёт Locker поверх клиента redislock.
func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Obtain захватывает блокировку без повторных попыток.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrSweepInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка захвата блокировки %s: %w", key, err)
	}
	return lock.Release, nil
}

// LocalLocker — Locker без Redis: ничего не блокирует (один экземпляр).
type LocalLocker struct{}

// Obtain всегда успешен.
func (LocalLocker) Obtain(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// SweepResult — итог прогона sweep.
type SweepResult struct {
	// UpdatedCount — количество нот, переведённых в EXPIRADA этим прогоном
	UpdatedCount int
	// NotificationsFailed — сколько писем об истечении не удалось отправить
	NotificationsFailed int
}

// ExpirationSweep — массовый перевод просроченных нот в EXPIRADA.
type ExpirationSweep struct {
	notes    repository.NoteRepository
	locker   Locker
	lockTTL  time.Duration
	notifier *notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewExpirationSweep создаёт ExpirationSweep.
func NewExpirationSweep(
	notes repository.NoteRepository,
	locker Locker,
	lockTTL time.Duration,
	sender mailer.Sender,
	logger *slog.Logger,
) *ExpirationSweep {
	l := logger.With(slog.String("service", "expiration_sweep"))
	return &ExpirationSweep{
		notes:    notes,
		locker:   locker,
		lockTTL:  lockTTL,
		notifier: &notifier{sender: sender, logger: l},
		now:      time.Now,
		logger:   l,
	}
}

// SetClock подменяет источник времени (для тестов).
func (s *ExpirationSweep) SetClock(now func() time.Time) {
	s.now = now
}

// Run переводит все PENDENTE-ноты с истёкшим сроком в EXPIRADA.
// Письма отправляются только по нотам, изменённым этим прогоном.
func (s *ExpirationSweep) Run(ctx context.Context) (*SweepResult, error) {
	release, err := s.locker.Obtain(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Контекст запроса может быть уже отменён — освобождаем независимо
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Не удалось освободить блокировку sweep",
				slog.String("error", err.Error()),
			)
		}
	}()

	start := s.now()
	now := start.UTC()
	expired, err := s.notes.ExpireOverdue(ctx, now, func(n *model.FiscalNote) *model.NoteHistoryEvent {
		return expiredEvent(n, now)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка истечения сроков: %w", err)
	}

	result := &SweepResult{UpdatedCount: len(expired)}
	sweepExpiredTotal.Add(float64(len(expired)))
	noteTransitionsTotal.WithLabelValues(string(model.StatusExpired)).Add(float64(len(expired)))

	for _, n := range expired {
		outcome := s.notifier.send(ctx, n.ID, func() (mailer.Message, error) {
			return mailer.Expired(n)
		})
		if outcome.Failed() {
			result.NotificationsFailed++
		}
	}

	s.logger.Info("Проверка истечения сроков завершена",
		slog.Int("updated_count", result.UpdatedCount),
		slog.Int("notifications_failed", result.NotificationsFailed),
		slog.Duration("duration", s.now().Sub(start)),
	)
	return result, nil
}
