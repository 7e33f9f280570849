// notify.go — best-effort отправка уведомлений и метрики жизненного цикла.
// Ошибка отправки никогда не откатывает переход статуса: она возвращается
// вызывающему отдельно, в NotificationOutcome.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fadex/notas-fadex/internal/mailer"
)

// Prometheus-метрики жизненного цикла нот.
var (
	noteTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nf_note_transitions_total",
		Help: "Количество применённых переходов статуса нот.",
	}, []string{"to"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nf_notifications_total",
		Help: "Количество попыток отправки уведомлений по результату.",
	}, []string{"kind", "result"})

	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nf_sweep_expired_total",
		Help: "Количество нот, переведённых sweep в EXPIRADA.",
	})

	settingsCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nf_settings_cache_total",
		Help: "Обращения к кэшу настроек по результату (hit, miss).",
	}, []string{"result"})
)

// NotificationOutcome — результат отправки уведомления.
type NotificationOutcome struct {
	// Attempted — отправка выполнялась (false, если почта отключена)
	Attempted bool
	// Sent — провайдер принял письмо
	Sent bool
	// Err — ошибка построения или отправки письма
	Err error
}

// Failed сообщает, что письмо должно было уйти, но не ушло.
func (o NotificationOutcome) Failed() bool {
	return o.Attempted && !o.Sent
}

// notifier — обёртка над mailer.Sender с метриками и логированием.
type notifier struct {
	sender mailer.Sender
	logger *slog.Logger
}

// send строит и отправляет письмо. build вызывается только здесь,
// чтобы ошибка шаблона тоже попадала в NotificationOutcome.
func (n *notifier) send(ctx context.Context, noteID string, build func() (mailer.Message, error)) NotificationOutcome {
	msg, err := build()
	if err != nil {
		notificationsTotal.WithLabelValues(msg.Kind, "error").Inc()
		n.logger.Error("Ошибка построения письма",
			slog.String("note_id", noteID),
			slog.String("error", err.Error()),
		)
		return NotificationOutcome{Attempted: true, Err: err}
	}

	err = n.sender.Send(ctx, msg)
	switch {
	case err == nil:
		notificationsTotal.WithLabelValues(msg.Kind, "sent").Inc()
		return NotificationOutcome{Attempted: true, Sent: true}
	case errors.Is(err, mailer.ErrDisabled):
		notificationsTotal.WithLabelValues(msg.Kind, "disabled").Inc()
		return NotificationOutcome{}
	default:
		notificationsTotal.WithLabelValues(msg.Kind, "error").Inc()
		n.logger.Warn("Не удалось отправить уведомление",
			slog.String("note_id", noteID),
			slog.String("kind", msg.Kind),
			slog.String("error", err.Error()),
		)
		return NotificationOutcome{Attempted: true, Err: err}
	}
}
