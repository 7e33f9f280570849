// Пакет mailer — отправка транзакционных писем через Resend (resend-go SDK).
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// ErrDisabled — отправка писем не настроена (NF_MAIL_API_URL пуст).
var ErrDisabled = errors.New("отправка писем отключена")

// Message — письмо.
type Message struct {
	To      []string
	Subject string
	HTML    string
	// Kind — тип уведомления для метрик и логов (attest_request, attested, …)
	Kind string
}

// Sender — отправка писем.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client — отправка писем через Resend API.
type Client struct {
	resend *resend.Client
	from   string
	logger *slog.Logger
}

// New создаёт почтовый клиент. Пустой baseURL — API Resend по умолчанию.
// timeout ограничивает каждую отправку (NF_MAIL_TIMEOUT).
func New(baseURL, apiKey, from string, timeout time.Duration, logger *slog.Logger) *Client {
	rc := resend.NewCustomClient(&http.Client{Timeout: timeout}, apiKey)
	if baseURL != "" {
		// SDK склеивает BaseURL с относительным путём "emails"
		if u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/"); err == nil {
			rc.BaseURL = u
		} else {
			logger.Warn("Некорректный NF_MAIL_API_URL, используется адрес Resend по умолчанию",
				slog.String("error", err.Error()),
			)
		}
	}
	return &Client{
		resend: rc,
		from:   from,
		logger: logger.With(slog.String("component", "mailer")),
	}
}

// Send отправляет письмо. Ошибка не откатывает бизнес-операцию: вызывающий
// сам решает, как её отразить.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("письмо %q без получателей", msg.Subject)
	}

	sent, err := c.resend.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    c.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("почтовый API: %w", err)
	}

	c.logger.Debug("Письмо отправлено",
		slog.String("kind", msg.Kind),
		slog.String("message_id", sent.Id),
		slog.Int("recipients", len(msg.To)),
	)
	return nil
}

// Disabled — Sender, используемый без настроенного провайдера.
type Disabled struct{}

// Send всегда возвращает ErrDisabled.
func (Disabled) Send(context.Context, Message) error {
	return ErrDisabled
}
