// Package notifier публикует уведомления пользователям в очередь рассылки.
// Ошибка публикации никогда не прерывает вызывающую операцию.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Publisher отправляет сообщение в брокер.
type Publisher interface {
	Publish(ctx context.Context, message any) error
}

// Notifier публикует models.Notification через Publisher.
type Notifier struct {
	log       *slog.Logger
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
}

// New создаёт Notifier. timeout ограничивает одну публикацию.
func New(log *slog.Logger, publisher Publisher, timeout time.Duration) *Notifier {
	return &Notifier{
		log:       log,
		publisher: publisher,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Notify публикует уведомление kind для recipient. Возвращает false, если
// сообщение не удалось поставить в очередь; причина пишется в лог.
func (n *Notifier) Notify(ctx context.Context, kind models.NotificationKind, recipient string, params map[string]string) bool {
	const op = "notifier.Notify"
	log := n.log.With(slog.String("op", op), slog.String("kind", string(kind)), slog.String("recipient", recipient))

	if recipient == "" {
		log.Warn("notification skipped: empty recipient")
		metrics.NotificationsTotal.WithLabelValues(string(kind), metrics.OutcomeSkipped).Inc()
		return false
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	msg := models.Notification{
		Kind:      kind,
		Recipient: recipient,
		Params:    params,
		CreatedAt: n.now().UTC(),
	}
	if err := n.publisher.Publish(ctx, msg); err != nil {
		log.Error("failed to publish notification", sl.Err(err))
		metrics.NotificationsTotal.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return false
	}

	log.Debug("notification published")
	metrics.NotificationsTotal.WithLabelValues(string(kind), metrics.OutcomeSuccess).Inc()
	return true
}
