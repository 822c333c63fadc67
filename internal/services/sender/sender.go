// Package sender читает уведомления из очереди и отправляет их письмами по SMTP.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/billing-reconciler/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/smtp"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// ErrUnknownKind - тип уведомления не поддерживается.
var ErrUnknownKind = errors.New("unknown notification kind")

// Service отправляет письма.
type Service struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// New создает новый экземпляр Service.
func New(log *slog.Logger, transport smtp.TransportInterface) *Service {
	return &Service{
		transport: transport,
		log:       log,
	}
}

// Handle обрабатывает тело сообщения из очереди. Нечитаемое сообщение
// и неизвестный тип отмечаются rabbitmq.ErrPermanent.
func (s *Service) Handle(ctx context.Context, body []byte) error {
	const op = "sender.Handle"

	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Error("failed to unmarshal message body", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: error unmarshalling message: %w: %w", op, err, rabbitmq.ErrPermanent)
	}
	if err := s.Send(ctx, n); err != nil {
		if errors.Is(err, ErrUnknownKind) {
			return fmt.Errorf("%s: %w: %w", op, err, rabbitmq.ErrPermanent)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Send формирует и отправляет письмо для уведомления n.
func (s *Service) Send(ctx context.Context, n models.Notification) error {
	const op = "sender.Send"
	if n.Recipient == "" {
		return fmt.Errorf("%s: empty recipient: %w", op, rabbitmq.ErrPermanent)
	}
	subject, body, err := Render(n)
	if err != nil {
		s.log.Error("failed to render notification", slog.String("kind", string(n.Kind)), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.sendEmail(ctx, []string{n.Recipient}, subject, body)
}

// Render возвращает тему и текст письма.
func Render(n models.Notification) (subject, body string, err error) {
	p := func(key string) string { return n.Params[key] }

	switch n.Kind {
	case models.NotifyTrialExpiry:
		subject = "Your Trial Period is Ending Soon"
		body = fmt.Sprintf("Hello,\n\nYour trial period will expire in %s days. "+
			"To continue using our services, please upgrade to one of our subscription plans.\n",
			p(models.ParamDaysRemaining))
	case models.NotifyPaymentBlocked:
		subject = "Action Required: Payment Overdue"
		body = fmt.Sprintf("Hello,\n\nYour subscription has been suspended due to a missed payment. "+
			"To restore access, please complete the payment by %s.\n\n"+
			"After this date, your remaining credits will be reset.\n",
			p(models.ParamDueDate))
	case models.NotifySubscriptionCancelled:
		subject = "Subscription Cancelled - Benefits Period Active"
		body = fmt.Sprintf("Hello,\n\nYour subscription has been cancelled. "+
			"You can continue to use your remaining credits until %s.\n\n"+
			"You can resubscribe at any time to continue using our services.\n",
			p(models.ParamBenefitsEndDate))
	case models.NotifyBenefitsExpiring:
		subject = "Your Benefits Period is Ending Soon"
		body = fmt.Sprintf("Hello,\n\nYour benefits period will expire in %s days. "+
			"After this, your remaining credits will no longer be accessible.\n\n"+
			"To continue using our services, please consider resubscribing.\n",
			p(models.ParamDaysRemaining))
	case models.NotifyPaymentSuccess:
		subject = "Payment Successful"
		body = fmt.Sprintf("Hello,\n\nWe've successfully processed your payment of %s for the %s plan.\n\n"+
			"Your account has been updated with the new credits.\n",
			p(models.ParamAmount), p(models.ParamPlanName))
	default:
		return "", "", fmt.Errorf("%q: %w", n.Kind, ErrUnknownKind)
	}
	return subject, body, nil
}

func (s *Service) sendEmail(ctx context.Context, to []string, subject, bodyText string) error {
	from := s.transport.From()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect(ctx)
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			s.log.Debug("failed to close SMTP client", sl.Err(closeErr))
		}
	}()

	if err := client.Mail(from); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to), slog.String("subject", subject))
	return nil
}
