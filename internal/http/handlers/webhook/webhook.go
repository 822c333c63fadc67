// Package webhook принимает вебхуки платёжного провайдера: проверяет
// подпись, приводит событие к доменному виду и передаёт на сверку.
//
// Ошибки сверки отдаются провайдеру 5xx, чтобы он повторил доставку.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
)

// MaxBodyBytes - предел размера тела вебхука.
const MaxBodyBytes = 1 << 20

// SignatureHeader - заголовок с подписью провайдера.
const SignatureHeader = "Stripe-Signature"

// Parser проверяет подпись и разбирает событие.
type Parser interface {
	ParseWebhook(payload []byte, signature string) (models.ProviderEvent, error)
}

// Reconciler применяет событие к журналу.
type Reconciler interface {
	Reconcile(ctx context.Context, ev models.ProviderEvent) error
}

// Handler обрабатывает POST /webhook.
type Handler struct {
	log        *slog.Logger
	parser     Parser
	reconciler Reconciler
}

// New создаёт Handler.
func New(log *slog.Logger, parser Parser, reconciler Reconciler) *Handler {
	return &Handler{
		log:        log,
		parser:     parser,
		reconciler: reconciler,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Проверяет подпись Stripe-Signature и применяет событие к журналу кредитов.
// @Tags Webhook
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись провайдера"
// @Success 200 {object} response.Response "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или тело"
// @Failure 413 {object} response.ErrorResponse "Слишком большое тело"
// @Failure 500 {object} response.ErrorResponse "Событие не применено"
// @Failure 502 {object} response.ErrorResponse "Сбой внешнего сервиса"
// @Router /webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status = http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(status)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	ev, err := h.parser.ParseWebhook(body, r.Header.Get(SignatureHeader))
	if err != nil {
		status = http.StatusBadRequest
		msg := "invalid payload"
		if errors.Is(err, paymentprovider.ErrInvalidSignature) {
			msg = "invalid signature"
		}
		log.Warn("webhook rejected", sl.Err(err))
		w.WriteHeader(status)
		render.JSON(w, r, response.Error(msg))
		return
	}
	eventType = string(ev.Type)
	log = log.With(slog.String("event_id", ev.ID), slog.String("event_type", eventType))

	if err := h.reconciler.Reconcile(r.Context(), ev); err != nil {
		log.Error("failed to reconcile webhook event", sl.Err(err))
		var resp response.Response
		status, resp = response.FromError(err)
		w.WriteHeader(status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("webhook processed")
	render.JSON(w, r, response.OKWithData(map[string]any{
		"received": true,
		"event_id": ev.ID,
	}))
}
