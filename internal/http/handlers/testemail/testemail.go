// Package testemail реализует служебный обработчик, который ставит в очередь
// пример письма выбранного типа.
package testemail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Notifier ставит уведомление в очередь.
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, recipient string, params map[string]string) bool
}

// Request - тело запроса. Type по умолчанию trial_expiry.
type Request struct {
	Email string `json:"email" validate:"required,email"`
	Type  string `json:"type,omitempty"`
}

// Result - итог отправки.
type Result struct {
	Message string `json:"message"`
}

// Handler обрабатывает POST /test/emails.
type Handler struct {
	log      *slog.Logger
	notifier Notifier
	validate *validator.Validate
	now      func() time.Time
}

// New создаёт Handler.
func New(log *slog.Logger, notifier Notifier) *Handler {
	return &Handler{
		log:      log,
		notifier: notifier,
		validate: validator.New(),
		now:      time.Now,
	}
}

// SampleParams возвращает параметры примера письма kind относительно now.
func SampleParams(kind models.NotificationKind, now time.Time) map[string]string {
	switch kind {
	case models.NotifyTrialExpiry:
		return map[string]string{models.ParamDaysRemaining: strconv.Itoa(3)}
	case models.NotifyPaymentBlocked:
		return map[string]string{models.ParamDueDate: now.AddDate(0, 0, 7).Format(models.DateLayout)}
	case models.NotifySubscriptionCancelled:
		return map[string]string{models.ParamBenefitsEndDate: now.AddDate(0, 0, 90).Format(models.DateLayout)}
	case models.NotifyBenefitsExpiring:
		return map[string]string{models.ParamDaysRemaining: strconv.Itoa(7)}
	case models.NotifyPaymentSuccess:
		return map[string]string{models.ParamPlanName: "Pro Plan", models.ParamAmount: "$99.99"}
	}
	return nil
}

// ServeHTTP godoc
// @Summary Отправить тестовое письмо
// @Tags Notifications
// @Accept  json
// @Produce  json
// @Param request body Request true "Адрес и тип письма"
// @Success 200 {object} response.Response "Письмо поставлено в очередь"
// @Failure 400 {object} response.ErrorResponse "Неверный адрес или тип"
// @Failure 500 {object} response.ErrorResponse "Не удалось поставить в очередь"
// @Router /test/emails [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.testemail"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		render.JSON(w, r, response.Error("invalid request"))
		return
	}

	if req.Type == "" {
		req.Type = string(models.NotifyTrialExpiry)
	}
	kind, ok := models.ParseNotificationKind(req.Type)
	if !ok {
		log.Warn("unknown email type", slog.String("type", req.Type))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid email type"))
		return
	}

	if !h.notifier.Notify(r.Context(), kind, req.Email, SampleParams(kind, h.now().UTC())) {
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error(fmt.Sprintf("failed to send %s email", kind)))
		return
	}

	log.Info("test email queued", slog.String("type", string(kind)))
	render.JSON(w, r, response.OKWithData(Result{
		Message: fmt.Sprintf("queued %s email to %s", kind, req.Email),
	}))
}
