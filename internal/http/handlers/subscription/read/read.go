// Package read реализует HTTP-обработчик получения подписки пользователя.
package read

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
)

// Service возвращает подписку по email.
type Service interface {
	Get(ctx context.Context, email string) (*paymentprovider.Subscription, error)
}

// Handler обрабатывает GET /subscription.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// Result - тело успешного ответа. Subscription равна null, если подписки нет.
type Result struct {
	Subscription *paymentprovider.Subscription `json:"subscription"`
}

// ServeHTTP godoc
// @Summary Текущая подписка
// @Description Возвращает состояние подписки у провайдера или null.
// @Tags Subscription
// @Produce  json
// @Param email query string true "Email пользователя"
// @Success 200 {object} response.Response "Подписка или null"
// @Failure 400 {object} response.ErrorResponse "Не указан email"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 502 {object} response.ErrorResponse "Сбой провайдера"
// @Router /subscription [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.read"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	sub, err := h.service.Get(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		log.Error("failed to get subscription", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(Result{Subscription: sub}))
}
