// Package checkout реализует HTTP-обработчик создания сессии оформления заказа.
//
// Handler принимает JSON с email и позициями покупки, валидирует его и
// возвращает идентификатор и адрес сессии провайдера.
package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/checkout"
)

// Service описывает оформление покупки.
type Service interface {
	CreateSession(ctx context.Context, req checkout.Request) (paymentprovider.Session, error)
}

// Handler обрабатывает POST /checkout-sessions.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать сессию оформления заказа
// @Description Проверяет состав покупки и открывает сессию оплаты или подписки у провайдера.
// @Tags Checkout
// @Accept  json
// @Produce  json
// @Param request body checkout.Request true "Email и позиции покупки"
// @Success 200 {object} response.Response "Сессия создана"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос или смешанные планы"
// @Failure 409 {object} response.ErrorResponse "Покупка противоречит состоянию пользователя"
// @Failure 502 {object} response.ErrorResponse "Сбой провайдера"
// @Router /checkout-sessions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req checkout.Request
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

	session, err := h.service.CreateSession(r.Context(), req)
	if err != nil {
		log.Error("failed to create checkout session", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("checkout session created", slog.String("session_id", session.ID))
	render.JSON(w, r, response.OKWithData(session))
}
