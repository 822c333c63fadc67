// Package products реализует HTTP-обработчик витрины покупаемых планов.
package products

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/products"
)

// Service описывает построение витрины.
type Service interface {
	List(ctx context.Context, q products.Query) (products.Listing, error)
}

// Handler обрабатывает GET /products.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Покупаемые планы
// @Tags Products
// @Produce  json
// @Param option query string false "Выбранный вариант количества, например option-2"
// @Param include_trials query bool false "Показывать пробные планы (по умолчанию true)"
// @Param currency query string false "Валюта цен"
// @Param country query string false "Код страны, если валюта не указана"
// @Success 200 {object} response.Response "Витрина"
// @Failure 400 {object} response.ErrorResponse "Неверные параметры"
// @Failure 502 {object} response.ErrorResponse "Каталог недоступен"
// @Router /products [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.products.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	q := r.URL.Query()
	includeTrials := true
	if raw := q.Get("include_trials"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			log.Warn("invalid include_trials", slog.String("value", raw))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("include_trials must be true or false"))
			return
		}
		includeTrials = v
	}

	listing, err := h.service.List(r.Context(), products.Query{
		Option:        q.Get("option"),
		IncludeTrials: includeTrials,
		Currency:      q.Get("currency"),
		Country:       q.Get("country"),
	})
	if err != nil {
		log.Error("failed to list products", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(listing))
}
