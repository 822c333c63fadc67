// Package transactions реализует HTTP-обработчик чтения журнала кредитов.
package transactions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/transactions"
)

// Service описывает чтение журнала.
type Service interface {
	List(ctx context.Context, q transactions.Query) (transactions.Result, error)
}

// Handler обрабатывает GET /transactions.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Журнал кредитов пользователя
// @Tags Transactions
// @Produce  json
// @Param user_id query string true "ID пользователя"
// @Param type query string false "received, used или reset"
// @Param source query string false "subscription, bundle, trial, system или cancel_subscription"
// @Param primary query string false "test_case или user_story"
// @Success 200 {object} response.Response "Журнал, снимок пользователя и сводка"
// @Failure 400 {object} response.ErrorResponse "Неверные параметры"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /transactions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transactions.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	q := r.URL.Query()
	res, err := h.service.List(r.Context(), transactions.Query{
		UserID:  q.Get("user_id"),
		Type:    q.Get("type"),
		Source:  q.Get("source"),
		Primary: q.Get("primary"),
	})
	if err != nil {
		log.Error("failed to list transactions", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Debug("transactions listed", slog.Int("count", res.TotalCount))
	render.JSON(w, r, response.OKWithData(res))
}
