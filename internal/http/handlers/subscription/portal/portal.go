// Package portal реализует HTTP-обработчик открытия портала управления подпиской.
package portal

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
)

// Service открывает портал провайдера.
type Service interface {
	Portal(ctx context.Context, email, returnURL string) (string, error)
}

// Request - тело запроса.
type Request struct {
	Email     string `json:"email" validate:"required,email"`
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

// Result - адрес сессии портала.
type Result struct {
	URL string `json:"url"`
}

// Handler обрабатывает POST /portal-sessions.
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
// @Summary Открыть портал подписки
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Param request body Request true "Email и адрес возврата"
// @Success 200 {object} response.Response "Адрес портала"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 404 {object} response.ErrorResponse "Нет пользователя или подписки"
// @Failure 502 {object} response.ErrorResponse "Сбой провайдера"
// @Router /portal-sessions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.portal"
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

	url, err := h.service.Portal(r.Context(), req.Email, req.ReturnURL)
	if err != nil {
		log.Error("failed to open billing portal", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(Result{URL: url}))
}
