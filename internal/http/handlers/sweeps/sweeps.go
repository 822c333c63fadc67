// Package sweeps запускает плановый проход по пользователям вручную.
package sweeps

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-reconciler/internal/http/response"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/scheduler"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/sweeper"
)

// Runner не даёт запустить проход параллельно с уже идущим.
type Runner interface {
	TryRun(ctx context.Context, job scheduler.Job) error
}

// Sweeper выполняет проход.
type Sweeper interface {
	Run(ctx context.Context) (sweeper.Report, error)
}

// Handler обрабатывает POST /sweeps.
type Handler struct {
	log     *slog.Logger
	runner  Runner
	sweeper Sweeper
}

// New создаёт Handler.
func New(log *slog.Logger, runner Runner, sweeper Sweeper) *Handler {
	return &Handler{
		log:     log,
		runner:  runner,
		sweeper: sweeper,
	}
}

// ServeHTTP godoc
// @Summary Запустить проход по пользователям
// @Description Блокировка, очистка, удаление, истечение пробных периодов и льгот, рассылка предупреждений.
// @Tags Sweeps
// @Produce  json
// @Success 200 {object} response.Response "Отчёт о проходе"
// @Failure 409 {object} response.ErrorResponse "Проход уже выполняется"
// @Failure 500 {object} response.ErrorResponse "Часть проходов завершилась ошибкой"
// @Router /sweeps [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.sweeps"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var report sweeper.Report
	// проход доводится до конца, даже если клиент отключился
	err := h.runner.TryRun(context.WithoutCancel(r.Context()), func(ctx context.Context) error {
		var err error
		report, err = h.sweeper.Run(ctx)
		return err
	})

	switch {
	case errors.Is(err, scheduler.ErrBusy):
		log.Warn("sweep already running")
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("sweep already running"))
		return
	case err != nil:
		log.Error("sweep finished with errors", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Response{
			Status: response.StatusError,
			Error:  "sweep finished with errors",
			Data:   report,
		})
		return
	}

	log.Info("sweep finished", slog.Any("report", report))
	render.JSON(w, r, response.OKWithData(report))
}
