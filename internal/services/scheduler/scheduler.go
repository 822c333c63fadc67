// Package scheduler запускает задачу раз в сутки в заданное время и не
// допускает наложения запусков.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
)

// ErrBusy - предыдущий запуск ещё не закончился.
var ErrBusy = errors.New("job is already running")

// Job - задача планировщика.
type Job func(ctx context.Context) error

// Scheduler выполняет Job ежедневно в hour:minute часового пояса loc.
type Scheduler struct {
	log    *slog.Logger
	job    Job
	hour   int
	minute int
	loc    *time.Location

	running sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// New создаёт планировщик по настройкам cfg.
func New(log *slog.Logger, cfg config.Scheduler, job Job) (*Scheduler, error) {
	const op = "scheduler.New"
	hour, minute, err := cfg.Clock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Scheduler{
		log:    log,
		job:    job,
		hour:   hour,
		minute: minute,
		loc:    loc,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// NextRun возвращает ближайший момент hour:minute в loc строго после now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Start запускает цикл планировщика. Повторный вызов без Stop ничего не делает.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("scheduler started", slog.Int("hour", s.hour), slog.Int("minute", s.minute), slog.String("location", s.loc.String()))
}

// Stop останавливает цикл и ждёт завершения текущего запуска.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := NextRun(s.now(), s.hour, s.minute, s.loc)
		s.log.Debug("next scheduled run", slog.Time("at", next))

		select {
		case <-ctx.Done():
			return
		case <-s.after(time.Until(next)):
		}

		if err := s.TryRun(ctx, s.job); err != nil {
			if errors.Is(err, ErrBusy) {
				s.log.Warn("scheduled run skipped: previous run still in progress")
				continue
			}
			s.log.Error("scheduled run failed", sl.Err(err))
		}
	}
}

// TryRun выполняет job, если сейчас не выполняется другой запуск.
// Паника внутри job превращается в ошибку.
func (s *Scheduler) TryRun(ctx context.Context, job Job) (err error) {
	const op = "scheduler.TryRun"
	if !s.running.TryLock() {
		return ErrBusy
	}
	defer s.running.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
	}()

	if err := job(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Run выполняет задачу планировщика вне расписания.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.TryRun(ctx, s.job)
}
