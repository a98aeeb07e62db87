package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Sweeper runs the reconciliation on a cron schedule. Runs never overlap.
type Sweeper struct {
	rec      Reconciler
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
}

func NewSweeper(rec Reconciler, schedule string) *Sweeper {
	return &Sweeper{
		rec:      rec,
		schedule: schedule,
		cron:     cron.New(),
	}
}

func (s *Sweeper) Schedule() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Run(context.Background()); err != nil {
			slog.Error("scheduled reconciliation failed", slog.Any("err", err))
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	slog.Info("reconciliation scheduled", slog.String("schedule", s.schedule))
	return nil
}

// Run reconciles now. It returns immediately with zero demotions if a run
// is already in progress.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		slog.Info("reconciliation already running")
		return 0, nil
	}
	defer s.mu.Unlock()

	return s.rec.Reconcile(ctx)
}

// Stop waits for a running job to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
