package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
)

// StaleRunMessage is stored on runs the reaper fails.
const StaleRunMessage = "The generation was interrupted before it finished. Please try again."

// StaleRunStore fails runs that stopped making progress before cutoff.
type StaleRunStore interface {
	FailStale(ctx context.Context, cutoff time.Time, message string) ([]models.StaleRun, error)
}

// StaleRunReaper periodically fails runs whose worker vanished (crash or
// redeploy) so their owners are not left waiting on a spinner.
type StaleRunReaper struct {
	store    StaleRunStore
	after    time.Duration
	schedule string
	onReaped func(models.StaleRun)
	log      *logger.Logger
	cron     *cron.Cron
	now      func() time.Time
}

func NewStaleRunReaper(store StaleRunStore, schedule string, after time.Duration, onReaped func(models.StaleRun), log *logger.Logger) *StaleRunReaper {
	return &StaleRunReaper{
		store:    store,
		after:    after,
		schedule: schedule,
		onReaped: onReaped,
		log:      log,
		cron:     cron.New(),
		now:      time.Now,
	}
}

func (r *StaleRunReaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("invalid stale run schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.log.Info("Stale run reaper started", "schedule", r.schedule, "after", r.after.String())
	return nil
}

// Stop waits for a running sweep to finish.
func (r *StaleRunReaper) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep fails every stale run once and returns how many were reaped.
func (r *StaleRunReaper) Sweep(ctx context.Context) int {
	cutoff := r.now().UTC().Add(-r.after)
	reaped, err := r.store.FailStale(ctx, cutoff, StaleRunMessage)
	if err != nil {
		r.log.Error("Stale run sweep failed", "error", err)
		return 0
	}
	for _, run := range reaped {
		if r.onReaped != nil {
			r.onReaped(run)
		}
	}
	if len(reaped) > 0 {
		r.log.Info("Reaped stale runs", "count", len(reaped))
	}
	return len(reaped)
}
