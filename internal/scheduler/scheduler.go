// Package scheduler periodically refreshes stale garden weather.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/store"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultStaleness = 10 * time.Second
)

// Propagator refreshes one garden and its neighbors.
type Propagator interface {
	Propagate(ctx context.Context, originID string) ([]models.GardenWeather, error)
}

// Notifier receives every garden whose weather changed.
type Notifier interface {
	NotifyWeatherChanged(gardenID string, reading models.WeatherReading)
}

// Config holds scheduler timing.
type Config struct {
	Interval  time.Duration
	Staleness time.Duration
}

// TickResult summarizes one pass over the gardens.
type TickResult struct {
	Checked   int
	Refreshed int
	Skipped   int
	Failed    int
}

// RefreshScheduler runs Tick on a fixed interval. Ticks never overlap.
type RefreshScheduler struct {
	store      store.Store
	propagator Propagator
	notifier   Notifier
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	cron   *gocron.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a RefreshScheduler. notifier may be nil.
func New(s store.Store, p Propagator, notifier Notifier, cfg Config, logger *zap.Logger) *RefreshScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshScheduler{
		store:      s,
		propagator: p,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for staleness checks.
func (r *RefreshScheduler) SetClock(now func() time.Time) {
	r.now = now
}

// Start begins ticking every interval until Stop is called or ctx is cancelled.
func (r *RefreshScheduler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cron := gocron.NewScheduler(time.UTC)
	_, err := cron.Every(r.cfg.Interval).
		WaitForSchedule().
		SingletonMode().
		Do(func() {
			if runCtx.Err() != nil {
				return
			}
			r.Tick(runCtx)
		})
	if err != nil {
		cancel()
		return err
	}
	cron.StartAsync()

	r.cron = cron
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		<-runCtx.Done()
		cron.Stop()
		close(done)
	}(r.done)

	r.logger.Info("refresh scheduler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("staleness", r.cfg.Staleness),
	)
	return nil
}

// Stop cancels any in-progress tick and waits for the scheduler to halt.
func (r *RefreshScheduler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cron, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("refresh scheduler stopped")
}

// Tick refreshes every garden whose weather is absent or older than the staleness threshold,
// one garden at a time. Gardens already written earlier in the same tick as a neighbor are
// skipped. A failure for one garden is logged and the tick moves on.
func (r *RefreshScheduler) Tick(ctx context.Context) TickResult {
	start := time.Now()
	observability.SchedulerTicksTotal.Inc()
	defer func() {
		observability.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	}()

	var res TickResult
	gardens, err := r.store.ListAll(ctx)
	if err != nil {
		r.logger.Error("list gardens failed", zap.Error(err))
		return res
	}

	now := r.now()
	refreshed := make(map[string]struct{})
	for _, g := range gardens {
		if ctx.Err() != nil {
			r.logger.Info("tick cancelled", zap.Int("checked", res.Checked))
			break
		}
		res.Checked++
		if _, done := refreshed[g.ID]; done || !r.isStale(g, now) {
			res.Skipped++
			continue
		}

		updates, err := r.propagator.Propagate(ctx, g.ID)
		// Partial updates were persisted and are broadcast even on error.
		for _, u := range updates {
			refreshed[u.GardenID] = struct{}{}
			if r.notifier != nil {
				r.notifier.NotifyWeatherChanged(u.GardenID, u.Reading)
			}
		}
		if err != nil {
			res.Failed++
			observability.SchedulerRefreshesTotal.WithLabelValues("failure").Inc()
			r.logger.Warn("garden refresh failed", zap.String("garden_id", g.ID), zap.Error(err))
			continue
		}
		res.Refreshed++
		observability.SchedulerRefreshesTotal.WithLabelValues("success").Inc()
	}

	r.logger.Debug("tick complete",
		zap.Int("checked", res.Checked),
		zap.Int("refreshed", res.Refreshed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

func (r *RefreshScheduler) isStale(g models.Garden, now time.Time) bool {
	if g.Weather == nil || g.Weather.FetchedAt.IsZero() {
		return true
	}
	return now.Sub(g.Weather.FetchedAt) > r.cfg.Staleness
}
