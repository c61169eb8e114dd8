package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Default cadences of the sweep loops.
const (
	DefaultAnomalyInterval    = 60 * time.Second
	DefaultInactivityInterval = 5 * time.Minute
	DefaultRetentionInterval  = 24 * time.Hour
)

// Scheduler triggers sweep checks on their cadences.
type Scheduler struct {
	engine    *SweepEngine
	anomaly   time.Duration
	inactive  time.Duration
	retention time.Duration
	timeout   time.Duration
	logger    *log.Logger
	wg        sync.WaitGroup
}

// NewScheduler constructs a Scheduler from the sweep configuration.
func NewScheduler(engine *SweepEngine, cfg SweepConfig, logger *log.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("scheduler: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		engine:    engine,
		anomaly:   cfg.AnomalyInterval,
		inactive:  cfg.InactivityInterval,
		retention: cfg.RetentionInterval,
		timeout:   cfg.CheckTimeout,
		logger:    logger,
	}
	if s.anomaly <= 0 {
		s.anomaly = DefaultAnomalyInterval
	}
	if s.inactive <= 0 {
		s.inactive = DefaultInactivityInterval
	}
	if s.retention <= 0 {
		s.retention = DefaultRetentionInterval
	}
	return s, nil
}

// Start launches one loop per cadence. Each loop runs immediately and then on
// its ticker until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}
	s.loop(ctx, "anomaly", s.anomaly, func(ctx context.Context, now time.Time) error {
		return s.engine.RunAnomalyPass(ctx, now)
	})
	s.loop(ctx, CheckInactivity, s.inactive, func(ctx context.Context, now time.Time) error {
		_, err := s.engine.CheckInactivity(ctx, now)
		return err
	})
	s.loop(ctx, CheckRetention, s.retention, func(ctx context.Context, now time.Time) error {
		_, err := s.engine.PruneAlerts(ctx, now)
		return err
	})
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context, time.Time) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runOnce(ctx, name, run)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx, name, run)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context, name string, run func(context.Context, time.Time) error) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := run(runCtx, s.engine.Now()); err != nil {
		s.logger.Printf("scheduler: %s check error: %v", name, err)
	}
}
