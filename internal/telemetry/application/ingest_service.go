package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"facade-monitor/internal/observability/metrics"
	"facade-monitor/internal/telemetry/domain"
)

const defaultSinkTimeout = 5 * time.Second

// Result reports the outcome of both sinks for one envelope.
type Result struct {
	CacheErr   error
	DurableErr error
}

// OK reports whether both sinks succeeded.
func (r Result) OK() bool {
	return r.CacheErr == nil && r.DurableErr == nil
}

// IngestService fans decoded telemetry out to the cache and the durable store.
type IngestService struct {
	cache       telemetry.LatestCache
	repo        telemetry.TelemetryRepository
	sinkTimeout time.Duration
	logger      *log.Logger
}

// Option configures the ingest service.
type Option func(*IngestService)

// WithSinkTimeout bounds each sink write.
func WithSinkTimeout(timeout time.Duration) Option {
	return func(s *IngestService) {
		if timeout > 0 {
			s.sinkTimeout = timeout
		}
	}
}

// NewIngestService constructs an ingest service.
func NewIngestService(cache telemetry.LatestCache, repo telemetry.TelemetryRepository, logger *log.Logger, opts ...Option) (*IngestService, error) {
	if cache == nil {
		return nil, errors.New("telemetry ingest: nil cache")
	}
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &IngestService{
		cache:       cache,
		repo:        repo,
		sinkTimeout: defaultSinkTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ingest writes the envelope to both sinks concurrently. A failing sink is
// logged and counted; it never blocks or rolls back the other one.
func (s *IngestService) Ingest(ctx context.Context, env telemetry.Envelope) Result {
	var (
		wg     sync.WaitGroup
		result Result
	)
	if len(env.Measurements) == 0 {
		return result
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		result.CacheErr = s.writeCache(ctx, env)
	}()
	go func() {
		defer wg.Done()
		result.DurableErr = s.writeDurable(ctx, env)
	}()
	wg.Wait()

	switch {
	case result.OK():
		metrics.ObserveIngest(metrics.ResultSuccess)
	case result.CacheErr != nil && result.DurableErr != nil:
		metrics.ObserveIngest(metrics.ResultError)
	default:
		metrics.ObserveIngest(metrics.ResultPartial)
	}
	return result
}

func (s *IngestService) writeCache(ctx context.Context, env telemetry.Envelope) error {
	start := time.Now()
	sinkCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()
	err := s.cache.Apply(sinkCtx, env)
	metrics.ObserveSinkWrite(metrics.SinkCache, err, time.Since(start))
	if err != nil {
		s.logger.Printf("telemetry ingest: cache write failed: facade=%s device=%s err=%v", env.FacadeID, env.DeviceID, err)
	}
	return err
}

func (s *IngestService) writeDurable(ctx context.Context, env telemetry.Envelope) error {
	start := time.Now()
	sinkCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()
	err := s.repo.InsertMeasurements(sinkCtx, env.Measurements)
	metrics.ObserveSinkWrite(metrics.SinkDurable, err, time.Since(start))
	if err != nil {
		s.logger.Printf("telemetry ingest: durable write failed, message dropped: facade=%s device=%s rows=%d err=%v", env.FacadeID, env.DeviceID, len(env.Measurements), err)
		return err
	}
	s.logger.Printf("telemetry ingest: processed device=%s facade_type=%s sensors=%d", env.DeviceID, env.FacadeType, len(env.Measurements))
	return nil
}
