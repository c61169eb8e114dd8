package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	alertapp "facade-monitor/internal/alerts/application"
	alerts "facade-monitor/internal/alerts/domain"
	alertrepo "facade-monitor/internal/alerts/infrastructure/postgres"
	alerthttp "facade-monitor/internal/alerts/interfaces/http"
	alertnotify "facade-monitor/internal/alerts/notify"
	"facade-monitor/internal/audit"
	"facade-monitor/internal/auth"
	"facade-monitor/internal/observability/metrics"
	"facade-monitor/internal/platform"
	telemetryapp "facade-monitor/internal/telemetry/application"
	telemetrypostgres "facade-monitor/internal/telemetry/infrastructure/postgres"
	telemetryredis "facade-monitor/internal/telemetry/infrastructure/redis"
	telemetryhttp "facade-monitor/internal/telemetry/interfaces/http"
	telemetrymqtt "facade-monitor/internal/telemetry/interfaces/mqtt"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Fatalf("config error: %v", err)
	}
	sweepCfg, thresholds, err := alertapp.LoadSweepConfig(cfg.ThresholdsPath)
	if err != nil {
		logger.Fatalf("thresholds config error: %v", err)
	}
	logger.Printf("thresholds loaded: %d sensors", thresholds.Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := platform.Open(ctx, platform.StoreConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		RedisURL:        cfg.RedisURL,
	})
	if err != nil {
		logger.Fatalf("stores error: %v", err)
	}

	if cfg.Migrate {
		if err := telemetrypostgres.EnsureSchema(ctx, stores.DB, logger); err != nil {
			logger.Fatalf("telemetry schema error: %v", err)
		}
		if err := alertrepo.EnsureSchema(ctx, stores.DB); err != nil {
			logger.Fatalf("alerts schema error: %v", err)
		}
		if err := audit.EnsureSchema(ctx, stores.DB); err != nil {
			logger.Fatalf("audit schema error: %v", err)
		}
		logger.Printf("schema ready")
	}

	metrics.Init(stores.DB, logger)

	// ---- Telemetry ----
	latestCache, err := telemetryredis.NewLatestCache(stores.Cache)
	if err != nil {
		logger.Fatalf("latest cache error: %v", err)
	}
	telemetryRepo := telemetrypostgres.NewTelemetryRepository(stores.DB)
	telemetryQuery := telemetrypostgres.NewTelemetryQuery(stores.DB)
	ingestService, err := telemetryapp.NewIngestService(latestCache, telemetryRepo, logger, telemetryapp.WithSinkTimeout(cfg.SinkTimeout))
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	var coordinator *telemetrymqtt.Coordinator
	if !cfg.DisableMQTT {
		transport, err := telemetrymqtt.NewPahoTransport(telemetrymqtt.BrokerConfig{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			TLS:       cfg.MQTTTLS,
		})
		if err != nil {
			logger.Fatalf("mqtt transport error: %v", err)
		}
		coordinator, err = telemetrymqtt.NewCoordinator(transport, ingestService, telemetrymqtt.CoordinatorConfig{
			Topic:         cfg.MQTTTopic,
			QoS:           byte(cfg.MQTTQoS),
			Workers:       cfg.IngestWorkers,
			ReconnectBase: cfg.ReconnectBase,
			ReconnectMax:  cfg.ReconnectMax,
			DrainTimeout:  cfg.DrainTimeout,
		}, logger)
		if err != nil {
			logger.Fatalf("mqtt coordinator error: %v", err)
		}
	}

	// ---- Alerts ----
	alertStore := alertrepo.NewAlertRepository(stores.DB)
	alertBroker := alerthttp.NewSSEBroker()
	notifiers := []alertapp.AlertNotifier{alertBroker}
	if cfg.AlertWebhookURL != "" {
		webhookNotifier, err := buildWebhookNotifier(cfg, logger)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		notifiers = append(notifiers, webhookNotifier)
	}

	sweepEngine, err := alertapp.NewSweepEngine(telemetryQuery, alertStore, thresholds, logger,
		alertapp.WithNotifier(alertnotify.NewMultiNotifier(notifiers...)),
		alertapp.WithDetectionWindow(sweepCfg.DetectionWindow),
		alertapp.WithInactivityThreshold(sweepCfg.InactivityThreshold),
		alertapp.WithRetention(sweepCfg.Retention),
	)
	if err != nil {
		logger.Fatalf("sweep engine error: %v", err)
	}
	scheduler, err := alertapp.NewScheduler(sweepEngine, sweepCfg, logger)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}
	history, err := alertapp.NewHistoryAggregator(telemetryQuery, thresholds, nil)
	if err != nil {
		logger.Fatalf("history error: %v", err)
	}
	status, err := alertapp.NewStatusService(telemetryQuery, nil)
	if err != nil {
		logger.Fatalf("sensor status error: %v", err)
	}

	// ---- HTTP ----
	alertHandler, err := alerthttp.NewHandler(history, alertStore, status, logger)
	if err != nil {
		logger.Fatalf("alerts handler error: %v", err)
	}
	latestHandler, err := telemetryhttp.NewLatestHandler(latestCache, logger, telemetryhttp.WithAuditLogger(audit.NewRepository(stores.DB)))
	if err != nil {
		logger.Fatalf("latest handler error: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/readyz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/facades/", facadeRoutes(latestHandler, alertHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", readiness(stores, coordinator))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ---- Run ----
	scheduler.Start(ctx)
	coordinatorDone := make(chan struct{})
	go func() {
		defer close(coordinatorDone)
		if coordinator == nil {
			return
		}
		if err := coordinator.Run(ctx); err != nil {
			logger.Printf("mqtt coordinator stopped: %v", err)
		}
	}()
	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown: signal received")
	case err := <-serverErr:
		logger.Printf("shutdown: http server error: %v", err)
		stop()
	}

	<-coordinatorDone
	logger.Printf("shutdown: ingestion stopped")
	scheduler.Wait()
	logger.Printf("shutdown: sweeps stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: http: %v", err)
	}
	if err := stores.Close(); err != nil {
		logger.Printf("shutdown: stores: %v", err)
	}
	logger.Printf("shutdown: complete")
}

func buildWebhookNotifier(cfg config, logger *log.Logger) (*alertnotify.Notifier, error) {
	channel, err := alertnotify.NewWebhookChannel(cfg.AlertWebhookURL,
		alertnotify.WithBearerToken(cfg.AlertWebhookToken),
		alertnotify.WithRetry(3, time.Second),
	)
	if err != nil {
		return nil, err
	}
	tpl, err := alertnotify.NewTemplate(cfg.AlertNotifyTemplate)
	if err != nil {
		return nil, err
	}
	return alertnotify.NewNotifier(channel, tpl,
		alertnotify.WithLogger(logger),
		alertnotify.WithCooldown(cfg.AlertNotifyCooldown),
		alertnotify.WithDedupeWindow(cfg.AlertNotifyDedupeWindow),
		alertnotify.WithRequestTimeout(cfg.AlertNotifyTimeout),
		alertnotify.WithMinSeverity(alerts.Severity(cfg.AlertNotifyMinSeverity)),
	)
}

// facadeRoutes splits /api/v1/facades/ between cached latest values and
// sensor status.
func facadeRoutes(latest http.Handler, status http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case telemetryhttp.IsLatestPath(r.URL.Path):
			latest.ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/sensors/status"):
			status.ServeHTTP(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func readiness(stores *platform.Stores, coordinator *telemetrymqtt.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := stores.DB.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := stores.Cache.Ping(ctx).Err(); err != nil {
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
			return
		}
		state := "disabled"
		if coordinator != nil {
			state = string(coordinator.State())
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready transport=" + state))
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the logging middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
