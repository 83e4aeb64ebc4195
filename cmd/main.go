package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/okian/guardian/internal/adapters/http/api"
	"github.com/okian/guardian/internal/adapters/http/stream"
	"github.com/okian/guardian/internal/adapters/http/swagger"
	"github.com/okian/guardian/internal/adapters/narrative"
	"github.com/okian/guardian/internal/adapters/notify"
	"github.com/okian/guardian/internal/adapters/source"
	service "github.com/okian/guardian/internal/app"
	"github.com/okian/guardian/internal/config"
	"github.com/okian/guardian/pkg/logger"
	"github.com/okian/guardian/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 30 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6

	sourceBatchSize     = 500
	sourceFlushInterval = 2 * time.Second
	webhookTimeout      = 10 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "guardian exited", logger.Error(err))
		os.Exit(1)
	}
}

// run starts every configured component and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.SetFormat(cfg.Server.LogFormat); err != nil {
		return err
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.Server.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.Server.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	hub := stream.NewHub()
	go hub.Run(ctx)

	targets, closers := buildNotifiers(cfg, hub)
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	svc, err := service.New(serviceOptions(cfg, targets)...)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	var wg sync.WaitGroup
	if err := startSources(ctx, cfg, svc, &wg); err != nil {
		return err
	}

	mux := newMux(ctx, cfg, svc, hub)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	wg.Wait()

	log.Info(ctx, "server stopped")
	return nil
}

// buildNotifiers returns the configured delivery targets and the close hooks
// of the ones holding connections.
func buildNotifiers(cfg *config.Config, hub *stream.Hub) ([]notify.Notifier, []func() error) {
	var (
		targets []notify.Notifier
		closers []func() error
	)
	if cfg.Telegram.Enabled() {
		targets = append(targets, notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID,
			notify.WithTelegramBaseURL(cfg.Telegram.BaseURL)))
	}
	if cfg.Webhook.URL != "" {
		targets = append(targets, notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Headers,
			&http.Client{Timeout: webhookTimeout}))
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.AlertsTopic != "" {
		k := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic)
		targets = append(targets, k)
		closers = append(closers, k.Close)
	}
	if hub != nil {
		targets = append(targets, hub)
	}
	targets = append(targets, notify.NewLogNotifier(logger.Named("alerts")))
	return targets, closers
}

// serviceOptions maps the configuration onto service options.
func serviceOptions(cfg *config.Config, targets []notify.Notifier) []service.Option {
	opts := []service.Option{
		service.WithLogger(logger.Get()),
		service.WithWorkerCount(cfg.Pipeline.Workers),
		service.WithQueueSize(cfg.Pipeline.QueueSize),
		service.WithCycleInterval(cfg.Pipeline.CycleInterval),
		service.WithSkewTolerance(cfg.Pipeline.SkewTolerance),
		service.WithRetention(cfg.Pipeline.Retention),
		service.WithUnits(cfg.Channels),
		service.WithWindow(cfg.Window),
		service.WithBaseline(cfg.Baseline.Trailing, cfg.Baseline.MinSamples, cfg.Baseline.Refresh),
		service.WithScoring(cfg.Scoring.Weights, cfg.Scoring.K, cfg.Scoring.LowConfidenceDiscount),
		service.WithPolicy(cfg.Escalation),
		service.WithNotifiers(targets...),
		service.WithDispatch(cfg.Dispatch.Attempts, cfg.Dispatch.BaseBackoff, cfg.Dispatch.MaxBackoff, cfg.Dispatch.DedupeSize),
	}
	if cfg.Narrative.Enabled() {
		client := narrative.NewClient(cfg.Narrative.APIKey,
			narrative.WithBaseURL(cfg.Narrative.BaseURL),
			narrative.WithModel(cfg.Narrative.Model),
			narrative.WithMaxTokens(cfg.Narrative.MaxTokens))
		opts = append(opts, service.WithNarrative(client, cfg.Narrative.Timeout, cfg.Narrative.MaxInFlight))
	}
	return opts
}

// startSources launches the configured readings sources. Each runs until
// ctx ends and is tracked by wg.
func startSources(ctx context.Context, cfg *config.Config, sink source.Sink, wg *sync.WaitGroup) error {
	log := logger.Named("sources")

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ReadingsTopic != "" {
		b := source.NewBatcher(sink, "kafka", sourceBatchSize, sourceFlushInterval)
		c, err := source.NewKafkaConsumer(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ReadingsTopic,
			GroupID: cfg.Kafka.GroupID,
		}, b)
		if err != nil {
			return err
		}
		wg.Add(2)
		go func() { defer wg.Done(); b.Run(ctx) }()
		go func() {
			defer wg.Done()
			defer func() { _ = c.Close() }()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "kafka consumer stopped", logger.Error(err))
			}
		}()
	}

	if cfg.MQTT.Broker != "" {
		b := source.NewBatcher(sink, "mqtt", sourceBatchSize, sourceFlushInterval)
		sub := source.NewMQTTSubscriber(source.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		}, b)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
			sub.Stop()
		}()
	}

	if cfg.WatchDir != "" {
		w := source.NewDirWatcher(cfg.WatchDir, sink)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error(ctx, "directory watcher stopped", logger.String("dir", cfg.WatchDir), logger.Error(err))
			}
		}()
	}
	return nil
}

// newMux registers the API, docs and alert stream routes.
func newMux(ctx context.Context, cfg *config.Config, svc *service.Service, hub *stream.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)

	opts := []api.ServerOption{api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes)}
	if hub != nil {
		opts = append(opts, api.WithAlertStream(hub))
	}
	api.NewServer(svc, svc, opts...).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
