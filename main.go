package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/internal/bus"
	"tradeflow/internal/health"
	"tradeflow/internal/metrics"
	"tradeflow/internal/pipeline"
	"tradeflow/internal/store"
	"tradeflow/internal/venue"
	"tradeflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
		"venues":  len(cfg.Venues),
	}).Info("starting tradeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Listen)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	db, err := store.Open(cfg.Storage.Postgres)
	if err != nil {
		log.WithError(err).Error("Failed to open store")
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}

	eventBus := bus.New(cfg.Bus)
	defer eventBus.Close()

	trackers := pipeline.Trackers{
		Staleness:  health.NewStalenessTracker(cfg.Health.StalenessThreshold),
		Reconnects: health.NewReconnectTracker(cfg.Health.ReconnectWindow),
		Breakers:   health.NewCircuitBreakerStore(),
	}

	registry := venue.NewRegistry()
	manager := pipeline.NewManager(registry)

	for _, vc := range cfg.Venues {
		adapter, err := venue.NewAdapter(vc.Name)
		if err != nil {
			log.WithError(err).Error("Failed to build venue adapter")
			os.Exit(1)
		}
		v := venue.NewVenue(vc, adapter.DefaultSymbols())
		registry.Add(v, vc.Enabled)
		trackers.Breakers.Configure(v.Name, cfg.Health.Breaker.FailureThreshold, cfg.Health.Breaker.RecoveryTimeoutSeconds)

		p := pipeline.New(v, adapter, db, eventBus, eventBus.Subjects, trackers, cfg.Reconnect, cfg.Keepalive)
		manager.Add(p)
	}

	aggregator := health.NewAggregator(trackers.Staleness, trackers.Reconnects, trackers.Breakers, registry)
	go reportHealth(ctx, log, aggregator)

	manager.StartAll(ctx)
	eventBus.SubscribeControl(ctx, manager.HandleControl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutting down")

	cancel()
	manager.StopAll()
	log.WithComponent("main").Info("tradeflow stopped")
}

// reportHealth periodically logs the fleet quality report and any alerts.
func reportHealth(ctx context.Context, log *logger.Log, aggregator *health.Aggregator) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	entry := log.WithComponent("health")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := aggregator.QualityScores()
			entry.WithFields(logger.Fields{
				"systemScore": report.SystemScore,
				"systemGrade": report.SystemGrade,
			}).Info("fleet quality report")

			alerts := aggregator.Alerts()
			if alerts.Counts.Total == 0 {
				continue
			}
			for _, a := range alerts.Alerts {
				entry.WithFields(logger.Fields{
					"module":   a.Module,
					"type":     a.Type,
					"severity": a.Severity,
				}).Warn(a.Message)
			}
		}
	}
}
