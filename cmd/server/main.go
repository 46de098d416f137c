package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"candlescan/internal/config"
	"candlescan/internal/exchange"
	"candlescan/internal/history"
	"candlescan/internal/klines"
	"candlescan/internal/models"
	"candlescan/internal/pubsub"
	"candlescan/internal/scanner"
	"candlescan/internal/ssm"
	"candlescan/internal/watcher"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	startTime = time.Now()
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("Starting Candlescan...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	// Set log level
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Initialize Redis mirror (optional)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis...")
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis: ", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected successfully")
	}
	publisher := pubsub.NewPublisher(redisClient, logger)

	// Initialize exchange adapters
	binanceAdapter := exchange.NewBinance(cfg.Exchange.BinanceAPIKey, cfg.Exchange.BinanceSecretKey, logger)
	bybitAdapter := exchange.NewBybit(cfg.Exchange.BybitMinDelay, logger)
	adapters := []exchange.Adapter{binanceAdapter, bybitAdapter}

	// Initialize the pipeline: governor, watcher, builder, loader,
	// scanner, state manager. Everything is wired here explicitly.
	governor := watcher.NewGovernor(logger)
	governor.Start()

	watch := watcher.NewWatcher(adapters, governor, logger)

	builder := klines.NewBuilder(logger)

	loader := history.NewLoader(map[string]history.Backend{
		"binance": history.NewBinanceBackend(binanceAdapter, logger),
		"bybit":   history.NewBybitBackend(bybitAdapter, logger),
	}, logger)
	loader.Start()

	scanProfile, err := cfg.ScanProfile()
	if err != nil {
		logger.Fatal("Failed to resolve scan profile: ", err)
	}

	scan := scanner.NewScanner(adapters, builder, watch, cfg.Scanner.ScanInterval, logger)
	scan.SetConfig(scanProfile)
	if err := scan.Start(); err != nil {
		logger.Fatal("Failed to start scanner: ", err)
	}

	manager := ssm.NewManager(scan, loader, logger)
	if err := manager.Start(models.SSMConfig{
		TimeFrames: cfg.SSM.TimeFrames,
		Whitelist:  cfg.SSM.Whitelist,
		Blacklist:  cfg.SSM.Blacklist,
		HistoryLen: cfg.SSM.HistoryLen,
	}); err != nil {
		logger.Fatal("Failed to start symbols state manager: ", err)
	}

	// Mirror pipeline events to Redis
	go mirrorEvents(manager, scan, publisher, logger)

	// Start HTTP server for health checks and metrics
	go startHTTPServer(cfg, logger, manager, scan, loader)

	logger.Infof("Candlescan v%s started successfully", version)
	logger.Infof("HTTP server listening on :%d", cfg.Server.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal")

	logger.Info("Shutting down gracefully...")

	manager.Stop()
	scan.Stop()
	loader.Stop()
	watch.Stop()
	governor.Stop()

	time.Sleep(2 * time.Second)
	logger.Info("Shutdown complete")
}

// mirrorEvents forwards state-manager events, build results and scan
// rounds to the Redis publisher.
func mirrorEvents(manager *ssm.Manager, scan *scanner.Scanner, publisher *pubsub.Publisher, logger *logrus.Logger) {
	ctx := context.Background()
	fkEvents := manager.SubscribeFKEvents()
	ikEvents := manager.SubscribeIKEvents()
	builds := scan.SubscribeBuildResults()
	symbols := scan.SubscribeScannedSymbols()

	for {
		select {
		case event := <-fkEvents:
			_ = publisher.PublishFK(ctx, event)
		case event := <-ikEvents:
			_ = publisher.PublishIK(ctx, event)
		case result := <-builds:
			_ = publisher.PublishBuildResult(ctx, result)
		case scanned := <-symbols:
			_ = publisher.PublishScannedSymbols(ctx, scanned)
		}
	}
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger, manager *ssm.Manager, scan *scanner.Scanner, loader *history.Loader) {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"healthy":true,"version":"%s","uptime_seconds":%d,"scanner_started":%t,"ssm_started":%t,"backfill_queue_depth":%d}`,
			version, int64(time.Since(startTime).Seconds()), scan.Started(), manager.Started(), loader.QueueDepth())
	})

	// Symbol state snapshot endpoint
	mux.HandleFunc("/api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		state := manager.GetSymbolState(symbol)
		if state == nil {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":"symbol %q is not tracked"}`, symbol)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state); err != nil {
			logger.WithError(err).Warn("Failed to encode symbol state")
		}
	})

	// Scanned symbols endpoint
	mux.HandleFunc("/api/v1/symbols", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(scan.ScannedSymbols()); err != nil {
			logger.WithError(err).Warn("Failed to encode scanned symbols")
		}
	})

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Infof("HTTP server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("HTTP server failed: ", err)
	}
}
