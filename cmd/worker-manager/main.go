// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"inspection-export/internal/audit"
	awsclients "inspection-export/internal/common/aws"
	"inspection-export/internal/common/camunda"
	"inspection-export/internal/common/config"
	"inspection-export/internal/common/database"
	"inspection-export/internal/common/logger"
	"inspection-export/internal/common/observability"
	"inspection-export/internal/export"
	"inspection-export/internal/notify"
	"inspection-export/internal/pptx"
	"inspection-export/internal/report/store"
	"inspection-export/internal/storage"
	"inspection-export/internal/upload"
	"inspection-export/pkg/registry"

	er "inspection-export/internal/workers/export/export-report"
	fr "inspection-export/internal/workers/export/flatten-report"
	ru "inspection-export/internal/workers/export/reconcile-upload"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		if err != nil && !camunda.IsTransient(err) {
			zapLog.Fatal("zeebe client misconfigured", zap.Error(err))
		}
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("postgres migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Elasticsearch (audit) ---
	var auditor er.AuditRecorder
	var esClient *database.ElasticsearchClient
	if cfg.Audit.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer := audit.NewIndexer(esClient.Client, cfg.Audit.Index)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("audit index setup failed", zap.Error(err))
		}
		auditor = indexer
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Audit.Index))
	}

	// --- Notifications ---
	var notifier er.Notifier
	if cfg.Notifications.Email.Enabled || cfg.Notifications.Topic.Enabled {
		sesClient, snsClient, err := awsclients.NotificationClients(ctx,
			cfg.Notifications.AWS.Region, cfg.Notifications.Email.Enabled, cfg.Notifications.Topic.Enabled)
		if err != nil {
			zapLog.Fatal("aws client init failed", zap.Error(err))
		}
		var sesService notify.SESService
		var snsService notify.SNSService
		if sesClient != nil {
			sesService = sesClient
		}
		if snsClient != nil {
			snsService = snsClient
		}
		notifier = notify.New(notify.Config{
			EmailEnabled: cfg.Notifications.Email.Enabled,
			FromEmail:    cfg.Notifications.Email.FromEmail,
			TopicEnabled: cfg.Notifications.Topic.Enabled,
			TopicARN:     cfg.Notifications.Topic.ARN,
		}, sesService, snsService, log)
	}

	// --- Export pipeline ---
	reg, err := registry.LoadRegistry(cfg.Templates.RegistryPath)
	if err != nil {
		zapLog.Fatal("template registry load failed", zap.Error(err))
	}

	files := storage.NewClient(storage.Config{
		UploadURL: cfg.Storage.UploadURL,
		FilesURL:  cfg.Storage.FilesURL,
		Timeout:   config.GetDuration(cfg.Storage.Timeout),
		MaxBytes:  cfg.Storage.MaxBytes,
	})

	var sources []pptx.Source
	if cfg.Templates.BaseURL != "" {
		sources = append(sources, pptx.NewHTTPSource(cfg.Templates.BaseURL, config.GetDuration(cfg.Templates.Timeout)))
	}
	if cfg.Templates.Dir != "" {
		sources = append(sources, &pptx.DirSource{Dir: cfg.Templates.Dir})
	}
	templates := pptx.NewLoader(log, time.Duration(cfg.Templates.CacheTTL)*time.Second, sources...)

	var images pptx.ImageStrategy
	if cfg.Export.ImagesEnabled {
		images = pptx.NewImageEmbedder(
			&storage.ImageFetcher{
				Files:    files,
				Fallback: pptx.NewHTTPFetcher(config.GetDuration(cfg.Export.ImageTimeout), cfg.Export.ImageMaxSize),
			},
			float64(cfg.Export.ImageRate), cfg.Export.ImageBurst, log,
		)
	}

	exporter, err := export.New(reg, templates, images, export.Options{
		Component:    cfg.Export.Component,
		PartPattern:  cfg.Export.PartPattern,
		FilesBaseURL: cfg.Storage.FilesURL,
	}, obs, log)
	if err != nil {
		zapLog.Fatal("exporter init failed", zap.Error(err))
	}

	reports := store.New(pg.DB)
	reconciler := upload.NewReconciler(
		files,
		upload.NewRedisLedger(rdb.Client, cfg.Upload.LedgerPrefix+"ledger:", time.Duration(cfg.Upload.LedgerTTL)*time.Second),
		upload.NewRedisGenerations(rdb.Client, cfg.Upload.LedgerPrefix+"gen:", time.Duration(cfg.Upload.GenerationsTTL)*time.Second),
		cfg.Upload.StagingDir,
		log,
	)

	// --- Workers ---
	workers := camunda.NewWorkerSet(zeebe.GetClient(), log)

	if config.IsWorkerEnabled(cfg, ru.TaskType) {
		handler, err := ru.NewHandler(ru.HandlerOptions{
			AppConfig:  cfg,
			Reconciler: reconciler,
			Store:      reports,
			Logger:     log,
		})
		if err != nil {
			zapLog.Fatal("worker init failed", zap.String("taskType", ru.TaskType), zap.Error(err))
		}
		workers.Start(ru.TaskType, config.GetWorkerConfig(cfg, ru.TaskType), handler.Handle)
	}

	if config.IsWorkerEnabled(cfg, fr.TaskType) {
		handler, err := fr.NewHandler(fr.HandlerOptions{
			AppConfig: cfg,
			Reports:   reports,
			Previewer: exporter,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("worker init failed", zap.String("taskType", fr.TaskType), zap.Error(err))
		}
		workers.Start(fr.TaskType, config.GetWorkerConfig(cfg, fr.TaskType), handler.Handle)
	}

	if config.IsWorkerEnabled(cfg, er.TaskType) {
		handler, err := er.NewHandler(er.HandlerOptions{
			AppConfig: cfg,
			Reports:   reports,
			Renderer:  exporter,
			Artifacts: files,
			Audit:     auditor,
			Notifier:  notifier,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("worker init failed", zap.String("taskType", er.TaskType), zap.Error(err))
		}
		workers.Start(er.TaskType, config.GetWorkerConfig(cfg, er.TaskType), handler.Handle)
	}
	zapLog.Info("workers registered", zap.Strings("taskTypes", workers.TaskTypes()))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"time": time.Now().Format(time.RFC3339)}
		status := http.StatusOK
		deps := map[string]func(context.Context) error{
			"zeebe":    zeebe.HealthCheck,
			"postgres": pg.Ping,
			"redis":    rdb.Ping,
		}
		if esClient != nil {
			deps["elasticsearch"] = esClient.Ping
		}
		for name, check := range deps {
			checks[name] = "ok"
			if err := check(r.Context()); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeStatus(w, status, checks)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
