package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/card"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/database"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/flow"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/lifecycle"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/mail"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/notify"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/orchestrator"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/phone"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/repository"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/scheduler"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/logger"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/metrics"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/redisclient"

	_ "github.com/lib/pq"
)

func main() {
	count := flag.Int("count", 1, "number of accounts to register")
	mode := flag.String("mode", "", "scheduling mode: flat or hierarchical (defaults to pool.mode)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting registration engine",
		"env", cfg.AppEnv, "count", *count, "mode", cfg.Pool.Mode)

	flow.RegisterTransitionRecorder(metrics.RecordStateTransition)

	shutdown := lifecycle.NewShutdown(log)

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Addr, shutdown, log)
	}

	// redis: backing store for the phone number ledger
	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	shutdown.Register("redis", func(context.Context) error { return rdb.Close() })

	// postgres: account credential store
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := database.NewMigrator(db, log).ApplyDir(ctx, "migrations"); err != nil {
		log.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	cards, err := loadCardManager(cfg, log)
	if err != nil {
		log.Error("failed to load card pool", "error", err)
		os.Exit(1)
	}

	backend, err := mail.NewBackend(cfg.Mail, log)
	if err != nil {
		log.Error("failed to build mail backend", "error", err)
		os.Exit(1)
	}
	reader := mail.NewReader(backend, cfg.Mail, log)

	broker := phone.NewBroker(
		phone.NewHTTPProvider(cfg.Phone, log),
		phone.NewLedger(rdb.Client, log),
		cfg.Phone,
		log,
	)

	progress, summary := buildSinks(cfg, log)

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Launcher: browser.NewChromeLauncher(cfg.Browser),
		Mail:     reader,
		Phone:    broker,
		Cards:    cards,
		Accounts: repository.NewAccountRepository(db, log),
		Progress: progress,
		Summary:  summary,
		Log:      log,
	})
	if err != nil {
		log.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}
	shutdown.Register("orchestrator", func(context.Context) error {
		orch.Cancel()
		orch.Wait()
		return nil
	})

	stopWatch, err := watchResourceFiles(cfg, orch, cards, log)
	if err != nil {
		log.Warn("resource file watching disabled", "error", err)
	} else if stopWatch != nil {
		shutdown.Register("file-watcher", func(context.Context) error { return stopWatch() })
	}

	runMode := scheduler.Mode(cfg.Pool.Mode)
	if *mode != "" {
		runMode = scheduler.Mode(*mode)
	}

	exitCode := runBatch(ctx, orch, *count, runMode, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", "error", err)
	}

	os.Exit(exitCode)
}

// runBatch starts one batch and consumes its result stream. A signal cancels
// the batch; in-flight tasks unwind and already-finished results still drain.
func runBatch(ctx context.Context, orch *orchestrator.Orchestrator, count int, mode scheduler.Mode, log *slog.Logger) int {
	results, err := orch.StartBatch(ctx, count, mode)
	if err != nil {
		log.Error("failed to start batch", "error", err)
		return 1
	}

	go func() {
		<-ctx.Done()
		orch.Cancel()
	}()

	succeeded := 0
	for result := range results {
		if result.Success {
			succeeded++
			log.Info("task succeeded", "task_id", result.TaskID, "email", result.Email)
		} else {
			log.Warn("task failed", "task_id", result.TaskID, "email", result.Email, "reason", result.Err)
		}
	}

	if succeeded == 0 && count > 0 {
		return 1
	}
	return 0
}

func loadCardManager(cfg *config.Config, log *slog.Logger) (*card.Manager, error) {
	if cfg.Cards.File == "" {
		return card.NewManager(nil, log), nil
	}

	cards, err := card.LoadFile(cfg.Cards.File)
	if err != nil {
		return nil, err
	}
	return card.NewManager(cards, log), nil
}

// buildSinks assembles the progress fan-out: always the log sink, plus
// Telegram when configured. The serialized wrapper keeps interleaved worker
// output line-atomic.
func buildSinks(cfg *config.Config, log *slog.Logger) (flow.ProgressSink, orchestrator.SummarySink) {
	sinks := []flow.ProgressSink{scheduler.NewLogSink(log)}

	var summary orchestrator.SummarySink
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Telegram, log)
		if err != nil {
			log.Warn("telegram sink disabled", "error", err)
		} else {
			sinks = append(sinks, tg)
			summary = tg
		}
	}

	return scheduler.NewSerializedSink(scheduler.NewMultiSink(sinks...)), summary
}

// watchResourceFiles hot-reloads the card and domain pools when their backing
// files change on disk. Running tasks keep the allocation they already hold.
func watchResourceFiles(cfg *config.Config, orch *orchestrator.Orchestrator, cards *card.Manager, log *slog.Logger) (func() error, error) {
	var paths []string
	cardsPath := ""
	domainsPath := ""

	if cfg.Cards.File != "" {
		cardsPath, _ = filepath.Abs(cfg.Cards.File)
		paths = append(paths, cfg.Cards.File)
	}
	if cfg.Domains.File != "" {
		domainsPath, _ = filepath.Abs(cfg.Domains.File)
		paths = append(paths, cfg.Domains.File)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	return config.WatchFiles(log, paths, func(path string) {
		switch path {
		case cardsPath:
			loaded, err := card.LoadFile(path)
			if err != nil {
				log.Error("card pool reload failed", "path", path, "error", err)
				return
			}
			cards.Reload(loaded)
			log.Info("card pool reloaded", "count", len(loaded))
		case domainsPath:
			if err := orch.ReloadDomains(); err != nil {
				log.Error("domain pool reload failed", "path", path, "error", err)
			}
		}
	})
}

func startMetricsServer(addr string, shutdown *lifecycle.Shutdown, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	shutdown.Register("metrics-server", server.Shutdown)
	log.Info("metrics server listening", "addr", addr)
}
