// Command offlinekit-demo runs a small end-to-end demonstration of the sync
// core: a reference remote replica, a local SQLite-backed repository and a
// coordinator pushing and pulling between them.
//
// Usage:
//
//	offlinekit-demo -mode server -addr :8080
//	offlinekit-demo -mode client -remote http://localhost:8080 -config sync.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/adapter/httpadapter"
	"github.com/offlinekit/offlinekit/collection"
	"github.com/offlinekit/offlinekit/config"
	"github.com/offlinekit/offlinekit/logging"
	"github.com/offlinekit/offlinekit/storage/memory"
	"github.com/offlinekit/offlinekit/storage/sqlite"
)

type note struct {
	Text string `json:"text"`
}

func main() {
	mode := flag.String("mode", "client", "server or client")
	addr := flag.String("addr", ":8080", "listen address (server mode)")
	remote := flag.String("remote", "http://localhost:8080", "remote base URL (client mode)")
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logging.Init(cfg.Logging)
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "server":
		runServer(ctx, logger, *addr)
	case "client":
		if err := runClient(ctx, logger, cfg, *remote); err != nil {
			logger.LogError(ctx, err, "client failed")
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown mode:", *mode)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, logger *logging.Logger, addr string) {
	srv := &http.Server{Addr: addr, Handler: httpadapter.NewHandler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("remote replica listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(ctx, err, "server failed")
		os.Exit(1)
	}
}

func runClient(ctx context.Context, logger *logging.Logger, cfg config.Config, remote string) error {
	var (
		records     offlinekit.RecordStore
		outbox      offlinekit.Outbox
		checkpoints offlinekit.CheckpointStore
	)
	if cfg.Storage.Path != "" {
		store, err := sqlite.New(&sqlite.Config{
			DataSourceName: "file:" + cfg.Storage.Path,
			EnableWAL:      true,
			BusyTimeout:    cfg.Storage.BusyTimeout,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		records, outbox, checkpoints = store, store, store
		logger.Info("using sqlite storage", slog.String("path", cfg.Storage.Path))
	} else {
		store := memory.NewStore()
		defer store.Close()
		records, outbox, checkpoints = store, store, store
		logger.Info("using in-memory storage")
	}

	adapter, err := httpadapter.New(httpadapter.Options{BaseURL: remote})
	if err != nil {
		return err
	}

	repo := offlinekit.NewRepository(records, &offlinekit.RepositoryOptions{Origin: cfg.Sync.Origin})
	coord := offlinekit.NewCoordinator(repo, outbox, checkpoints, adapter, &offlinekit.CoordinatorOptions{
		Interval:    cfg.Sync.Interval,
		BatchSize:   cfg.Sync.BatchSize,
		PushTimeout: cfg.Sync.PushTimeout,
		PullTimeout: cfg.Sync.PullTimeout,
		Backoff: &offlinekit.ExponentialBackoff{
			Initial:    cfg.Backoff.Initial,
			Max:        cfg.Backoff.Max,
			Multiplier: cfg.Backoff.Multiplier,
			Jitter:     cfg.Backoff.Jitter,
		},
	})
	defer coord.Close()

	coord.SubscribeStatus(func(s offlinekit.SyncStatus) {
		logger.Info("sync status",
			slog.Bool("online", s.Online),
			slog.String("state", string(s.State)),
			slog.Int("pending", s.PendingCount),
			slog.String("last_error", s.LastError),
		)
	})
	repo.Subscribe(func(n offlinekit.ChangeNotification) {
		logger.Info("change", slog.String("record_id", n.RecordID), slog.String("type", string(n.Change)))
	})

	if err := coord.Start(ctx); err != nil {
		return err
	}
	coord.SetOnline(true)

	// Write a note every few seconds; the coordinator does the rest.
	notes := collection.New[note](repo, "note")
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			item, err := notes.Insert(ctx, note{Text: fmt.Sprintf("note %d from %s", i, cfg.Sync.Origin)})
			if err != nil {
				logger.LogError(ctx, err, "insert failed")
				continue
			}
			logger.Info("inserted", slog.String("id", item.ID))
		}
	}
}
