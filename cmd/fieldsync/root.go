package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldworks/fieldsync/internal/api"
	"github.com/fieldworks/fieldsync/internal/archive"
	"github.com/fieldworks/fieldsync/internal/cachelayer"
	"github.com/fieldworks/fieldsync/internal/config"
	"github.com/fieldworks/fieldsync/internal/netmon"
	"github.com/fieldworks/fieldsync/internal/photo"
	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/syncqueue"
	"github.com/fieldworks/fieldsync/internal/types"
	"github.com/fieldworks/fieldsync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "FieldSync - offline-first sync engine for field data collection",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Network monitor
	monitor := netmon.New(netmon.Options{
		Endpoint:    cfg.Network.HealthEndpoint,
		Interval:    time.Duration(cfg.Network.CheckInterval),
		Timeout:     time.Duration(cfg.Network.CheckTimeout),
		GoodLatency: time.Duration(cfg.Network.GoodLatency),
		SlowLatency: time.Duration(cfg.Network.SlowLatency),
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	// 6. Caching interceptor; outbound traffic goes through it so GET
	// requests survive disconnection.
	diskCache, err := cachelayer.NewDiskCache(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	interceptor := cachelayer.New(cachelayer.Options{
		Cache:           diskCache,
		Version:         cfg.Cache.Version,
		NetworkTimeout:  time.Duration(cfg.Cache.NetworkTimeout),
		OfflineFallback: cfg.Cache.OfflineFallback,
	})
	client := &http.Client{Transport: interceptor}

	// Install/activate: precache the shell when reachable, then sweep caches
	// left behind by previous versions.
	if len(cfg.Cache.Precache) > 0 {
		if err := interceptor.Precache(ctx, cfg.Cache.Precache); err != nil {
			slog.Warn("shell precache failed, continuing without it", "error", err)
		}
	}
	if err := interceptor.Activate(ctx); err != nil {
		return err
	}

	// 7. Sync queue manager
	queue := syncqueue.New(syncqueue.Options{
		Store:      db,
		Client:     client,
		MaxRetries: cfg.Queue.MaxRetries,
	})

	// 8. Photo pipeline and evidence archive
	uploader := photo.NewHTTPUploader(client, cfg.Photo.UploadURL)
	archiver, err := archive.NewArchiver(cfg.Archive)
	if err != nil {
		return err
	}
	capture := photo.NewSubsystem(photo.Options{
		Store:        db,
		Network:      monitor,
		Uploader:     uploader,
		MaxDimension: cfg.Photo.MaxDimension,
		Quality:      cfg.Photo.Quality,
		GPSTimeout:   time.Duration(cfg.Photo.GPSTimeout),
	})

	// 9. Background workers
	var wg sync.WaitGroup
	replay := worker.NewReplayCoordinator(queue, monitor, time.Duration(cfg.Queue.ProcessInterval))
	photos := worker.NewPhotoUploadCoordinator(db, uploader, archiver, monitor, time.Duration(cfg.Queue.ProcessInterval))
	janitor := worker.NewReferenceJanitor(db, time.Duration(cfg.Network.CheckInterval))
	startWorker(ctx, &wg, "replay", replay.Run)
	startWorker(ctx, &wg, "photo-upload", photos.Run)
	startWorker(ctx, &wg, "reference-janitor", janitor.Run)

	// 10. HTTP server
	handler := api.NewHandler(queue, monitor, db, capture, archiver, slogNotifier{}, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Anything else is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// slogNotifier surfaces received push payloads in the structured log. The
// user-facing shell tails the log stream and owns focus-or-open behavior.
type slogNotifier struct{}

func (slogNotifier) Notify(ctx context.Context, payload types.PushPayload) error {
	slog.Info("notification",
		"title", payload.Title,
		"body", payload.Body,
		"url", payload.URL,
		"tag", payload.Tag,
		"component", "push",
	)
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
