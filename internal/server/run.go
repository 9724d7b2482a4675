package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/rapport/internal/backup"
	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/internal/inbox"
	"github.com/scrypster/rapport/internal/storage/sqlite"
)

// shutdownTimeout bounds graceful shutdown after ctx is done.
const shutdownTimeout = 15 * time.Second

// Run assembles the application from cfg and serves until ctx is done or
// the listener fails, then shuts everything down.
func Run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close store", "err", err)
		}
	}()

	srv := New(cfg.Server, app.Service, logger)
	addr, err := srv.Start(ctx)
	if err != nil {
		return err
	}
	logger.Info("rapport API ready", "url", "http://"+addr, "storage", cfg.Storage.Driver, "llm", cfg.LLM.Provider)

	bgCtx, stopBackground := context.WithCancel(ctx)
	background, err := startBackground(bgCtx, cfg, app, logger)
	if err != nil {
		stopBackground()
		background.Wait()
		return errors.Join(err, srv.Shutdown(context.Background()))
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err, ok := <-srv.Err():
		if ok {
			serveErr = err
			logger.Error("server failed", "err", err)
		}
	}

	stopBackground()
	background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, srv.Shutdown(shutdownCtx))
}

// startBackground launches the backup scheduler, the retention cleanup and
// the transcript inbox when configured. All stop when ctx is done.
func startBackground(ctx context.Context, cfg *config.Config, app *App, logger *log.Logger) (*sync.WaitGroup, error) {
	var wg sync.WaitGroup

	if cfg.Backup.Interval > 0 {
		dbPath := sqlite.PathFromDSN(cfg.Storage.DSN)
		if dbPath == "" {
			logger.Warn("backup scheduler disabled for in-memory sqlite")
		} else {
			bc := cfg.Backup.ServiceConfig(dbPath)
			bc.Logger = logger.WithPrefix("backup")
			bk, err := backup.New(bc)
			if err != nil {
				return &wg, err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = bk.Run(ctx)
			}()
		}
	}

	if cfg.Cleanup.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = app.Service.RunCleanup(ctx, cfg.Cleanup.Interval, cfg.Cleanup.MaxAge)
		}()
	}

	if cfg.Inbox.Dir != "" {
		w, err := inbox.New(inbox.Config{
			Dir:    cfg.Inbox.Dir,
			Logger: logger.WithPrefix("inbox"),
		}, app.Service.Analyze)
		if err != nil {
			return &wg, err
		}
		if err := w.Start(ctx); err != nil {
			return &wg, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			w.Stop()
		}()
	}
	return &wg, nil
}
