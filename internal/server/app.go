package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/internal/memory"
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/storage"
	"github.com/scrypster/rapport/internal/storage/memstore"
	"github.com/scrypster/rapport/internal/storage/postgres"
	"github.com/scrypster/rapport/internal/storage/sqlite"
)

// App bundles the assembled application core.
type App struct {
	Config  *config.Config
	Store   storage.Store
	Gateway llm.Gateway
	Service *engine.Service
}

// NewApp opens storage, builds the configured LLM gateway and wires the
// service on top of them.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	gw, err := llm.NewGateway(ctx, cfg.LLM.ProviderConfig(), logging.Component(logger, "llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM gateway: %w", err)
	}
	return NewAppWithGateway(cfg, gw, logger)
}

// NewAppWithGateway is NewApp with a caller-supplied gateway.
func NewAppWithGateway(cfg *config.Config, gw llm.Gateway, logger *log.Logger) (*App, error) {
	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	// Zero repair attempts and a zero temperature are valid settings; the
	// extractor reads 0 as "use the default" and a negative value as "none".
	repairs := cfg.Extraction.RepairAttempts
	if repairs == 0 {
		repairs = -1
	}
	temperature := cfg.Extraction.Temperature
	if temperature == 0 {
		temperature = -1
	}
	extractor := memory.NewExtractor(gw, memory.Config{
		MaxMessages:    cfg.Extraction.MaxMessages,
		RepairAttempts: repairs,
		MaxTokens:      cfg.Extraction.MaxTokens,
		Temperature:    temperature,
		Logger:         logging.Component(logger, "memory"),
	})
	personalities := personality.NewEngine(gw, personality.Config{
		MaxTokens:   cfg.Personality.MaxTokens,
		Concurrency: cfg.Personality.Concurrency,
		Logger:      logging.Component(logger, "personality"),
	})

	engineCfg := engine.Config{Logger: logging.Component(logger, "engine")}
	if br, ok := gw.(llm.BreakerReporter); ok {
		engineCfg.Breaker = br
	}
	svc, err := engine.New(engine.Dependencies{
		Store:         store,
		Extractor:     extractor,
		Personalities: personalities,
	}, engineCfg)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	return &App{Config: cfg, Store: store, Gateway: gw, Service: svc}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// OpenStore opens the configured storage backend.
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file:") && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		store, err := sqlite.NewStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.NewStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
