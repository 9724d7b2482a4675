// Command rapport is the command-line client for memory analysis,
// personality replies and comparisons.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/internal/server"
)

var (
	configPath string
	verbose    bool
	timeout    time.Duration
)

// newApp builds the application core. Tests replace it.
var newApp = func(ctx context.Context, cfg *config.Config, logger *log.Logger) (*server.App, error) {
	return server.NewApp(ctx, cfg, logger)
}

// loadConfig reads configuration for commands that need it.
var loadConfig = func() (*config.Config, error) {
	return config.Load(configPath)
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rapport",
	Short: "Personality-aware replies grounded in user memory",
	Long: `rapport extracts preferences, emotional patterns and facts from
conversations, then answers messages in the voice of a chosen personality.

Commands:
  analyze       - Extract memory from a transcript file
  generate      - Answer a message as one personality
  compare       - Answer a message as several personalities side by side
  personalities - List the available personalities
  serve         - Run the HTTP API
  mcp           - Serve the same operations as MCP tools over stdio
  watch         - Analyze transcripts dropped into a directory
  backup        - Snapshot, list and restore the SQLite database`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger, honoring --verbose.
func newLogger(cfg *config.Config, w io.Writer) *log.Logger {
	lc := cfg.Log.LoggingConfig()
	lc.Output = w
	if verbose {
		lc.Level = "debug"
	}
	return logging.New(lc)
}

// withApp loads config, builds the app and runs fn under the --timeout bound.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *server.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close store", "err", err)
		}
	}()
	return fn(ctx, app)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
