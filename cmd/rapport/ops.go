package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/scrypster/rapport/internal/api/mcp"
	"github.com/scrypster/rapport/internal/backup"
	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/internal/inbox"
	"github.com/scrypster/rapport/internal/server"
	"github.com/scrypster/rapport/internal/storage/sqlite"
)

// version is reported to MCP clients. Overridden at build time with -ldflags.
var version = "dev"

var watchDir string

// mcpCmd serves MCP tools over stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve rapport as MCP tools over stdin/stdout",
	Long: `Serve analyze, generate and compare as Model Context Protocol tools.

Requests are read as line-delimited JSON-RPC 2.0 from stdin and responses
written to stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

// watchCmd analyzes transcripts dropped into a directory
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Analyze transcripts dropped into a directory",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

// backupCmd groups snapshot commands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot, list and restore the SQLite database",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a verified snapshot now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(cmd, func(ctx context.Context, svc *backup.Service) error {
			res, err := svc.BackupNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(cmd, func(ctx context.Context, svc *backup.Service) error {
			backups, err := svc.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tTAKEN\tBYTES")
			for _, b := range backups {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", b.Path, b.Timestamp.Format(time.RFC3339), b.Size)
			}
			return tw.Flush()
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Replace the database with a snapshot (stop the server first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackup(cmd, func(ctx context.Context, svc *backup.Service) error {
			if err := svc.Restore(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored from %s\n", args[0])
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "Inbox directory (default: inbox.dir from config)")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)
	rootCmd.AddCommand(mcpCmd, watchCmd, backupCmd)
}

// runLongLived builds the app without the --timeout bound, starts the
// engine's background workers and runs fn until it returns.
func runLongLived(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, app *server.App, logger *log.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	ctx := cmd.Context()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close store", "err", err)
		}
	}()

	if err := app.Service.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Service.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to drain activity log", "err", err)
		}
	}()
	return fn(ctx, cfg, app, logger)
}

func runMCP(cmd *cobra.Command, args []string) error {
	return runLongLived(cmd, func(ctx context.Context, cfg *config.Config, app *server.App, logger *log.Logger) error {
		srv := mcp.NewServer(app.Service, mcp.WithLogger(logger.WithPrefix("mcp")), mcp.WithVersion(version))
		return mcp.NewStdioTransport(srv, cmd.InOrStdin(), cmd.OutOrStdout(), nil).Serve(ctx)
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	return runLongLived(cmd, func(ctx context.Context, cfg *config.Config, app *server.App, logger *log.Logger) error {
		dir := watchDir
		if dir == "" {
			dir = cfg.Inbox.Dir
		}
		if dir == "" {
			return fmt.Errorf("--dir is required when inbox.dir is not configured")
		}
		w, err := inbox.New(inbox.Config{Dir: dir, Logger: logger.WithPrefix("inbox")}, app.Service.Analyze)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		w.Stop()
		return nil
	})
}

// withBackup builds a backup service for the configured sqlite database.
func withBackup(cmd *cobra.Command, fn func(ctx context.Context, svc *backup.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("backups require the sqlite driver, got %q", cfg.Storage.Driver)
	}
	dbPath := sqlite.PathFromDSN(cfg.Storage.DSN)
	if dbPath == "" {
		return fmt.Errorf("cannot back up an in-memory database")
	}

	bc := cfg.Backup.ServiceConfig(dbPath)
	bc.Logger = newLogger(cfg, cmd.ErrOrStderr())
	svc, err := backup.New(bc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, svc)
}
