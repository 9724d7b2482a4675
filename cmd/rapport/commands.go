package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/internal/inbox"
	"github.com/scrypster/rapport/internal/personality"
	"github.com/scrypster/rapport/internal/server"
	"github.com/scrypster/rapport/pkg/types"
)

var (
	analyzeFile   string
	userID        string
	personalityID string
	contextText   string
	compareIDs    []string
	baseID        string
	originalMsg   string
	olderThan     time.Duration
)

// analyzeCmd extracts memory from a transcript file
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Extract memory from a transcript file",
	Long: `Extract preferences, emotional patterns and facts from a transcript and
merge them into the user's stored memory.

The file holds either a JSON array of {"role", "content"} messages or an
object with a "messages" array and an optional "user_id".`,
	RunE: runAnalyze,
}

// generateCmd answers a message as one personality
var generateCmd = &cobra.Command{
	Use:   "generate <message>",
	Short: "Answer a message as one personality",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

// compareCmd answers a message as several personalities
var compareCmd = &cobra.Command{
	Use:   "compare <message>",
	Short: "Answer a message as several personalities side by side",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompare,
}

// transformCmd rewrites an existing reply as one personality
var transformCmd = &cobra.Command{
	Use:   "transform <response>",
	Short: "Rewrite an existing reply in one personality's voice",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTransform,
}

// cleanupCmd purges old conversations, comparisons and events
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete activity older than the retention window",
	Long: `Delete stored conversations, comparison entries and events older than
--older-than (default: cleanup.max_age from the config). Memories are kept.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

// personalitiesCmd lists the registry
var personalitiesCmd = &cobra.Command{
	Use:   "personalities",
	Short: "List the available personalities",
	Args:  cobra.NoArgs,
	RunE:  runPersonalities,
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "Transcript JSON file (required)")
	_ = analyzeCmd.MarkFlagRequired("file")

	for _, cmd := range []*cobra.Command{analyzeCmd, generateCmd, compareCmd, transformCmd} {
		cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	}
	generateCmd.Flags().StringVarP(&personalityID, "personality", "p", string(types.PersonalityFriend), "Personality id")
	generateCmd.Flags().StringVar(&contextText, "context", "", "Additional context for the reply")
	compareCmd.Flags().StringSliceVarP(&compareIDs, "personalities", "p", nil, "Personality ids (default: all)")
	compareCmd.Flags().StringVar(&baseID, "base", "", "Personality used for the base response (default: neutral)")
	transformCmd.Flags().StringVarP(&personalityID, "personality", "p", string(types.PersonalityFriend), "Personality id")
	transformCmd.Flags().StringVarP(&originalMsg, "message", "m", "", "The user message the reply answered")
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (default: cleanup.max_age)")

	rootCmd.AddCommand(analyzeCmd, generateCmd, compareCmd, transformCmd, cleanupCmd, personalitiesCmd, serveCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	transcript, err := loadTranscript(analyzeFile)
	if err != nil {
		return err
	}
	user := strings.TrimSpace(userID)
	if user == "" {
		user = transcript.UserID
	}
	if user == "" {
		return fmt.Errorf("--user is required when the transcript has no user_id")
	}
	return withApp(cmd, func(ctx context.Context, app *server.App) error {
		res, err := app.Service.Analyze(ctx, user, transcript.Messages)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runGenerate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *server.App) error {
		res, err := app.Service.Generate(ctx, engine.GenerateRequest{
			UserID:      userID,
			Message:     strings.Join(args, " "),
			Personality: types.PersonalityID(personalityID),
			Context:     contextText,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runCompare(cmd *cobra.Command, args []string) error {
	ids := make([]types.PersonalityID, 0, len(compareIDs))
	for _, id := range compareIDs {
		ids = append(ids, types.PersonalityID(id))
	}
	return withApp(cmd, func(ctx context.Context, app *server.App) error {
		res, err := app.Service.Compare(ctx, engine.CompareRequest{
			UserID:        userID,
			Message:       strings.Join(args, " "),
			Personalities: ids,
			Base:          types.PersonalityID(baseID),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runTransform(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *server.App) error {
		res, err := app.Service.Transform(ctx, engine.TransformRequest{
			UserID:      userID,
			Original:    strings.Join(args, " "),
			Message:     originalMsg,
			Personality: types.PersonalityID(personalityID),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runCleanup(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *server.App) error {
		maxAge := olderThan
		if maxAge == 0 {
			maxAge = app.Config.Cleanup.MaxAge
		}
		res, err := app.Service.PurgeOlderThan(ctx, maxAge)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// runPersonalities needs no config or LLM, so it reads the registry directly.
func runPersonalities(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTEMPERATURE\tUSE WHEN")
	for _, p := range personality.Default().List() {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\n", p.ID, p.DisplayName, p.Temperature, p.UseWhen)
	}
	return tw.Flush()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return server.Run(cmd.Context(), cfg, newLogger(cfg, cmd.ErrOrStderr()))
}

// loadTranscript reads a transcript file in any format inbox accepts.
func loadTranscript(path string) (inbox.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inbox.Transcript{}, fmt.Errorf("failed to read transcript: %w", err)
	}
	return inbox.ParseTranscript("", data)
}
