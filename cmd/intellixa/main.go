package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/intellixa/console/internal/backend"
	"github.com/intellixa/console/internal/config"
	"github.com/intellixa/console/internal/export"
	"github.com/intellixa/console/internal/history"
	"github.com/intellixa/console/internal/logger"
	"github.com/intellixa/console/internal/models"
	"github.com/intellixa/console/internal/runner"
	"github.com/intellixa/console/internal/storage"
	"github.com/intellixa/console/internal/tui"
	"github.com/intellixa/console/internal/viewer"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intellixa",
		Short: "Intellixa multi-agent console",
		Long:  "Intellixa submits goals to the agent backend, shows the agent workflow and keeps a history of past sessions.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newApproveCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// env holds everything a command needs. close must be called on exit.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *backend.Client
	history *history.Store
	closers []io.Closer
}

func openEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, logFile, err := logger.Open(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{
		cfg:     cfg,
		logger:  log,
		client:  backend.NewClient(cfg.APIURL, log),
		history: history.New(store, log),
		closers: []io.Closer{store, logFile},
	}, nil
}

func (e *env) close() {
	for _, c := range e.closers {
		c.Close()
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	loader, err := viewer.New(e.client, e.cfg.SessionCacheTTL, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create session loader: %w", err)
	}
	defer loader.Close()

	feed := tui.NewFeed()
	controller := runner.New(e.client, e.history, runner.Options{
		Dwell:    e.cfg.Dwell,
		Email:    e.cfg.Email,
		Observer: feed.Observe,
		Logger:   e.logger,
	})

	app := tui.NewApp(cmd.Context(), tui.Deps{
		Controller: controller,
		History:    e.history,
		Loader:     loader,
		Health:     e.client,
		Feed:       feed,
		ExportDir:  e.cfg.ExportDir,
	})
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a goal through the agent pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.Join(args, " ")
			email, _ := cmd.Flags().GetString("email")
			asJSON, _ := cmd.Flags().GetBool("json")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if email == "" {
				email = e.cfg.Email
			}

			out := cmd.OutOrStdout()
			controller := runner.New(e.client, e.history, runner.Options{
				Dwell: e.cfg.Dwell,
				Email: email,
				Observer: func(stage models.Stage) {
					if stage != "" && !asJSON {
						fmt.Fprintf(out, "→ %s\n", stage)
					}
				},
				Logger: e.logger,
			})

			result, err := controller.StartRun(cmd.Context(), goal)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			if result.Note != "" {
				fmt.Fprintf(out, "\n%s\n", result.Note)
			}
			fmt.Fprintf(out, "\nStatus: %s\n", result.Status)
			fmt.Fprintf(out, "Agents: %s\n", strings.Join(result.AgentsExecuted, " → "))
			printMetrics(out, result.Metrics)
			if id, ok := result.Data["session_id"].(string); ok && id != "" {
				fmt.Fprintf(out, "Session: %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().String("email", "", "Address to email the final result to (overrides config)")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	list := func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		entries := e.history.List()
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No history yet.")
			return nil
		}

		for _, entry := range entries {
			fmt.Fprintf(out, "%s  %s  %s\n",
				entry.SessionID,
				entry.Timestamp.Local().Format("2006-01-02 15:04"),
				truncate(entry.Goal, 60))
		}
		return nil
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE:  list,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE:  list,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <session-id>",
		Short: "Remove a session from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			e.history.Remove(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all sessions from history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			e.history.Clear()
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	})

	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the final draft of a past session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportDraft, _ := cmd.Flags().GetBool("export")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			loader, err := viewer.New(e.client, 0, e.logger)
			if err != nil {
				return err
			}
			defer loader.Close()

			entry := findEntry(e.history.List(), args[0])
			viewed, err := loader.LoadSession(cmd.Context(), entry)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session: %s\n", entry.SessionID)
			if entry.Goal != "" {
				fmt.Fprintf(out, "Goal: %s\n", entry.Goal)
			}
			printMetrics(out, viewed.Result.Metrics)
			fmt.Fprintf(out, "\n%s\n", viewed.FinalDocument)

			if exportDraft {
				d, err := export.Write(e.cfg.ExportDir, viewed)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nExported to %s\n", d.MarkdownPath)
			}
			return nil
		},
	}

	cmd.Flags().Bool("export", false, "Write the draft to the export directory")
	return cmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check backend connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.client.Health(cmd.Context()); err != nil {
				return fmt.Errorf("backend at %s is not healthy: %w", e.client.BaseURL(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backend at %s is healthy\n", e.client.BaseURL())
			return nil
		},
	}
}

func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <session-id> <retry_now|retry_later|cancel>",
		Short: "Answer a backend approval request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			payload, err := e.client.Approve(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("approval failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		},
	}
}

func findEntry(entries []models.HistoryEntry, sessionID string) models.HistoryEntry {
	for _, entry := range entries {
		if entry.SessionID == sessionID {
			return entry
		}
	}
	return models.HistoryEntry{SessionID: sessionID}
}

func printMetrics(w io.Writer, m models.SessionMetrics) {
	fmt.Fprintf(w, "Tasks: %d/%d  API calls: %d  Cost savings: %s\n",
		m.CompletedTasks, m.TotalTasks, m.APICalls, m.EstimatedSavings)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
