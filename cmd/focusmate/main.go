// Package main provides the focusmate command line: the worker service plus history and report tools.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/thebtf/focusmate/internal/analytics"
	"github.com/thebtf/focusmate/internal/config"
	gormdb "github.com/thebtf/focusmate/internal/db/gorm"
	"github.com/thebtf/focusmate/internal/worker"
	"github.com/thebtf/focusmate/internal/worker/session"
	"github.com/thebtf/focusmate/pkg/client"
	"github.com/thebtf/focusmate/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "focusmate",
		Short:         "Screen-aware focus timer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd.ErrOrStderr(), debug)
			return config.EnsureAll()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newControlCmd("start [goal]", "Start a focus session, or resume the paused one"))
	root.AddCommand(newControlCmd("pause", "Pause the active session"))
	root.AddCommand(newControlCmd("stop", "Complete the current session"))
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// setupLogging writes human-readable logs to w. The configured level applies unless debug is set.
func setupLogging(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(config.Get().LogLevel); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
}

func openStore() (*gormdb.Store, error) {
	cfg := config.Get()
	return gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
}

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker: HTTP API, dashboard and capture runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Get()
			if port <= 0 {
				port = config.GetWorkerPort()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := worker.NewService(cfg, Version)
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}

			log.Info().Int("port", port).Str("dataDir", config.DataDir()).Msg("Starting focusmate worker")
			if err := svc.Run(ctx, port); err != nil {
				return err
			}
			log.Info().Msg("Worker stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from FOCUSMATE_WORKER_PORT or settings)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a one-line session status for shell prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client.New(port, client.WithHTTPClient(&http.Client{Timeout: client.StatusTimeout}))
			var snap *session.Snapshot
			if s, err := c.Status(cmd.Context()); err == nil {
				snap = &s
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), client.FormatStatusLine(snap, time.Now(), client.UseColors()))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Worker port")
	return cmd
}

// newControlCmd builds start, pause or stop. The verb is the first word of use.
func newControlCmd(use, short string) *cobra.Command {
	var port int
	verb := strings.Fields(use)[0]

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(port)
			ctx := cmd.Context()

			var (
				snap session.Snapshot
				err  error
			)
			switch verb {
			case "start":
				snap, err = c.Start(ctx, strings.Join(args, " "))
			case "pause":
				snap, err = c.Pause(ctx)
			default:
				snap, err = c.Stop(ctx)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", verb, err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), client.FormatStatusLine(&snap, time.Now(), client.UseColors()))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Worker port")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent focus sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := gormdb.NewSessionStore(store).FetchRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sessions)
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printSessions(w io.Writer, sessions []*models.Session) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(w, "No sessions yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tSTATE\tDURATION\tCHECKS\tSCORE\tGOAL")
	for _, s := range sessions {
		score, dur := analytics.SummarizeSession(s)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.State,
			dur.Truncate(time.Second),
			len(s.Checks),
			score*100,
			s.Goal,
		)
	}
	_ = tw.Flush()
}

func newReportCmd() *cobra.Command {
	var (
		days   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print focus analytics for the last days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			today := models.StartOfDay(time.Now())
			from, to := today.AddDate(0, 0, -(days - 1)), today.AddDate(0, 0, 1)
			sessions, err := gormdb.NewSessionStore(store).FetchRange(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			summary := analytics.BuildSummary(sessions, worker.TopDistractionsLimit)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), days, summary)
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", worker.DefaultSummaryDays, "Number of days to include")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printSummary(w io.Writer, days int, s analytics.Summary) {
	_, _ = fmt.Fprintf(w, "Last %d days: %d sessions, %d checks\n", days, s.Sessions, s.TotalChecks)
	if s.TotalChecks == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "Focus score:     %.0f%% (%d work, %d slack)\n", s.FocusScore*100, s.WorkChecks, s.SlackChecks)
	_, _ = fmt.Fprintf(w, "Longest streak:  %d checks\n", s.LongestStreak)
	if s.BestHour != nil {
		_, _ = fmt.Fprintf(w, "Best hour:       %02d:00 (%.0f%%)\n", *s.BestHour, s.PeakHours[*s.BestHour]*100)
	}
	if rec := s.AverageRecovery(); rec > 0 {
		_, _ = fmt.Fprintf(w, "Avg recovery:    %s\n", rec.Truncate(time.Second))
	}

	if len(s.TopDistractions) > 0 {
		_, _ = fmt.Fprintln(w, "Top distractions:")
		for i, d := range s.TopDistractions {
			_, _ = fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, d.Category, d.Count)
		}
	}

	if len(s.DropOff) > 0 {
		minutes := make([]int, 0, len(s.DropOff))
		for m := range s.DropOff {
			minutes = append(minutes, m)
		}
		sort.Ints(minutes)
		_, _ = fmt.Fprintln(w, "First distraction after:")
		for _, m := range minutes {
			_, _ = fmt.Fprintf(w, "  %3d min: %d sessions\n", m, s.DropOff[m])
		}
	}
}

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all sessions, checks and daily aggregates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete history without --yes")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := resetHistory(cmd.Context(), store); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "History deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func resetHistory(ctx context.Context, store *gormdb.Store) error {
	if err := gormdb.NewSessionStore(store).DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := gormdb.NewAggregateStore(store).DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete aggregates: %w", err)
	}
	log.Info().Msg("Focus history deleted")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
