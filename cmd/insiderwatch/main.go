package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/dispatch"
	"github.com/jfkirchner/insiderwatch/internal/ledger"
	"github.com/jfkirchner/insiderwatch/internal/pipeline"
	"github.com/jfkirchner/insiderwatch/internal/scheduler"
	"github.com/jfkirchner/insiderwatch/internal/source"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	// Pushover credentials commonly live in a local .env during development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "insiderwatch",
	Short:   "Insider transaction monitoring and alerts",
	Long:    "insiderwatch polls insider-transaction feeds, cross-verifies filings across sources, and pushes alerts for notable buying activity.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(testNotifyCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("insiderwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/insiderwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set your watchlist, SEC user agent, and Pushover credentials.")
		return nil
	},
}

// --- scan command ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single polling cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedger()
		if err != nil {
			return err
		}
		defer store.Close()

		pipe := pipeline.New(cfg, store, buildAdapters(), buildNotifier())

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CycleTimeout())
		defer cancel()

		result := pipe.RunCycle(ctx)
		printCycle(result)
		return nil
	},
}

// --- watch command ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll continuously at the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedger()
		if err != nil {
			return err
		}
		defer store.Close()

		pipe := pipeline.New(cfg, store, buildAdapters(), buildNotifier())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %d tickers every %s. Press Ctrl+C to stop.\n",
			len(cfg.Sources.Watchlist), cfg.PollInterval())

		sched := scheduler.New(func(ctx context.Context) {
			pipe.RunCycle(ctx)
		}, cfg.PollInterval(), cfg.CycleTimeout())

		err = sched.Run(ctx)
		if err == context.Canceled {
			fmt.Println("\nStopped.")
			return nil
		}
		return err
	},
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger and last-cycle status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedger()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Ledger:")
		fmt.Printf("  Transactions: %d (%d verified, %d limited-data)\n",
			stats.TotalTransactions, stats.Verified, stats.Limited)
		fmt.Printf("  Audit records: %d\n", stats.AuditRecords)
		fmt.Println("\nDispatches:")
		fmt.Printf("  Sent: %d\n", stats.DispatchesSent)
		fmt.Printf("  Failed: %d\n", stats.DispatchesFailed)
		fmt.Printf("  Pending: %d\n", stats.DispatchesPending)
		fmt.Println("\nCycles:")
		fmt.Printf("  Total: %d (%d degraded)\n", stats.Cycles, stats.DegradedCycles)

		last, err := store.LastCycleReport()
		if err != nil {
			return fmt.Errorf("getting last cycle: %w", err)
		}
		if last != nil {
			fmt.Printf("\nLast cycle (%s):\n", last.StartedAt)
			fmt.Printf("  Sources available: %d\n", last.SourcesAvailable)
			fmt.Printf("  Fetched: %d, groups: %d (%d verified, %d limited, %d rejected)\n",
				last.Fetched, last.Groups, last.Verified, last.Limited, last.Rejected)
			fmt.Printf("  New: %d, upgrades: %d, alerts sent: %d\n",
				last.NewTransactions, last.Upgrades, last.Sent)
		}
		return nil
	},
}

// --- history command ---

var historyDays int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently dispatched alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedger()
		if err != nil {
			return err
		}
		defer store.Close()

		dispatches, err := store.RecentDispatches(historyDays)
		if err != nil {
			return fmt.Errorf("listing dispatches: %w", err)
		}

		if len(dispatches) == 0 {
			fmt.Printf("No alerts in the last %d day(s).\n", historyDays)
			return nil
		}

		fmt.Printf("Alerts in the last %d day(s):\n\n", historyDays)
		for _, d := range dispatches {
			title := ""
			if d.Title != nil {
				title = *d.Title
			}
			marker := " "
			if d.Status == "FAILED" {
				marker = "!"
			}
			created := ""
			if d.CreatedAt != nil {
				created = *d.CreatedAt
			}
			fmt.Printf("  %s [%s] %s %s\n", marker, d.Status, created, title)
			if d.Attempts > 1 {
				fmt.Printf("      (%d attempts)\n", d.Attempts)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyDays, "days", 7, "How many days back to list")
}

// --- test-notify command ---

var testNotifyCmd = &cobra.Command{
	Use:   "test-notify",
	Short: "Send a test notification through the configured sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		notifier := buildNotifier()
		d := dispatch.New(nil, notifier, cfg.Dispatch)
		if err := d.SendTest(cmd.Context()); err != nil {
			return fmt.Errorf("test notification: %w", err)
		}
		fmt.Printf("Test notification sent via %s.\n", notifier.Name())
		return nil
	},
}

// buildAdapters constructs the enabled source adapters in priority order.
func buildAdapters() []source.Adapter {
	timeout := cfg.AdapterTimeout()
	byName := map[string]source.Adapter{}

	if cfg.Sources.EDGAR.Enabled {
		byName["sec-edgar"] = source.NewEDGARAdapter(cfg.Sources.EDGAR, cfg.Sources.Watchlist, timeout)
	}
	if cfg.Sources.Yahoo.Enabled {
		byName["yahoo-finance"] = source.NewYahooAdapter(cfg.Sources.Yahoo, cfg.Sources.Watchlist, timeout)
	}
	if cfg.Sources.FinViz.Enabled {
		byName["finviz"] = source.NewFinVizAdapter(cfg.Sources.FinViz, cfg.Sources.Watchlist, timeout)
	}

	var adapters []source.Adapter
	for _, name := range cfg.Sources.Priority {
		if a, ok := byName[name]; ok {
			adapters = append(adapters, a)
			delete(byName, name)
		}
	}
	for name, a := range byName {
		log.Printf("source %s enabled but not in priority list; appending last", name)
		adapters = append(adapters, a)
	}
	return adapters
}

// buildNotifier returns the Pushover sink when configured, otherwise the
// log sink so scans still show what would have been sent.
func buildNotifier() dispatch.Notifier {
	if cfg.Dispatch.Pushover.Enabled {
		if n := dispatch.NewPushoverNotifier(cfg.Dispatch.Pushover.TokenEnv, cfg.Dispatch.Pushover.UserEnv); n != nil {
			return n
		}
		log.Printf("pushover enabled but %s/%s not set; falling back to log output",
			cfg.Dispatch.Pushover.TokenEnv, cfg.Dispatch.Pushover.UserEnv)
	}
	return dispatch.LogNotifier{}
}

func printCycle(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	if result.Degraded {
		fmt.Println("\nDegraded cycle: no sources were available. Nothing was processed.")
		return
	}
	fmt.Printf("\nCycle complete: %d new transaction(s), %d alert(s) sent, %d failed.\n",
		result.Report.NewTransactions, result.Report.Sent, result.Report.Failed)
}

func openLedger() (*ledger.Store, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "insiderwatch.db")
	return ledger.Open(dbPath)
}
