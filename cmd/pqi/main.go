package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pqi-go/internal/app"
	"pqi-go/internal/auth"
	"pqi-go/internal/config"
	"pqi-go/internal/pqi"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "RecordChecklist", "SyncAll").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "pqi",
	Short: "Plant quality inspection tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init USER_ID",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(args[0], defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", args[0])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Edit the config to set api.base_url and auth settings, then run 'pqi auth setup'.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", cfg.UserID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("API URL:  %s\n", cfg.API.BaseURL)
		fmt.Printf("Store:    %s\n", cfg.Store.Type)
		return nil
	},
}

// auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage credentials",
}

var authSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate token cache keys and store the client secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		if cfg.Auth.PublicKeyPath != "" && cfg.Auth.PrivateKeyPath != "" {
			cache := auth.NewTokenCache(cfg.Auth.TokenCachePath, cfg.Auth.PublicKeyPath, cfg.Auth.PrivateKeyPath)
			if err := cache.Setup(); err != nil {
				return fmt.Errorf("generating token cache keys: %w", err)
			}
			fmt.Printf("Token cache keys written to %s\n", filepath.Dir(cfg.Auth.PublicKeyPath))
		}

		if cfg.Auth.Type == "oauth" || cfg.Auth.Type == "" {
			if cfg.Auth.ClientSecretPath == "" {
				return fmt.Errorf("auth.client_secret_path not set in config")
			}
			fmt.Print("Client secret: ")
			secret, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading client secret: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Auth.ClientSecretPath), 0700); err != nil {
				return fmt.Errorf("creating secret directory: %w", err)
			}
			if err := os.WriteFile(cfg.Auth.ClientSecretPath, secret, 0600); err != nil {
				return fmt.Errorf("writing client secret: %w", err)
			}
			fmt.Printf("Client secret stored at %s\n", cfg.Auth.ClientSecretPath)
		}
		return nil
	},
}

// offline command
var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Manage offline sessions",
}

var offlineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an offline session (fetches working snapshot first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "StartOffline")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.StartOffline(cmd.Context()); err != nil {
			return fmt.Errorf("starting offline session: %w", err)
		}
		fmt.Println("Offline session active. Records will be queued locally until 'pqi sync'.")
		return nil
	},
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture inspection records",
}

var recordChecklistCmd = &cobra.Command{
	Use:   "checklist CRITERION_ID RESPONSE",
	Short: "Record a checklist answer (Approved, Rejected, or NA)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nearMiss, _ := cmd.Flags().GetBool("near-miss")
		comment, _ := cmd.Flags().GetString("comment")

		response, err := parseResponse(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "RecordChecklist")
		if err != nil {
			return err
		}
		defer a.Close()

		synced, err := a.RecordChecklist(cmd.Context(), args[0], response, nearMiss, comment)
		if err != nil {
			return fmt.Errorf("recording checklist answer: %w", err)
		}
		printOutcome(synced)
		return nil
	},
}

var recordCreamCmd = &cobra.Command{
	Use:   "cream CYCLE SANDWICH:SHELL [SANDWICH:SHELL...]",
	Short: "Record a cream percentage weighing cycle",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cycle, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("cycle must be a number: %q", args[0])
		}

		samples := make([]pqi.WeightSample, 0, len(args)-1)
		for _, arg := range args[1:] {
			sandwich, shell, ok := strings.Cut(arg, ":")
			if !ok {
				return fmt.Errorf("sample %q must be SANDWICH:SHELL", arg)
			}
			samples = append(samples, pqi.WeightSample{SandwichWeight: sandwich, ShellWeight: shell})
		}

		a, err := newApp(cmd, "RecordCreamCycle")
		if err != nil {
			return err
		}
		defer a.Close()

		synced, err := a.RecordCreamCycle(cmd.Context(), cycle, samples)
		if err != nil {
			return fmt.Errorf("recording cream cycle: %w", err)
		}
		printOutcome(synced)
		return nil
	},
}

var recordSieveCmd = &cobra.Command{
	Use:   "sieve CYCLE",
	Short: "Record a sieve and magnet check cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  cycleRunE(pqi.CategorySieveMagnet, "RecordSieveCycle"),
}

var recordProductCmd = &cobra.Command{
	Use:   "product CYCLE",
	Short: "Record a product monitoring cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  cycleRunE(pqi.CategoryProductMonitoring, "RecordProductCycle"),
}

// cycleRunE builds the shared handler for the two generic cycle commands.
func cycleRunE(category pqi.Category, operation string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cycle, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("cycle must be a number: %q", args[0])
		}

		result, _ := cmd.Flags().GetString("result")
		remarks, _ := cmd.Flags().GetString("remarks")
		equipment, _ := cmd.Flags().GetString("equipment")
		fields := map[string]any{
			"result":    result,
			"remarks":   remarks,
			"equipment": equipment,
		}

		a, err := newApp(cmd, operation)
		if err != nil {
			return err
		}
		defer a.Close()

		synced, err := a.RecordCycle(cmd.Context(), category, cycle, fields)
		if err != nil {
			return fmt.Errorf("recording cycle: %w", err)
		}
		printOutcome(synced)
		return nil
	}
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Access archived tour exports",
}

var archiveFetchCmd = &cobra.Command{
	Use:   "fetch TOUR_ID",
	Short: "Write a tour's archived export bundle to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "FetchExport")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.FetchExport(cmd.Context(), args[0], os.Stdout); err != nil {
			return fmt.Errorf("fetching export: %w", err)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued records to the remote system",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SyncAll")
		if err != nil {
			return err
		}
		defer a.Close()

		summaries, err := a.SyncAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		if len(summaries) == 0 {
			fmt.Println("Nothing to sync.")
			return nil
		}

		for _, s := range summaries {
			fmt.Printf("Tour %s: %d synced, %d failed\n", s.TourID, s.Synced, s.Failed)
			for _, e := range s.Errors {
				kind := "retryable"
				if e.Permanent {
					kind = "needs correction"
				}
				fmt.Printf("  [%s] %s %s: %s\n", kind, e.Category, e.NaturalKey, e.Message)
			}
		}
		return nil
	},
}

// finish command
var finishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Complete the active tour and submit its score",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "FinishTour")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.FinishTour(cmd.Context()); err != nil {
			return fmt.Errorf("finishing tour: %w", err)
		}
		fmt.Println("Tour completed.")
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mode, queue, and snapshot state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Status()
		if err != nil {
			return err
		}

		fmt.Printf("Mode:      %s\n", report.Mode)
		fmt.Printf("Connected: %t\n", report.Connected)
		if len(report.Degraded) > 0 {
			names := make([]string, len(report.Degraded))
			for i, c := range report.Degraded {
				names[i] = string(c)
			}
			fmt.Printf("Degraded:  %s\n", strings.Join(names, ", "))
		}
		fmt.Printf("Pending:   %d record(s)\n", report.PendingTotal)
		for _, t := range report.Tours {
			fmt.Printf("  Tour %s:\n", t.TourID)
			for _, c := range t.Pending {
				fmt.Printf("    %-28s %d\n", c.Category, c.Count)
			}
		}
		if report.ActiveTourID != "" {
			fmt.Printf("Active tour: %s\n", report.ActiveTourID)
			if !report.SnapshotFetchedAt.IsZero() {
				stale := ""
				if report.SnapshotStale {
					stale = "  [stale]"
				}
				fmt.Printf("Snapshot:    %d criteria, fetched %s%s\n",
					report.SnapshotCriteria,
					report.SnapshotFetchedAt.Format("2006-01-02 15:04:05"),
					stale,
				)
			}
		}
		return nil
	},
}

func parseResponse(s string) (pqi.Response, error) {
	switch strings.ToLower(s) {
	case "approved", "approve", "ok":
		return pqi.ResponseApproved, nil
	case "rejected", "reject":
		return pqi.ResponseRejected, nil
	case "na", "n/a", "not-applicable":
		return pqi.ResponseNotApplicable, nil
	default:
		return "", fmt.Errorf("unknown response %q (want Approved, Rejected, or NA)", s)
	}
}

func printOutcome(synced bool) {
	if synced {
		fmt.Println("Recorded.")
	} else {
		fmt.Println("Queued locally; run 'pqi sync' when back online.")
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// auth subcommands
	authCmd.AddCommand(authSetupCmd)

	// offline subcommands
	offlineCmd.AddCommand(offlineStartCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveFetchCmd)

	// record subcommands
	recordCmd.AddCommand(recordChecklistCmd)
	recordChecklistCmd.Flags().Bool("near-miss", false, "Mark the rejection as a near miss")
	recordChecklistCmd.Flags().StringP("comment", "c", "", "Free-text comment")
	recordCmd.AddCommand(recordCreamCmd)
	recordCmd.AddCommand(recordSieveCmd)
	recordCmd.AddCommand(recordProductCmd)
	for _, c := range []*cobra.Command{recordSieveCmd, recordProductCmd} {
		c.Flags().String("result", "", "Cycle result")
		c.Flags().String("remarks", "", "Free-text remarks")
		c.Flags().String("equipment", "", "Equipment or line identifier")
	}

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(offlineCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(finishCmd)
	rootCmd.AddCommand(statusCmd)
}
