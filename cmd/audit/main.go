package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"equityaudit/adapters/excel"
	"equityaudit/adapters/reportfile"
	"equityaudit/adapters/rng"
	"equityaudit/app"
	"equityaudit/domain/run"
	"equityaudit/internal"
	"equityaudit/internal/config"
	"equityaudit/internal/engine"
	"equityaudit/internal/testkit"
	"equityaudit/ports"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	verbose bool
	logger  *zap.Logger
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "equity-audit",
		Short:         "Audit simulated transportation AI tools for demographic bias",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = internal.NewLogger(os.Getenv("LOG_LEVEL"), verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newDomainsCmd(),
		newVerifyCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		domains     []string
		seed        int64
		workers     int
		strata      int
		outputDir   string
		entities    string
		observe     string
		calibration string
		tracts      int
		failFast    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the equity audit and write one report per domain",
		Long: `Stratify tracts by income, simulate each tool's biased estimates, and
write <domain>-report.json files plus metadata.json to the output directory.

Flags override the environment (SEED, WORKERS, DOMAINS, OUTPUT_DIR,
ENTITIES_FILE, OBSERVATIONS_FILE, CALIBRATION_FILE, STRATA_COUNT,
SYNTHETIC_TRACTS, FAIL_FAST). Without an entities file the audit runs on
synthetic tracts.

Example:
  equity-audit run --entities tracts.xlsx --domains volume,crash --workers 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("domains") {
				cfg.Run.Domains = domains
			}
			if flags.Changed("seed") {
				cfg.Run.Seed = seed
			}
			if flags.Changed("workers") {
				cfg.Run.Workers = workers
			}
			if flags.Changed("fail-fast") {
				cfg.Run.FailFast = failFast
			}
			if flags.Changed("strata") {
				cfg.Calibration.StrataCount = strata
			}
			if flags.Changed("calibration") {
				cfg.Calibration.File = calibration
			}
			if flags.Changed("output") {
				cfg.Output.Dir = outputDir
			}
			if flags.Changed("entities") {
				cfg.Input.EntitiesFile = entities
			}
			if flags.Changed("observations") {
				cfg.Input.ObservationsFile = observe
			}
			if flags.Changed("tracts") {
				cfg.Input.SyntheticTracts = tracts
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runAudit(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringSliceVar(&domains, "domains", nil, "Domains to audit (default all)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Base seed for every random stream")
	cmd.Flags().IntVar(&workers, "workers", 1, "Domains audited in parallel")
	cmd.Flags().IntVar(&strata, "strata", 5, "Number of income quantile strata")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "./out/data", "Report output directory")
	cmd.Flags().StringVar(&entities, "entities", "", "Census tract file (.xlsx or .csv)")
	cmd.Flags().StringVar(&observe, "observations", "", "Observed ground truth file (.xlsx or .csv)")
	cmd.Flags().StringVar(&calibration, "calibration", "", "YAML parameter overrides")
	cmd.Flags().IntVar(&tracts, "tracts", 60, "Synthetic tract count when no entities file is given")
	cmd.Flags().BoolVar(&failFast, "fail-fast", true, "Abort on the first failing domain")
	return cmd
}

func runAudit(ctx context.Context, cfg *config.Config) error {
	params, err := config.LoadParameters(cfg.Calibration.File)
	if err != nil {
		return err
	}
	if cfg.Calibration.StrataCount != 0 {
		params.StrataCount = cfg.Calibration.StrataCount
	}

	var source ports.EntitySource
	if cfg.Input.EntitiesFile != "" {
		source = excel.NewLoader(excel.LoaderConfig{
			EntitiesFile:     cfg.Input.EntitiesFile,
			ObservationsFile: cfg.Input.ObservationsFile,
		}, logger)
	} else {
		gen := testkit.DefaultTractConfig()
		gen.TractCount = cfg.Input.SyntheticTracts
		gen.Seed = cfg.Run.Seed
		source = testkit.NewTractGenerator(gen)
	}

	svc, err := app.NewAuditService(source, reportfile.NewWriter(cfg.Output.Dir, logger), params, rng.New(cfg.Run.Seed), logger, version)
	if err != nil {
		return err
	}
	summary, err := svc.Run(ctx, app.RunOptions{
		Domains:  cfg.Run.Domains,
		Workers:  cfg.Run.Workers,
		FailFast: cfg.Run.FailFast,
	})
	if err != nil {
		return err
	}

	for _, d := range summary.Manifest.Domains {
		if d.Status == run.StatusOK {
			fmt.Printf("%-16s %-10s %s  %s\n", d.Domain, d.DataType, d.ContentHash.Short(), d.File)
		} else {
			fmt.Printf("%-16s %-10s %s  %s\n", d.Domain, d.Status, d.ErrorCode, d.Error)
		}
	}
	fmt.Printf("manifest: %s\n", summary.ManifestPath)
	if n := summary.Manifest.Failed(); n > 0 {
		return fmt.Errorf("%d domain(s) failed", n)
	}
	return nil
}

func newDomainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List the audit domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range engine.Drivers() {
				metrics := ""
				for i, m := range d.GapMetrics {
					if i > 0 {
						metrics += ","
					}
					metrics += m.Name
				}
				fmt.Printf("%-16s %-42s gaps: %s\n", d.Name, d.Title, metrics)
			}
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [output-dir]",
		Short: "Re-hash written reports and check them against metadata.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "./out/data"
			if v := os.Getenv("OUTPUT_DIR"); v != "" {
				dir = v
			}
			if len(args) == 1 {
				dir = args[0]
			}
			checks, err := reportfile.VerifyDir(dir)
			if err != nil {
				return err
			}
			failed := 0
			for _, c := range checks {
				if c.Err != nil {
					failed++
					fmt.Printf("FAIL %-16s %v\n", c.Domain, c.Err)
					continue
				}
				fmt.Printf("ok   %-16s %s\n", c.Domain, c.Hash.Short())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d reports failed verification", failed, len(checks))
			}
			logger.Debug("reports verified", zap.Int("count", len(checks)), zap.String("dir", dir))
			return nil
		},
	}
}
