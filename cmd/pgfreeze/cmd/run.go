package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pgfreeze/internal/config"
	"github.com/dbsmedya/pgfreeze/internal/database"
	"github.com/dbsmedya/pgfreeze/internal/exclusion"
	"github.com/dbsmedya/pgfreeze/internal/freezer"
	"github.com/dbsmedya/pgfreeze/internal/lock"
	"github.com/dbsmedya/pgfreeze/internal/logger"
	"github.com/dbsmedya/pgfreeze/internal/report"
)

var (
	runMinutes       int
	runMinSizeMB     int
	runDatabasesFlag []string
	runExclude       []string
	runExcludeScoped []string
	runVacuum        bool
	runSkipAnalyze   bool
	runPause         int
	runFreezeAge     int64
	runCostDelay     int
	runCostLimit     int
	runEnforceTime   bool
	runLockTimeout   int
	runTable         string
	runDryRun        bool
	runVerbose       bool
	runForce         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a time-bounded maintenance pass",
	Long: `Run vacuums the most maintenance-needy tables of each target database
in priority order until the time budget expires.

In the default freeze-priority mode candidates are ordered by
transaction-ID age; with --vacuum they are ordered by dead-row ratio.
The halt time only bounds when a vacuum may START: a large table can
still overrun the window unless --enforce-time is set.

Examples:
  pgfreeze run --minutes 90 --databases app,reporting
  pgfreeze run --vacuum --min-size-mb 10 --exclude-table audit_log
  pgfreeze run --dry-run --enforce-time --lock-timeout-ms 500`,
	RunE:          runRun,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	runCmd.Flags().IntVarP(&runMinutes, "minutes", "m", 120,
		"Number of minutes to run before halting")
	runCmd.Flags().IntVar(&runMinSizeMB, "min-size-mb", 0,
		"Minimum table size in MB to consider")
	runCmd.Flags().StringSliceVarP(&runDatabasesFlag, "databases", "d", nil,
		"Databases to vacuum (default: all non-system, oldest first)")
	runCmd.Flags().StringArrayVar(&runExclude, "exclude-table", nil,
		"Table to exclude in every database (repeatable)")
	runCmd.Flags().StringArrayVar(&runExcludeScoped, "exclude-table-in-database", nil,
		"DATABASE.TABLE exclusion scoped to one database (repeatable)")
	runCmd.Flags().BoolVar(&runVacuum, "vacuum", false,
		"Dead-row-ratio priority (VACUUM ANALYZE) instead of freeze priority")
	runCmd.Flags().BoolVar(&runSkipAnalyze, "skip-analyze", false,
		"Omit the ANALYZE step from freeze operations")
	runCmd.Flags().IntVar(&runPause, "pause", 10,
		"Seconds to pause between vacuums")
	runCmd.Flags().Int64Var(&runFreezeAge, "freezeage", 10000000,
		"Minimum transaction-ID age for freezing")
	runCmd.Flags().IntVar(&runCostDelay, "costdelay", 20,
		"vacuum_cost_delay setting in ms")
	runCmd.Flags().IntVar(&runCostLimit, "costlimit", 2000,
		"vacuum_cost_limit setting")
	runCmd.Flags().BoolVar(&runEnforceTime, "enforce-time", false,
		"Bound each vacuum by the remaining window via statement_timeout")
	runCmd.Flags().IntVar(&runLockTimeout, "lock-timeout-ms", 0,
		"Abort a vacuum that waits this long for a lock (0 = wait forever)")
	runCmd.Flags().StringVar(&runTable, "table", "",
		"Vacuum only this table (in every target database)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"Preview selection and ordering without vacuuming")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false,
		"Request server progress notices during vacuums")
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"Run even if another pgfreeze instance holds the cluster lock")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies changed run flags onto the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	set("minutes", func() { cfg.Run.Minutes = runMinutes })
	set("min-size-mb", func() { cfg.Run.MinSizeMB = runMinSizeMB })
	set("databases", func() { cfg.Run.Databases = runDatabasesFlag })
	set("exclude-table", func() { cfg.Run.ExcludeTables = append(cfg.Run.ExcludeTables, runExclude...) })
	set("exclude-table-in-database", func() { cfg.Run.ExcludeScoped = append(cfg.Run.ExcludeScoped, runExcludeScoped...) })
	set("vacuum", func() { cfg.Run.Vacuum = runVacuum })
	set("skip-analyze", func() { cfg.Run.SkipAnalyze = runSkipAnalyze })
	set("pause", func() { cfg.Run.PauseSeconds = runPause })
	set("freezeage", func() { cfg.Run.FreezeAge = runFreezeAge })
	set("costdelay", func() { cfg.Run.CostDelayMS = runCostDelay })
	set("costlimit", func() { cfg.Run.CostLimit = runCostLimit })
	set("enforce-time", func() { cfg.Run.EnforceTime = runEnforceTime })
	set("lock-timeout-ms", func() { cfg.Run.LockTimeoutMS = runLockTimeout })
	set("table", func() { cfg.Run.Table = runTable })
	set("dry-run", func() { cfg.Run.DryRun = runDryRun })
	set("verbose", func() { cfg.Run.Verbose = runVerbose })
	set("force", func() { cfg.Run.Force = runForce })
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	excl, err := exclusion.New(cfg.Run.ExcludeTables, cfg.Run.ExcludeScoped)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM cancel at operation boundaries; the in-flight vacuum
	// is left to the server.
	ctx := database.SetupSignalHandlerWithCallback(func(sig os.Signal) {
		log.Warnw("received shutdown signal, stopping after current operation", "signal", sig)
	})

	manager := database.NewManager(&cfg.Connection)

	// The discovery connection doubles as the holder of the cluster-wide
	// run lock, so it stays open for the whole run.
	var clusterConn *sql.DB
	needDiscovery := len(cfg.Run.Databases) == 0
	if needDiscovery || !cfg.Run.Force {
		clusterConn, err = manager.ConnectRetry(ctx, "postgres")
		if err != nil {
			return fmt.Errorf("failed to connect for discovery: %w", err)
		}
		defer clusterConn.Close()
	}

	if !cfg.Run.Force {
		runLock := lock.NewRunLock(clusterConn, "pgfreeze:run")
		if err := runLock.AcquireOrFail(ctx); err != nil {
			if errors.Is(err, lock.ErrLockHeld) {
				return fmt.Errorf("another pgfreeze run is active on this cluster (use --force to override)")
			}
			return fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer runLock.Release(cmd.Context())
		log.Debug("acquired cluster run lock")
	} else {
		log.Warn("skipping run lock acquisition (--force flag used)")
	}

	databases := cfg.Run.Databases
	if needDiscovery {
		infos, err := freezer.DiscoverDatabases(ctx, clusterConn)
		if err != nil {
			return fmt.Errorf("failed to discover databases: %w", err)
		}
		for _, info := range infos {
			databases = append(databases, info.Name)
		}
	}
	if len(databases) == 0 {
		return fmt.Errorf("no databases to vacuum, aborting")
	}

	log.Debugw("target database list", "databases", databases)

	orch := freezer.NewOrchestrator(&cfg.Run, excl, manager, manager.Notices(), log)
	result, err := orch.Run(ctx, databases)
	if err != nil {
		return fmt.Errorf("maintenance run failed: %w", err)
	}

	fmt.Print(report.RenderSummary(result))

	if result.Halted {
		return errHalted
	}
	return nil
}
