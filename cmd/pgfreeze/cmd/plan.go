package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pgfreeze/internal/database"
	"github.com/dbsmedya/pgfreeze/internal/exclusion"
	"github.com/dbsmedya/pgfreeze/internal/freezer"
	"github.com/dbsmedya/pgfreeze/internal/logger"
	"github.com/dbsmedya/pgfreeze/internal/report"
)

var (
	planDatabases []string
	planVacuum    bool
	planMinSizeMB int
	planFreezeAge int64
	planExclude   []string
	planScoped    []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview candidate selection without vacuuming",
	Long: `Plan runs the candidate selection query against each target database
and prints the tables a maintenance run would process, in priority
order, after exclusion filtering. Nothing is vacuumed.

Example:
  pgfreeze plan --databases app --vacuum --min-size-mb 10`,
	RunE:         runPlan,
	SilenceUsage: true,
}

func init() {
	planCmd.Flags().StringSliceVarP(&planDatabases, "databases", "d", nil,
		"Databases to inspect (default: all non-system, oldest first)")
	planCmd.Flags().BoolVar(&planVacuum, "vacuum", false,
		"Dead-row-ratio priority instead of freeze priority")
	planCmd.Flags().IntVar(&planMinSizeMB, "min-size-mb", 0,
		"Minimum table size in MB to consider")
	planCmd.Flags().Int64Var(&planFreezeAge, "freezeage", 10000000,
		"Minimum transaction-ID age for freezing")
	planCmd.Flags().StringArrayVar(&planExclude, "exclude-table", nil,
		"Table to exclude in every database (repeatable)")
	planCmd.Flags().StringArrayVar(&planScoped, "exclude-table-in-database", nil,
		"DATABASE.TABLE exclusion scoped to one database (repeatable)")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	excl, err := exclusion.New(planExclude, planScoped)
	if err != nil {
		return err
	}

	mode := freezer.ModeFreeze
	if planVacuum {
		mode = freezer.ModeRatio
	}
	minSizeBytes := int64(planMinSizeMB) * 1024 * 1024

	ctx := cmd.Context()
	manager := database.NewManager(&cfg.Connection)

	databases := planDatabases
	if len(databases) == 0 {
		conn, err := manager.ConnectRetry(ctx, "postgres")
		if err != nil {
			return fmt.Errorf("failed to connect for discovery: %w", err)
		}
		infos, err := freezer.DiscoverDatabases(ctx, conn)
		conn.Close()
		if err != nil {
			return fmt.Errorf("failed to discover databases: %w", err)
		}
		for _, info := range infos {
			databases = append(databases, info.Name)
		}
	}
	if len(databases) == 0 {
		return fmt.Errorf("no databases to inspect")
	}

	for _, dbName := range databases {
		db, err := manager.Connect(ctx, dbName)
		if err != nil {
			log.Warnw("connection failed, skipping database",
				"database", dbName, "error", err)
			continue
		}

		selector := freezer.NewSelector(db, log.WithDatabase(dbName))
		candidates, err := selector.SelectCandidates(ctx, mode, minSizeBytes, planFreezeAge)
		db.Close()
		if err != nil {
			log.Warnw("candidate selection failed, skipping database",
				"database", dbName, "error", err)
			continue
		}

		kept := candidates[:0]
		for _, c := range candidates {
			if excl.IsExcluded(dbName, c.Table) {
				continue
			}
			kept = append(kept, c)
		}

		fmt.Print(report.RenderTargets(mode, dbName, kept))
	}

	return nil
}
