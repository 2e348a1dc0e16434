package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pgfreeze/internal/database"
	"github.com/dbsmedya/pgfreeze/internal/freezer"
	"github.com/dbsmedya/pgfreeze/internal/report"
)

var databasesCmd = &cobra.Command{
	Use:   "databases",
	Short: "List target databases ordered by wraparound exposure",
	Long: `Databases lists the non-system databases a run without an explicit
--databases list would visit, oldest frozen-XID age first.

Example:
  pgfreeze databases -H db1.internal -U maintenance`,
	RunE:         runDatabases,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(databasesCmd)
}

func runDatabases(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	manager := database.NewManager(&cfg.Connection)

	conn, err := manager.ConnectRetry(ctx, "postgres")
	if err != nil {
		return fmt.Errorf("failed to connect for discovery: %w", err)
	}
	defer conn.Close()

	infos, err := freezer.DiscoverDatabases(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to discover databases: %w", err)
	}

	if len(infos) == 0 {
		cmd.Println("No non-system databases found")
		return nil
	}

	fmt.Print(report.RenderDatabases(infos))
	return nil
}
