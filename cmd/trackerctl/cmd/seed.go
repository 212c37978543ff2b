package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/tracker/pkg/config"
	"github.com/psantana5/tracker/pkg/seed"
	"github.com/psantana5/tracker/pkg/store"
)

var (
	seedFile   string
	seedDryRun bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load YAML fixtures into the server database",
	Long: `Seed writes users, projects, workflows and work packages from a fixture
file straight into the database named by the server configuration.

Example:
  trackerctl seed --file configs/seed.yaml --server-config configs/server.yaml
  trackerctl seed --file configs/seed.yaml --dry-run`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "configs/seed.yaml", "fixture file")
	seedCmd.Flags().StringVar(&serverConfigPath, "server-config", "", "server YAML configuration file")
	seedCmd.Flags().StringVar(&serverEnvFile, "env-file", ".env", "server .env file")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "apply to an in-memory store only")
}

func runSeed(cmd *cobra.Command, args []string) error {
	fixtures, err := seed.LoadFile(seedFile)
	if err != nil {
		return err
	}

	var s store.Store
	if seedDryRun {
		s = store.NewMemoryStore()
	} else {
		cfg, err := config.Load(serverConfigPath, serverEnvFile)
		if err != nil {
			return err
		}
		if s, err = store.NewStore(cfg.Database); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
	}
	defer s.Close()

	summary, err := seed.Apply(context.Background(), s, fixtures)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(summary)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Records", "Created")
	table.Append("Users", strconv.Itoa(summary.Users))
	table.Append("Projects", strconv.Itoa(summary.Projects))
	table.Append("Work packages", strconv.Itoa(summary.WorkPackages))
	table.Append("Watchers", strconv.Itoa(summary.Watchers))
	table.Render()
	if seedDryRun {
		fmt.Println("\nDry run, nothing was written")
	}
	return nil
}
