package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/tracker/pkg/config"
)

var (
	serverConfigPath string
	serverEnvFile    string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the server configuration",
	Long:  `Commands that load the server configuration the same way tracker-server does: defaults, then the .env file, the YAML file and TRACKER_ environment variables.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective server configuration with secrets redacted",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the server configuration can be loaded",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd)

	configCmd.PersistentFlags().StringVar(&serverConfigPath, "server-config", "", "server YAML configuration file")
	configCmd.PersistentFlags().StringVar(&serverEnvFile, "env-file", ".env", "server .env file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serverConfigPath, serverEnvFile)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cfg.Redacted())
	}
	return cfg.Dump(os.Stdout)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(serverConfigPath, serverEnvFile); err != nil {
		return err
	}
	fmt.Println("Configuration is valid")
	return nil
}
