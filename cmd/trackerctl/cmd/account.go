package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	loginUser     string
	loginPassword string
	loginSave     bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange a login and password for a session token",
	Long: `Log in with a password. The token is printed, or stored in the config
file with --save so later commands pick it up.

Example:
  trackerctl login --user alice --save
  export TRACKER_TOKEN=$(trackerctl login --user alice --password secret)`,
	RunE: runLogin,
}

var myCmd = &cobra.Command{
	Use:   "my",
	Short: "Inspect and change the caller's own account",
}

var myKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show the access keys of the account",
	RunE:  runMyKeys,
}

var myKeyCmd = &cobra.Command{
	Use:       "key <generate|reset> <api|rss>",
	Short:     "Generate or reset an access key",
	Long:      `generate creates a key only when none exists; reset always replaces it. The plaintext key is shown once.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"generate", "reset", "api", "rss"},
	RunE:      runMyKey,
}

var myLayoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Show the dashboard layout",
	RunE:  runMyLayout,
}

func init() {
	rootCmd.AddCommand(loginCmd, myCmd)
	myCmd.AddCommand(myKeysCmd, myKeyCmd, myLayoutCmd)

	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "login name")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginSave, "save", false, "store the token in the config file")
	loginCmd.MarkFlagRequired("user")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	req, err := CreateAuthenticatedRequest("POST", "/api/v3/login", map[string]string{
		"login":    loginUser,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := doJSON(req, &result); err != nil {
		return err
	}

	if loginSave {
		viper.Set("token", result.Token)
		viper.Set("server_url", GetServerURL())
		if err := writeConfig(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Token saved, valid until %s\n", result.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	}
	if IsJSONOutput() {
		return printJSON(result)
	}
	fmt.Println(result.Token)
	return nil
}

// writeConfig saves viper's settings to the selected config file
func writeConfig() error {
	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir := filepath.Join(home, ".trackerctl")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

type accessToken struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	CreatedAt  string  `json:"createdAt"`
	LastUsedAt *string `json:"lastUsedAt"`
}

func runMyKeys(cmd *cobra.Command, args []string) error {
	req, err := CreateAuthenticatedRequest("GET", "/api/v3/my/access_token", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result struct {
		HasTokens      bool         `json:"hasTokens"`
		FeedsEnabled   bool         `json:"feedsEnabled"`
		RestAPIEnabled bool         `json:"restApiEnabled"`
		RSS            *accessToken `json:"rss"`
		API            *accessToken `json:"api"`
	}
	if err := doJSON(req, &result); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(result)
	}
	if !result.HasTokens {
		fmt.Println("Access keys are disabled on this server")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Kind", "Enabled", "ID", "Created", "Last used")
	row := func(kind string, enabled bool, t *accessToken) {
		on := boolToYesNo(enabled)
		if t == nil {
			table.Append(kind, on, "-", "-", "-")
			return
		}
		used := "never"
		if t.LastUsedAt != nil {
			used = *t.LastUsedAt
		}
		table.Append(kind, on, t.ID, t.CreatedAt, used)
	}
	row("api", result.RestAPIEnabled, result.API)
	row("rss", result.FeedsEnabled, result.RSS)
	table.Render()
	return nil
}

func runMyKey(cmd *cobra.Command, args []string) error {
	action, kind := args[0], args[1]
	if action != "generate" && action != "reset" {
		return fmt.Errorf("unknown action %q, use generate or reset", action)
	}
	if kind != "api" && kind != "rss" {
		return fmt.Errorf("unknown key kind %q, use api or rss", kind)
	}

	req, err := CreateAuthenticatedRequest("POST", fmt.Sprintf("/api/v3/my/%s_%s_key", action, kind), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result struct {
		Created bool         `json:"created"`
		Key     string       `json:"key,omitempty"`
		Token   *accessToken `json:"token"`
	}
	if err := doJSON(req, &result); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(result)
	}
	if !result.Created {
		fmt.Printf("An %s key already exists, use reset to replace it\n", kind)
		return nil
	}
	fmt.Printf("New %s key (shown once):\n%s\n", kind, result.Key)
	return nil
}

func runMyLayout(cmd *cobra.Command, args []string) error {
	req, err := CreateAuthenticatedRequest("GET", "/api/v3/my/page_layout", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	var result struct {
		Layout       map[string][]string `json:"layout"`
		BlockOptions []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"blockOptions"`
	}
	if err := doJSON(req, &result); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Group", "Blocks")
	for _, group := range []string{"top", "left", "right"} {
		table.Append(group, strings.Join(result.Layout[group], ", "))
	}
	table.Render()

	fmt.Println("\nAvailable blocks:")
	for _, o := range result.BlockOptions {
		fmt.Printf("  %-28s %s\n", o.Value, o.Label)
	}
	return nil
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
