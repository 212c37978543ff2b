package cmd

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	sessionToken string
	insecure     bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "trackerctl",
	Short:         "CLI for the tracker API",
	Long:          `trackerctl talks to a tracker server: it lists and edits work packages, manages watchers and the caller's own account.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.trackerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "tracker server URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
}

// initConfig reads the config file and TRACKER_ environment variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".trackerctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.BindEnv("server_url", "TRACKER_URL")
	viper.BindEnv("api_key", "TRACKER_API_KEY")
	viper.BindEnv("token", "TRACKER_TOKEN")
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	apiKey = viper.GetString("api_key")
	sessionToken = viper.GetString("token")
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func getHTTPClient() *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if insecure {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return client
}

// CreateAuthenticatedRequest creates a request against the API. An API key
// wins over a session token.
func CreateAuthenticatedRequest(method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, GetServerURL()+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case apiKey != "":
		req.SetBasicAuth("apikey", apiKey)
	case sessionToken != "":
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	return req, nil
}

// apiError is the HAL error body returned by the server
type apiError struct {
	ErrorIdentifier string `json:"errorIdentifier"`
	Message         string `json:"message"`
}

// doJSON sends a request and decodes the response into out. Any status
// outside want is reported with the server's error message.
func doJSON(req *http.Request, out interface{}, want ...int) error {
	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to tracker API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(want) == 0 {
		want = []int{http.StatusOK}
	}
	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
		}
	}
	if !ok {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, e.Message)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
