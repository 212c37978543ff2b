package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var metricsPrefix string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show the server's application counters",
	Long:  `Fetch /metrics and list the samples whose name starts with the prefix, skipping histogram buckets.`,
	RunE:  runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().StringVar(&metricsPrefix, "prefix", "tracker_", "metric name prefix")
}

type sample struct {
	Series string `json:"series"`
	Value  string `json:"value"`
}

func runMetrics(cmd *cobra.Command, args []string) error {
	req, err := CreateAuthenticatedRequest("GET", "/metrics", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to tracker API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode)
	}

	var samples []sample
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, metricsPrefix) || strings.Contains(line, "_bucket{") {
			continue
		}
		i := strings.LastIndex(line, " ")
		if i < 0 {
			continue
		}
		samples = append(samples, sample{Series: line[:i], Value: line[i+1:]})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(samples)
	}
	if len(samples) == 0 {
		fmt.Printf("No samples with prefix %q\n", metricsPrefix)
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Series", "Value")
	for _, s := range samples {
		table.Append(s.Series, s.Value)
	}
	table.Render()
	return nil
}
