// Package main is a demo binary for the embedded evaluation client: it
// starts an sdk/localclient.Client against a control-plane base URL,
// evaluates one or more flags for a user described on the command line, and
// prints the resulting variants. Grounded on cmd/flagship's cobra command
// shape (internal/cli), reusing its OutputFormat convention for table/json/
// yaml output.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TimurManjosov/goflagship/internal/sdk/analytics"
	"github.com/TimurManjosov/goflagship/internal/sdk/localclient"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
	"github.com/TimurManjosov/goflagship/internal/telemetry"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	baseURL       string
	apiKey        string
	zone          string
	format        string
	stream        bool
	attrs         []string
	timeout       time.Duration
	trackExposure bool
)

var rootCmd = &cobra.Command{
	Use:   "sdkclient <flag-key> [more-flag-keys...]",
	Short: "Evaluate feature flags locally using the embedded evaluation SDK",
	Long: `sdkclient constructs a local evaluation client pointed at a control-plane
deployment, fetches and caches its flag configuration, evaluates the given
flag keys for a user, and prints the resulting variants.

Examples:
  sdkclient checkout_v2 --base-url http://localhost:8080 --api-key dev-key --user user_id=alice
  sdkclient feature_x another_flag --user user_id=42 --user plan=enterprise --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Base URL of the control-plane deployment")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "API key for authenticating flag config fetches")
	rootCmd.Flags().StringVar(&zone, "zone", "us", "Server zone, us or eu (informational when --base-url is set explicitly)")
	rootCmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	rootCmd.Flags().BoolVar(&stream, "stream", false, "Use the streaming updater instead of polling")
	rootCmd.Flags().StringArrayVar(&attrs, "user", nil, "User attribute as key=value, repeatable (e.g. --user user_id=alice)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the initial flag config load")
	rootCmd.Flags().BoolVar(&trackExposure, "track-exposure", false, "Emit an exposure event for each evaluated flag (opt-in, matching options.tracksExposure)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runEvaluate(cmd *cobra.Command, flagKeys []string) error {
	user, err := parseUserAttrs(attrs)
	if err != nil {
		return fmt.Errorf("invalid --user attribute: %w", err)
	}

	zoneVal := localclient.ServerZoneUS
	if strings.EqualFold(zone, "eu") {
		zoneVal = localclient.ServerZoneEU
	}

	client := localclient.New(localclient.Config{
		APIKey:        apiKey,
		Zone:          zoneVal,
		ServerURL:     baseURL,
		StreamURL:     baseURL,
		StreamUpdates: stream,
	}, analytics.NoopSink{})

	startCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Start(startCtx); err != nil {
		strategy := "poll"
		if stream {
			strategy = "stream"
		}
		telemetry.SDKFlagConfigFetchErrorsTotal.WithLabelValues(strategy).Inc()
		return fmt.Errorf("failed to start evaluation client: %w", err)
	}
	defer client.Stop()

	results, err := client.Evaluate(context.Background(), user, flagKeys, localclient.Options{TracksExposure: trackExposure})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	for key, variant := range results {
		telemetry.SDKEvaluationsTotal.WithLabelValues(key, variant.Key).Inc()
	}

	return printVariants(results, flagKeys, outputFormat(format))
}

// parseUserAttrs turns repeated key=value flags into the user context map
// localclient.Client.Evaluate expects. user_id and device_id stay as plain
// strings; everything else is passed through as-is.
func parseUserAttrs(raw []string) (map[string]any, error) {
	user := make(map[string]any, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("expected key=value, got %q", kv)
		}
		user[parts[0]] = parts[1]
	}
	return user, nil
}

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

// printVariants renders the evaluated variants, matching internal/cli.PrintFlags's
// table/json/yaml switch. The table lists them in the requested order; json
// and yaml encode the results map as-is.
func printVariants(results map[string]rules.Variant, order []string, format outputFormat) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]map[string]rules.Variant{"results": results})
	case formatYAML:
		encoder := yaml.NewEncoder(os.Stdout)
		defer encoder.Close()
		return encoder.Encode(map[string]map[string]rules.Variant{"results": results})
	case formatTable:
		return printVariantsTable(results, order)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printVariantsTable(results map[string]rules.Variant, order []string) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Flag", "Variant", "Value")
	for _, key := range order {
		variant, ok := results[key]
		if !ok {
			table.Append(key, "(not found)", "")
			continue
		}
		table.Append(key, variant.Key, fmt.Sprintf("%v", variant.Value))
	}
	return table.Render()
}
