package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TimurManjosov/goflagship/internal/cli"
	"github.com/TimurManjosov/goflagship/internal/client"
	sdkrules "github.com/TimurManjosov/goflagship/internal/sdk/rules"
	"github.com/TimurManjosov/goflagship/internal/store"
	"github.com/spf13/cobra"
)

var (
	updateEnabled      *bool
	updateRollout      *int32
	updateConfig       string
	updateDescription  string
	updateSegments     string
	updateDependencies []string
)

var updateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Update a feature flag",
	Long: `Update an existing feature flag.

Examples:
  flagship update feature_x --enabled=false --env prod
  flagship update feature_x --rollout 75 --env prod
  flagship update feature_x --config '{"color":"red"}' --env prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		// Get environment configuration
		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		// Create API client
		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		// First, get the existing flag to preserve values
		ctx := context.Background()
		existingFlag, err := c.GetFlag(ctx, key, env)
		if err != nil {
			return fmt.Errorf("failed to get existing flag: %w", err)
		}

		// Build update params, starting with existing values
		params := store.UpsertParams{
			Key:          key,
			Description:  existingFlag.Description,
			Enabled:      existingFlag.Enabled,
			Rollout:      existingFlag.Rollout,
			Config:       existingFlag.Config,
			Variants:     existingFlag.Variants,
			Expression:   existingFlag.Expression,
			Segments:     existingFlag.Segments,
			Dependencies: existingFlag.Dependencies,
			Env:          env,
		}

		// Update with new values if provided
		if cmd.Flags().Changed("enabled") {
			params.Enabled, _ = cmd.Flags().GetBool("enabled")
		}
		if cmd.Flags().Changed("rollout") {
			params.Rollout, _ = cmd.Flags().GetInt32("rollout")
		}
		if updateDescription != "" {
			params.Description = updateDescription
		}
		if updateConfig != "" {
			var config map[string]any
			if err := json.Unmarshal([]byte(updateConfig), &config); err != nil {
				return fmt.Errorf("invalid config JSON: %w", err)
			}
			params.Config = config
		}
		if updateSegments != "" {
			var segments []sdkrules.Segment
			if err := json.Unmarshal([]byte(updateSegments), &segments); err != nil {
				return fmt.Errorf("invalid segments JSON: %w", err)
			}
			params.Segments = segments
		}
		if len(updateDependencies) > 0 {
			params.Dependencies = updateDependencies
		}

		// Update flag
		if err := c.UpdateFlag(ctx, params); err != nil {
			return fmt.Errorf("failed to update flag: %w", err)
		}

		if !quiet {
			fmt.Printf("Successfully updated flag '%s' in environment '%s'\n", key, env)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	// RunE checks Flags().Changed to tell "not set" apart from "set to false/0"
	updateCmd.Flags().BoolVar(new(bool), "enabled", false, "Enable/disable the flag")
	updateCmd.Flags().Int32Var(new(int32), "rollout", 0, "Rollout percentage (0-100)")
	updateCmd.Flags().StringVar(&updateConfig, "config", "", "Flag configuration as JSON")
	updateCmd.Flags().StringVar(&updateDescription, "description", "", "Flag description")
	updateCmd.Flags().StringVar(&updateSegments, "segments", "", "Segment/bucket targeting rules as JSON (internal/sdk/rules.Segment array)")
	updateCmd.Flags().StringSliceVar(&updateDependencies, "dependencies", nil, "Flag keys that must be evaluated before this one")

	updateEnabled = new(bool)
	updateRollout = new(int32)

	// A bare --enabled means --enabled=true
	updateCmd.Flags().Lookup("enabled").NoOptDefVal = "true"
}
