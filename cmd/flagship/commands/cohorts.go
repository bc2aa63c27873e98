package commands

import (
	"context"
	"fmt"

	"github.com/TimurManjosov/goflagship/internal/cli"
	"github.com/TimurManjosov/goflagship/internal/client"
	"github.com/spf13/cobra"
)

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Inspect cohort sync state",
	Long: `List or inspect the cohorts this deployment has computed and cached.

Examples:
  flagship cohorts list --env prod
  flagship cohorts get cohort_123 --env prod`,
}

var cohortsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cohorts",
	RunE: func(cmd *cobra.Command, args []string) error {
		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		cohorts, err := c.ListCohorts(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list cohorts: %w", err)
		}

		if quiet {
			return nil
		}
		if len(cohorts) == 0 {
			fmt.Println("No cohorts found")
			return nil
		}
		for _, ch := range cohorts {
			fmt.Printf("%s\tgroup=%s\tsize=%d\tlastComputed=%s\n", ch.ID, ch.GroupType, ch.Size, ch.LastComputed.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var cohortsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a single cohort",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		cohort, err := c.GetCohort(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get cohort: %w", err)
		}

		if !quiet {
			fmt.Printf("id=%s group=%s size=%d lastComputed=%s\n", cohort.ID, cohort.GroupType, cohort.Size, cohort.LastComputed.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cohortsCmd)
	cohortsCmd.AddCommand(cohortsListCmd)
	cohortsCmd.AddCommand(cohortsGetCmd)
}
