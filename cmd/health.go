package cmd

import (
	"fmt"

	"github.com/killallgit/finsight/pkg/config"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		client := newClient(cfg)

		status, err := client.CheckHealthWithTimeout(cfg.Health.Timeout)
		if err != nil {
			return err
		}
		if !status.Available {
			return fmt.Errorf("backend unavailable: %w", status.Error)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s is healthy at %s\n", status.Service, status.Version, client.BaseURL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
