package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/labdesk/internal/health"
	"go.uber.org/zap"
)

func newHealthCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the assistant backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			client, err := newClient(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			prober, err := health.NewProber(health.ProberOpts{Checker: client, Timeout: timeout})
			if err != nil {
				return err
			}

			res := prober.Check(context.Background())
			out := cmd.OutOrStdout()
			if !res.Healthy {
				fmt.Fprintf(out, "%s: unhealthy (%s)\n", cfg.Assistant.BaseURL, res.Error)
				return fmt.Errorf("backend unhealthy")
			}
			fmt.Fprintf(out, "%s: %s (version %s, %s)\n",
				cfg.Assistant.BaseURL, res.Status.Status, res.Status.Version, res.Status.Environment)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "probe timeout")
	return cmd
}
