package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/labdesk/internal/store"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect saved threads",
	}
	cmd.AddCommand(newThreadsListCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			kv, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer kv.Close()
			gateway, err := store.NewGateway(kv, cfg.Store.Key)
			if err != nil {
				return err
			}
			saved, err := gateway.Load(ctx)
			if err != nil {
				return fmt.Errorf("load threads: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(saved) == 0 {
				fmt.Fprintln(out, "No saved threads.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODE\tMESSAGES\tPRODUCT")
			for _, t := range saved {
				product := "-"
				if t.SelectedProduct != nil {
					product = t.SelectedProduct.Name()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Name, t.Mode.Label(), len(t.Messages), product)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
