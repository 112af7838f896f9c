package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/labdesk/internal/health"
	"github.com/zulandar/labdesk/internal/server"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local chat API",
		Long:  "Restores saved threads and serves the chat API with a live event feed. The backend is probed on the configured health schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	prober, err := health.NewProber(health.ProberOpts{
		Checker:  a.client,
		Schedule: cfg.Health.Schedule,
		Logger:   log.Named("health"),
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.ServerOpts{
		Registry:    a.registry,
		Machine:     a.machine,
		Coordinator: a.coord,
		Client:      a.client,
		Prober:      prober,
		Port:        cfg.Server.Port,
		Out:         cmd.OutOrStdout(),
		Logger:      log.Named("server"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return prober.Run(gctx) })
	return g.Wait()
}
