package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/config"
	"github.com/zulandar/labdesk/internal/dispatch"
	"github.com/zulandar/labdesk/internal/logging"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
	"github.com/zulandar/labdesk/internal/store"
	"go.uber.org/zap"
)

const defaultConfigPath = "labdesk.yaml"

// addConfigFlag registers the shared --config flag.
func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to labdesk config file")
}

// loadConfig reads the config file. The default path may be absent; an
// explicitly named file must exist.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newClient(cfg *config.Config, log *zap.Logger) (*assistant.HTTPClient, error) {
	return assistant.NewHTTPClient(assistant.HTTPClientOpts{
		BaseURL:        cfg.Assistant.BaseURL,
		Timeout:        cfg.Assistant.Timeout,
		SearchCacheTTL: cfg.Assistant.SearchCacheTTL,
		Logger:         log.Named("assistant"),
	})
}

// app wires the store, session machine, registry and dispatcher together.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	kv       store.KV
	gateway  *store.Gateway
	writer   *store.Writer
	machine  *session.Machine
	registry *registry.Registry
	client   *assistant.HTTPClient
	coord    *dispatch.Coordinator
}

// newApp opens the store and restores saved threads. The caller must call
// close to flush pending saves.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	gateway, err := store.NewGateway(kv, cfg.Store.Key)
	if err != nil {
		kv.Close()
		return nil, err
	}
	writer := store.NewWriter(store.WriterOpts{Saver: gateway, Logger: log.Named("store")})

	machine := session.NewMachine(session.MachineOpts{})
	reg, err := registry.New(registry.RegistryOpts{
		Machine:   machine,
		Persister: writer,
		Logger:    log.Named("registry"),
	})
	if err != nil {
		writer.Close()
		kv.Close()
		return nil, err
	}

	client, err := newClient(cfg, log)
	if err != nil {
		writer.Close()
		kv.Close()
		return nil, err
	}
	coord, err := dispatch.NewCoordinator(dispatch.CoordinatorOpts{
		Registry:      reg,
		Machine:       machine,
		Client:        client,
		SingleProduct: cfg.Assistant.SingleProduct(),
		Logger:        log.Named("dispatch"),
	})
	if err != nil {
		writer.Close()
		kv.Close()
		return nil, err
	}

	// A load failure still leaves a usable fresh thread.
	if err := reg.Restore(ctx, gateway); err != nil {
		log.Warn("saved threads could not be restored; starting fresh", zap.Error(err))
	}

	return &app{
		cfg:      cfg,
		log:      log,
		kv:       kv,
		gateway:  gateway,
		writer:   writer,
		machine:  machine,
		registry: reg,
		client:   client,
		coord:    coord,
	}, nil
}

func (a *app) close() {
	a.writer.Close()
	if err := a.kv.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	a.log.Sync()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return log, nil
}
