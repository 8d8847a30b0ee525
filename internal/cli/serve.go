package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleet-monitor/geotrack/internal/auth"
	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/monitoring"
	"fleet-monitor/geotrack/internal/pipeline"
	"fleet-monitor/geotrack/internal/store"
	httpapi "fleet-monitor/geotrack/internal/transport/http"
	"fleet-monitor/geotrack/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

type ServeOptions struct {
	*RootOptions
	Port string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion and evaluation service",
		Long: `Accept positions over HTTP, evaluate them per device session and deliver
events to TimescaleDB, Redis pub/sub and websocket subscribers.

Configuration is read from the environment (and .env). SIGHUP reloads the
settings file; running sessions pick it up on their next login change.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "HTTP port (overrides HTTP_PORT)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if opts.SettingsPath != "" {
		cfg.SettingsPath = opts.SettingsPath
	}
	if opts.Port != "" {
		cfg.HTTPPort = opts.Port
	}

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return err
	}

	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisStore.Close()

	timescale, err := store.NewTimescaleStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer timescale.Close()

	containment, closeContainment, err := openContainment(cfg, redisStore)
	if err != nil {
		return err
	}
	defer closeContainment()

	// Workers outlive the request context so they can drain after shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers sync.WaitGroup
	spawn := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	hub := ws.NewHub()
	defer hub.Close()

	dispatcher := pipeline.NewDispatcher(cfg.EventChannelSize, cfg.PublishChannelSize, cfg.EventChannelSize)
	spawn(pipeline.NewDBWriter(dispatcher.DBChan, timescale, cfg.DBBatchSize, cfg.DBFlushIntervalMS).Run)
	spawn(pipeline.NewStateWriter(dispatcher.StateChan, redisStore).Run)
	spawn(pipeline.NewPublisher(dispatcher.PublishChan, redisStore, hub).Run)

	deviceChannel := store.NewDeviceChannel(redisStore.Client())
	effects := pipeline.NewEffects(cfg.CommandChannelSize, pipeline.Collaborators{
		Notifier:  deviceChannel,
		Navigator: deviceChannel,
		Forms:     deviceChannel,
	})
	spawn(effects.Run)

	manager := pipeline.NewManager(workerCtx, settings, pipeline.Deps{
		Store:      containment,
		Directory:  redisStore,
		Activity:   redisStore,
		Events:     dispatcher,
		Positions:  dispatcher,
		Commands:   effects,
		GPS:        redisStore,
		BufferSize: cfg.SampleBufferSize,
	})
	go reloadOnHangup(ctx, cfg.SettingsPath, manager)

	handler := httpapi.NewHandler(
		manager,
		httpapi.NewAuthMiddleware(auth.NewAuthenticator(cfg, redisStore)),
		httpapi.NewRateLimiter(cfg.IngestRatePerDevice),
		hub,
		map[string]httpapi.HealthCheck{
			"redis":     redisStore.Ping,
			"timescale": timescale.Ping,
		},
	)
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		monitoring.Logf("geotrack listening on %s (%d zones, state in %s)",
			server.Addr, len(settings.Zones()), cfg.StateBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	monitoring.Logf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("http shutdown: %v", err)
	}
	manager.Close(shutdownCtx)
	cancelWorkers()
	workers.Wait()
	return nil
}

// openContainment picks the containment backend named by STATE_BACKEND.
func openContainment(cfg *config.Config, redisStore *store.RedisStore) (pipeline.ContainmentStore, func(), error) {
	switch cfg.StateBackend {
	case "redis":
		return redisStore, func() {}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
}

func reloadOnHangup(ctx context.Context, path string, manager *pipeline.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			settings, err := config.LoadSettings(path)
			if err != nil {
				monitoring.Logf("settings reload failed, keeping current settings: %v", err)
				continue
			}
			manager.SetSettings(settings)
			monitoring.Logf("settings reloaded from %s", path)
		case <-ctx.Done():
			return
		}
	}
}
