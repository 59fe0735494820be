package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/neorix/internal/actors"
	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/gateway"
	"github.com/dohr-michael/neorix/internal/heartbeat"
	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/secrets"
	"github.com/dohr-michael/neorix/internal/sessions"
	"github.com/dohr-michael/neorix/internal/storage"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the Neorix gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)
	setupLogging(cmd, cfg.Events.LogLevel)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Model registry: providers are built on first send, so a missing key never
	// prevents startup.
	pool := actors.NewPool(nil)
	registry := models.NewRegistry(cfg.Models, models.WithPool(pool))
	slog.Info("model provider", "default", registry.DefaultName(), "providers", registry.Names())

	// Hot reload
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg)
	reloader.OnReload(func(c *config.Config) {
		if _, err := secrets.UnsealEnv(secrets.KeyPath()); err != nil {
			slog.Warn("failed to unseal .env values", "error", err)
		}
		registry.Update(c.Models)
	})

	// Derived records
	el := storage.NewEventLogger(config.LogsPath(), bus)
	defer el.Close()

	opts := []gateway.Option{gateway.WithCapacity(pool)}
	var store sessions.Store
	if cfg.Archive.Enabled {
		s, closeStore, err := openArchive(cfg.Archive)
		if err != nil {
			return err
		}
		defer closeStore()
		store = s

		rec := sessions.NewRecorder(bus, store)
		defer rec.Close()
		opts = append(opts, gateway.WithStore(store))
		slog.Info("transcript archive enabled", "driver", cfg.Archive.Driver, "dir", cfg.Archive.Dir)
	}

	usage := storage.NewUsageTracker(bus, store)
	defer usage.Close()
	opts = append(opts, gateway.WithUsage(usage))

	// Gateway server
	server := gateway.NewServer(bus, registry, cfg.Gateway.Host, cfg.Gateway.Port, opts...)
	if err := server.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Heartbeat
	hb := heartbeat.NewWriter(config.HeartbeatPath(),
		heartbeat.WithAddr(server.Addr()),
		heartbeat.WithConversations(server.Clients),
	)
	hb.Start()
	defer hb.Stop()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Wait for signal or error
	for {
		select {
		case <-hup:
			if err := reloader.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}

// openArchive opens the transcript store selected by the archive config.
func openArchive(cfg config.ArchiveConfig) (sessions.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sessions.OpenSQLStore(filepath.Join(cfg.Dir, "archive.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		return s, func() {
			if err := s.CloseDB(); err != nil {
				slog.Warn("close archive", "error", err)
			}
		}, nil
	case "jsonl", "":
		return sessions.NewFileStore(cfg.Dir), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
