package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/feedwire/internal/config"
	"github.com/ryandielhenn/feedwire/internal/telemetry"
	"github.com/ryandielhenn/feedwire/pkg/channel"
	"github.com/ryandielhenn/feedwire/pkg/httpapi"
	"github.com/ryandielhenn/feedwire/pkg/registry"
	"github.com/ryandielhenn/feedwire/pkg/ring"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the channel and serve the control API",
	Args:  cobra.NoArgs,
	RunE:  runChannel,
}

func runChannel(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	telemetry.SetBuildInfo(version, gitSHA)

	snaps, closeSnaps, err := openSnapshots(cfg)
	if err != nil {
		return err
	}
	defer closeSnaps()
	initial := snapshot.LoadInitial(ctx, snaps, cfg.Snapshot.Key, logger.Named("snapshot"))

	g, gctx := errgroup.WithContext(ctx)
	client, err := startChannel(gctx, g, cfg, initial)
	if err != nil {
		return err
	}

	if cfg.Listen != "" {
		api := httpapi.New(client,
			httpapi.WithSnapshot(snaps, cfg.Snapshot.Key),
			httpapi.WithLogger(logger.Named("http")),
		)
		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("control api listening", zap.String("addr", cfg.Listen))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	logger.Info("shut down", zap.Error(err))
	return err
}

// startChannel builds the endpoint ring and the client and starts them on g.
// With a registry configured, etcd endpoints are merged over the static ones
// for as long as ctx lives.
func startChannel(ctx context.Context, g *errgroup.Group, cfg *config.Config, initial state.ApplicationState) (*channel.Client, error) {
	static, err := cfg.StaticEndpoints()
	if err != nil {
		return nil, err
	}
	endpoints := ring.New(128, ring.FNV32a)
	endpoints.Replace(static)

	if cfg.RegistryEnabled() {
		cli, err := registry.NewClient(cfg.Registry.Endpoints)
		if err != nil {
			return nil, fmt.Errorf("etcd client: %w", err)
		}
		rlog := logger.Named("registry")
		g.Go(func() error {
			defer cli.Close()
			err := registry.Watch(ctx, cli, cfg.Registry.Prefix, rlog, func(found map[string]string) {
				merged := maps.Clone(static)
				maps.Copy(merged, found)
				endpoints.Replace(merged)
				rlog.Info("endpoints updated", zap.Int("count", len(merged)))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	store := state.NewStore(initial, logger.Named("store"))
	client := channel.NewClient(store, channel.Config{
		Endpoints:      endpoints,
		CommandTimeout: cfg.GetCommandTimeout(),
		Backoff:        cfg.GetBackoff(),
		Logger:         logger.Named("channel"),
	})
	g.Go(func() error { return client.Run(ctx) })
	return client, nil
}

// openSnapshots opens the configured snapshot store. Without a path snapshots
// only live for the process lifetime.
func openSnapshots(cfg *config.Config) (snapshot.Backend, func(), error) {
	if cfg.Snapshot.Path == "" {
		return snapshot.NewMemory(), func() {}, nil
	}
	b, err := snapshot.OpenSQLite(cfg.Snapshot.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot db: %w", err)
	}
	return b, func() {
		if err := b.Close(); err != nil {
			logger.Warn("close snapshot db", zap.Error(err))
		}
	}, nil
}
