package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/pkg/channel"
	"github.com/ryandielhenn/feedwire/pkg/registry"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect the persisted state snapshot",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the state a fresh start would restore",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Snapshot.Path == "" {
			return errors.New("no snapshot database configured (snapshot.path or FEEDWIRE_SNAPSHOT_DB)")
		}
		snaps, closeSnaps, err := openSnapshots(cfg)
		if err != nil {
			return err
		}
		defer closeSnaps()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if _, ok, err := snaps.Load(ctx, cfg.Snapshot.Key); err != nil {
			return err
		} else if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "no snapshot stored under %q\n", cfg.Snapshot.Key)
			return nil
		}
		st := snapshot.LoadInitial(ctx, snaps, cfg.Snapshot.Key, logger)
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Manage channel endpoints published in etcd",
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cli, err := registryClient()
		if err != nil {
			return err
		}
		defer cli.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		eps, err := registry.Resolve(ctx, cli, cfg.Registry.Prefix)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(eps))
		for id := range eps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, eps[id])
		}
		return nil
	},
}

var registerTTL int64

var endpointsRegisterCmd = &cobra.Command{
	Use:   "register <id> <origin>",
	Short: "Publish a feed server until interrupted",
	Long: `Publishes the socket URL of a feed server under <id> with a leased key.
The key disappears shortly after this command exits.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := channelURL(args[1])
		if err != nil {
			return err
		}
		cli, err := registryClient()
		if err != nil {
			return err
		}
		defer cli.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		lease, cancel, err := registry.RegisterEndpoint(ctx, cli, cfg.Registry.Prefix, args[0], url, registerTTL)
		if err != nil {
			return err
		}
		logger.Info("endpoint registered", zap.String("id", args[0]), zap.String("url", url))

		<-ctx.Done()
		cancel()
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rcancel()
		_, _ = cli.Revoke(rctx, lease)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotShowCmd)
	endpointsRegisterCmd.Flags().Int64Var(&registerTTL, "ttl", 10, "lease ttl in seconds")
	endpointsCmd.AddCommand(endpointsListCmd, endpointsRegisterCmd)
}

func registryClient() (*clientv3.Client, error) {
	if !cfg.RegistryEnabled() {
		return nil, errors.New("no etcd endpoints configured (registry.endpoints or FEEDWIRE_ETCD_ENDPOINTS)")
	}
	cli, err := registry.NewClient(cfg.Registry.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	return cli, nil
}

func channelURL(origin string) (string, error) {
	return channel.EndpointURL(origin, cfg.Channel.Path)
}
