package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

var waitTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover <url>...",
	Short: "Discover the feeds published by one or more sites",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, protocol.NewDiscover(args), func(w io.Writer, st state.ApplicationState, res protocol.Result) error {
			for _, d := range st.Discoveries {
				if d.QueryID == res.CorrelationID {
					return printJSON(w, d)
				}
			}
			return printJSON(w, res)
		})
	},
}

var fetchTitle string

var fetchCmd = &cobra.Command{
	Use:   "fetch <feed-url>",
	Short: "Fetch the entries of one feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feed := protocol.FeedDescriptor{Title: fetchTitle, URL: args[0]}
		return oneShot(cmd, protocol.NewFetchFeed(feed), func(w io.Writer, st state.ApplicationState, _ protocol.Result) error {
			return printJSON(w, state.PostList(st))
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{discoverCmd, fetchCmd} {
		c.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "how long to wait for the channel and the result")
	}
	fetchCmd.Flags().StringVar(&fetchTitle, "title", "", "feed title")
}

// oneShot connects, sends cmd once the channel is open, waits for its result
// and prints it with show.
func oneShot(cmd *cobra.Command, c protocol.Command, show func(io.Writer, state.ApplicationState, protocol.Result) error) error {
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, waitTimeout)
	defer cancel()

	runCtx, stopChannel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	client, err := startChannel(gctx, g, cfg, state.Initial())
	if err != nil {
		stopChannel()
		return err
	}
	defer func() {
		stopChannel()
		_ = g.Wait()
	}()

	if _, err := client.Store().WaitFor(ctx, func(s state.ApplicationState) bool {
		return s.ConnectionState == state.Open
	}); err != nil {
		return fmt.Errorf("channel did not open: %w", err)
	}

	res, err := client.Call(ctx, c)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s failed: %s", c.Kind, res.Reason)
	}
	// The result lands in the store right after the future resolves.
	st, err := client.Store().WaitFor(ctx, func(s state.ApplicationState) bool {
		return s.Log[c.CorrelationID].Status == state.Acknowledged
	})
	if err != nil {
		return err
	}
	return show(cmd.OutOrStdout(), st, res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
