package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/feedwire/pkg/dispatch"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/ring"
	"github.com/ryandielhenn/feedwire/pkg/router"
	"github.com/ryandielhenn/feedwire/pkg/sender"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

// Config wires a Client. Endpoints is required; zero values elsewhere fall
// back to defaults.
type Config struct {
	Endpoints      *ring.Ring
	CommandTimeout time.Duration
	Backoff        Backoff
	Dialer         Dialer
	SessionKey     string
	Logger         *zap.Logger
	// Wait overrides the reconnect sleep; tests only.
	Wait func(ctx context.Context, d time.Duration) error
}

// Client is one lifecycle-scoped channel: its own dispatch table, sender
// switch and supervisor, feeding a state store.
type Client struct {
	store  *state.Store
	table  *dispatch.Table
	sw     *sender.Switch
	sup    *Supervisor
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewClient(store *state.Store, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	table := dispatch.New(cfg.CommandTimeout, logger.Named("dispatch"))
	sw := sender.NewSwitch()
	rt := router.New(store, table, logger.Named("router"))

	opts := []Option{WithLogger(logger.Named("supervisor"))}
	if cfg.Backoff != (Backoff{}) {
		opts = append(opts, WithBackoff(cfg.Backoff))
	}
	if cfg.Dialer != nil {
		opts = append(opts, WithDialer(cfg.Dialer))
	}
	if cfg.SessionKey != "" {
		opts = append(opts, WithSessionKey(cfg.SessionKey))
	}
	if cfg.Wait != nil {
		opts = append(opts, WithWait(cfg.Wait))
	}

	return &Client{
		store:  store,
		table:  table,
		sw:     sw,
		sup:    NewSupervisor(cfg.Endpoints, table, sw, rt, store, opts...),
		logger: logger,
	}
}

// Run drives the store and the supervisor until ctx is done, then waits for
// every outstanding result to be delivered.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.store.Run(gctx) })
	g.Go(func() error { return c.sup.Run(gctx) })
	err := g.Wait()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.table.AbandonAll(protocol.ReasonConnectionLost)
	c.wg.Wait()
	return err
}

func (c *Client) Store() *state.Store { return c.store }

func (c *Client) State() state.ApplicationState { return c.store.State() }

func (c *Client) Mode() sender.Mode { return c.sw.Mode() }

func (c *Client) ConnectionState() state.ConnectionState { return c.sup.State() }

// Dispatch logs cmd as Pending and hands it to the active sender. The log
// entry is written whatever the send outcome; a local failure (channel not
// ready) is returned to the caller, who decides whether to retry. Once
// accepted, the result is fed back into the store when it arrives.
func (c *Client) Dispatch(cmd protocol.Command) (*dispatch.Future, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	c.store.Dispatch(state.CommandDispatched{Command: cmd, At: time.Now()})

	fut, err := c.sw.Send(cmd)
	if fut != nil {
		c.track(fut)
	}
	if err != nil {
		if errors.Is(err, sender.ErrNotReady) {
			c.logger.Debug("command rejected, channel not ready", zap.String("correlation_id", cmd.CorrelationID))
		} else {
			c.logger.Warn("command send failed", zap.String("correlation_id", cmd.CorrelationID), zap.Error(err))
		}
		return nil, err
	}
	return fut, nil
}

// track feeds the eventual result of fut into the store. Once Run is tearing
// down nothing is tracked any more and fut is failed on the spot.
func (c *Client) track(fut *dispatch.Future) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.table.Abandon(fut.CorrelationID(), protocol.ReasonConnectionLost)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		<-fut.Done()
		res, _ := fut.Result()
		c.store.Dispatch(state.CommandResolved{Result: res, At: time.Now()})
	}()
}

// Call dispatches cmd and waits for its result.
func (c *Client) Call(ctx context.Context, cmd protocol.Command) (protocol.Result, error) {
	fut, err := c.Dispatch(cmd)
	if err != nil {
		return protocol.Result{}, err
	}
	return fut.Wait(ctx)
}

func (c *Client) Discover(urls []string) (*dispatch.Future, error) {
	return c.Dispatch(protocol.NewDiscover(urls))
}

func (c *Client) FetchFeed(feed protocol.FeedDescriptor) (*dispatch.Future, error) {
	return c.Dispatch(protocol.NewFetchFeed(feed))
}

func (c *Client) SelectPost(entryID string) {
	c.store.Dispatch(state.PostSelected{EntryID: entryID})
}

func (c *Client) ClearPost() {
	c.store.Dispatch(state.PostCleared{})
}

func (c *Client) ClearLog() {
	c.store.Dispatch(state.LogCleared{})
}
