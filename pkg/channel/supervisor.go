// Package channel owns the physical connection to the feed server and turns
// it into a request/response transport.
//
// The Supervisor keeps exactly one socket alive at a time and reconnects with
// exponential backoff forever; the Client layers command dispatch and state
// bookkeeping on top.
package channel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/internal/telemetry"
	"github.com/ryandielhenn/feedwire/pkg/dispatch"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/ring"
	"github.com/ryandielhenn/feedwire/pkg/sender"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

// StateSink receives every connection transition.
type StateSink interface {
	SetConnectionState(state.ConnectionState)
}

// FrameHandler consumes inbound frames; normally a *router.Router.
type FrameHandler interface {
	HandleFrame(data []byte)
}

type Supervisor struct {
	endpoints  *ring.Ring
	sessionKey string
	dialer     Dialer
	backoff    Backoff
	table      *dispatch.Table
	sw         *sender.Switch
	frames     FrameHandler
	sink       StateSink
	logger     *zap.Logger
	wait       func(ctx context.Context, d time.Duration) error

	current atomic.Int32
}

type Option func(*Supervisor)

func WithDialer(d Dialer) Option { return func(s *Supervisor) { s.dialer = d } }

func WithBackoff(b Backoff) Option { return func(s *Supervisor) { s.backoff = b } }

func WithLogger(l *zap.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithSessionKey fixes the key used to pick an endpoint from the ring.
func WithSessionKey(k string) Option { return func(s *Supervisor) { s.sessionKey = k } }

// WithWait replaces the backoff sleep, mainly so tests can observe delays.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.wait = fn }
}

func NewSupervisor(endpoints *ring.Ring, table *dispatch.Table, sw *sender.Switch, frames FrameHandler, sink StateSink, opts ...Option) *Supervisor {
	s := &Supervisor{
		endpoints:  endpoints,
		sessionKey: uuid.NewString(),
		dialer:     NewWebsocketDialer(),
		backoff:    DefaultBackoff(),
		table:      table,
		sw:         sw,
		frames:     frames,
		sink:       sink,
		logger:     zap.NewNop(),
		wait:       sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the last reported connection state.
func (s *Supervisor) State() state.ConnectionState {
	return state.ConnectionState(s.current.Load())
}

// Run connects and keeps reconnecting until ctx is done. Connection failures
// are never returned; they only show up as state transitions.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for ctx.Err() == nil {
		s.report(state.Connecting)
		if s.connect(ctx, attempt) {
			attempt = 0
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		delay := s.backoff.Delay(attempt)
		telemetry.Reconnects.Inc()
		s.logger.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		if err := s.wait(ctx, delay); err != nil {
			return nil
		}
	}
	return nil
}

// connect performs one dial and, if it succeeds, serves the connection until
// it drops. It always leaves the supervisor in Closed and reports whether the
// socket ever opened.
func (s *Supervisor) connect(ctx context.Context, attempt int) bool {
	url, ok := s.endpoints.Pick(s.sessionKey, attempt)
	if !ok {
		s.logger.Warn("no channel endpoints known")
		s.closed()
		return false
	}
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		s.logger.Debug("connect failed", zap.String("url", url), zap.Error(err))
		s.closed()
		return false
	}

	s.sw.UseDirect(sender.NewDirect(s.table, conn))
	s.report(state.Open)
	s.logger.Info("channel open", zap.String("url", url))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			s.logger.Info("channel closing", zap.String("url", url), zap.Error(err))
			break
		}
		s.frames.HandleFrame(data)
	}

	s.report(state.Closing)
	_ = conn.Close()
	s.closed()
	return true
}

func (s *Supervisor) closed() {
	s.sw.UseQueued()
	if n := s.table.AbandonAll(protocol.ReasonConnectionLost); n > 0 {
		s.logger.Warn("abandoned in-flight commands", zap.Int("count", n))
	}
	s.report(state.Closed)
}

func (s *Supervisor) report(cs state.ConnectionState) {
	s.current.Store(int32(cs))
	telemetry.ConnectionState.Set(float64(cs.ReadyState()))
	if s.sink != nil {
		s.sink.SetConnectionState(cs)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
