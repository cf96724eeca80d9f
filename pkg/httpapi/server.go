// Package httpapi is the local control surface of a feedwire process: it
// exposes the application state and lets an operator issue commands over
// plain HTTP.
package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/internal/telemetry"
	"github.com/ryandielhenn/feedwire/pkg/dispatch"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/sender"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

// Channel is what the API drives; *channel.Client satisfies it.
type Channel interface {
	Dispatch(cmd protocol.Command) (*dispatch.Future, error)
	SelectPost(entryID string)
	ClearPost()
	ClearLog()
	State() state.ApplicationState
	ConnectionState() state.ConnectionState
	Mode() sender.Mode
}

type Server struct {
	ch      Channel
	snap    snapshot.Backend
	snapKey string
	logger  *zap.Logger
	started time.Time
}

type Option func(*Server)

// WithSnapshot enables POST /snapshot against b under key.
func WithSnapshot(b snapshot.Backend, key string) Option {
	return func(s *Server) {
		s.snap = b
		s.snapKey = key
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(ch Channel, opts ...Option) *Server {
	s := &Server{
		ch:      ch,
		snapKey: snapshot.DefaultKey,
		logger:  zap.NewNop(),
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed, instrumented mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /healthz", "healthz", s.Healthz)
	s.handle(mux, "GET /info", "info", s.Info)
	s.handle(mux, "GET /state", "state", s.GetState)
	s.handle(mux, "GET /posts", "posts", s.Posts)
	s.handle(mux, "POST /discover", "discover", s.Discover)
	s.handle(mux, "POST /fetch", "fetch", s.Fetch)
	s.handle(mux, "POST /select", "select", s.Select)
	s.handle(mux, "DELETE /select", "select", s.Unselect)
	s.handle(mux, "POST /log/clear", "log_clear", s.ClearLog)
	s.handle(mux, "POST /snapshot", "snapshot", s.SaveSnapshot)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern, op string, h http.HandlerFunc) {
	mux.Handle(pattern, telemetry.Instrument(op, h))
}
