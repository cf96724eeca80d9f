// Package router classifies inbound frames and hands each to its consumer:
// pushed actions to the state store, command results to the dispatch table.
package router

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/internal/telemetry"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

type ActionSink interface {
	PushAction(protocol.PushedAction)
}

type Resolver interface {
	Resolve(protocol.Result) bool
}

type Router struct {
	actions ActionSink
	results Resolver
	logger  *zap.Logger
}

func New(actions ActionSink, results Resolver, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{actions: actions, results: results, logger: logger}
}

// HandleFrame decodes and routes one raw frame. Malformed frames are logged
// and dropped; the channel keeps running.
func (r *Router) HandleFrame(data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		telemetry.InboundFrames.WithLabelValues("malformed").Inc()
		r.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	r.Route(msg)
}

func (r *Router) Route(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.PushedAction:
		telemetry.InboundFrames.WithLabelValues("action").Inc()
		r.actions.PushAction(m)
	case protocol.ResultFrame:
		telemetry.InboundFrames.WithLabelValues("result").Inc()
		if !r.results.Resolve(m.Result) {
			r.logger.Debug("result arrived for no outstanding command",
				zap.String("correlation_id", m.Result.CorrelationID))
		}
	case protocol.UnknownFrame:
		telemetry.InboundFrames.WithLabelValues("unknown").Inc()
		r.logger.Warn("unhandled frame", zap.String("type", m.Type))
	default:
		r.logger.Error("router: unexpected inbound variant", zap.Any("msg", msg))
	}
}
