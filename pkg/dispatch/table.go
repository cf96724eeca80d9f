// Package dispatch bridges asynchronous command results back to their callers.
//
// A Table maps correlation ids to unresolved Futures. Every registered entry
// ends exactly once: resolved by a server result, or abandoned with a locally
// synthesized error result (timeout, lost connection, failed write).
package dispatch

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/internal/telemetry"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

var ErrDuplicate = errors.New("correlation id already outstanding")

type entry struct {
	cmd        protocol.Command
	fut        *Future
	timer      *time.Timer
	registered time.Time
}

// Table is safe for concurrent use. The zero value is not usable; call New.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
	logger  *zap.Logger
}

// New returns an empty table. A positive timeout abandons entries that see
// no result within that interval; zero disables the timeout.
func New(timeout time.Duration, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		entries: make(map[string]*entry),
		timeout: timeout,
		logger:  logger,
	}
}

// Register creates the pending outcome for cmd. It must be called before the
// command is written to the wire so a fast reply always finds its entry.
func (t *Table) Register(cmd protocol.Command) (*Future, error) {
	id := cmd.CorrelationID
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return nil, ErrDuplicate
	}
	e := &entry{cmd: cmd, fut: newFuture(id), registered: time.Now()}
	if t.timeout > 0 {
		e.timer = time.AfterFunc(t.timeout, func() {
			if t.Abandon(id, protocol.ReasonTimeout) {
				t.logger.Warn("command timed out",
					zap.String("correlation_id", id),
					zap.String("kind", string(cmd.Kind)),
					zap.Duration("timeout", t.timeout))
			}
		})
	}
	t.entries[id] = e
	telemetry.PendingCommands.Set(float64(len(t.entries)))
	return e.fut, nil
}

// Resolve completes the entry matching res.CorrelationID and removes it.
// Error results that do not echo their command get the registered one.
// Unknown or already-resolved ids are ignored and report false.
func (t *Table) Resolve(res protocol.Result) bool {
	e := t.take(res.CorrelationID)
	if e == nil {
		t.logger.Debug("result for unknown correlation id", zap.String("correlation_id", res.CorrelationID))
		return false
	}
	outcome := "ok"
	if !res.OK() {
		outcome = "error"
		if res.Command == nil {
			cmd := e.cmd
			res.Command = &cmd
		}
	}
	t.finish(e, res, outcome)
	return true
}

// Abandon fails the entry for id with a synthesized error result.
func (t *Table) Abandon(id, reason string) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	t.finish(e, protocol.ErrorResult(e.cmd, reason), outcomeFor(reason))
	return true
}

// AbandonAll fails every outstanding entry and returns how many there were.
func (t *Table) AbandonAll(reason string) int {
	t.mu.Lock()
	all := t.entries
	t.entries = make(map[string]*entry)
	telemetry.PendingCommands.Set(0)
	t.mu.Unlock()

	for _, e := range all {
		if e.timer != nil {
			e.timer.Stop()
		}
		t.finish(e, protocol.ErrorResult(e.cmd, reason), outcomeFor(reason))
	}
	return len(all)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) take(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	telemetry.PendingCommands.Set(float64(len(t.entries)))
	return e
}

func (t *Table) finish(e *entry, res protocol.Result, outcome string) {
	if !e.fut.complete(res) {
		return
	}
	telemetry.CommandLatency.Observe(time.Since(e.registered).Seconds())
	telemetry.ObserveCommand(string(e.cmd.Kind), outcome)
}

func outcomeFor(reason string) string {
	switch reason {
	case protocol.ReasonTimeout:
		return "timeout"
	case protocol.ReasonConnectionLost:
		return "lost"
	case protocol.ReasonWriteFailed:
		return "write_failed"
	default:
		return "abandoned"
	}
}
