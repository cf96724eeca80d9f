// Package sender holds the swappable policy deciding what happens to a
// command handed to the channel: rejected while the socket is down, written
// immediately while it is open.
package sender

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ryandielhenn/feedwire/internal/telemetry"
	"github.com/ryandielhenn/feedwire/pkg/dispatch"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

var ErrNotReady = errors.New("channel not ready")

// Sender turns a command into a future result, or fails immediately.
type Sender interface {
	Send(cmd protocol.Command) (*dispatch.Future, error)
}

// FrameWriter writes one complete text frame to the live socket.
type FrameWriter interface {
	WriteFrame(data []byte) error
}

// Queued is used while no socket is open. It never buffers; the caller
// decides whether to retry.
type Queued struct{}

func (Queued) Send(cmd protocol.Command) (*dispatch.Future, error) {
	telemetry.ObserveCommand(string(cmd.Kind), "not_ready")
	return nil, ErrNotReady
}

// Direct writes commands straight to an open socket.
type Direct struct {
	table *dispatch.Table
	w     FrameWriter
}

func NewDirect(table *dispatch.Table, w FrameWriter) *Direct {
	return &Direct{table: table, w: w}
}

func (d *Direct) Send(cmd protocol.Command) (*dispatch.Future, error) {
	frame, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	fut, err := d.table.Register(cmd)
	if err != nil {
		return nil, err
	}
	if err := d.w.WriteFrame(frame); err != nil {
		d.table.Abandon(cmd.CorrelationID, protocol.ReasonWriteFailed)
		return fut, fmt.Errorf("write command %s: %w", cmd.CorrelationID, err)
	}
	return fut, nil
}

type Mode string

const (
	ModeQueued Mode = "queued"
	ModeDirect Mode = "direct"
)

type current struct {
	s    Sender
	mode Mode
}

// Switch holds the active Sender and is swapped atomically on every
// connection transition. It starts queued.
type Switch struct {
	cur atomic.Pointer[current]
}

func NewSwitch() *Switch {
	sw := &Switch{}
	sw.UseQueued()
	return sw
}

func (sw *Switch) UseQueued() {
	sw.cur.Store(&current{s: Queued{}, mode: ModeQueued})
}

func (sw *Switch) UseDirect(d *Direct) {
	sw.cur.Store(&current{s: d, mode: ModeDirect})
}

func (sw *Switch) Mode() Mode {
	return sw.cur.Load().mode
}

func (sw *Switch) Send(cmd protocol.Command) (*dispatch.Future, error) {
	return sw.cur.Load().s.Send(cmd)
}
