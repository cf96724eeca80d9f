// Package state merges local commands, server-pushed actions and correlated
// command results into one ApplicationState.
//
// Reduce is a pure function and never mutates its input: any map or slice it
// changes is copied first, so a published state may be shared freely as long
// as readers treat it as immutable. Store is the only writer.
package state

import (
	"fmt"
	"time"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

// ConnectionState mirrors the socket's readiness. It is owned by the
// connection supervisor; everything else only reads it.
type ConnectionState int

const (
	Unknown ConnectionState = iota
	Connecting
	Open
	Closing
	Closed
)

var connectionStateNames = [...]string{"unknown", "connecting", "open", "closing", "closed"}

func (c ConnectionState) String() string {
	if c < Unknown || c > Closed {
		return fmt.Sprintf("ConnectionState(%d)", int(c))
	}
	return connectionStateNames[c]
}

// ReadyState returns the browser-style numeric ready state (-1 for unknown).
func (c ConnectionState) ReadyState() int {
	return int(c) - 1
}

func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnectionState) UnmarshalText(b []byte) error {
	for i, n := range connectionStateNames {
		if n == string(b) {
			*c = ConnectionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

type LogStatus string

const (
	Pending      LogStatus = "pending"
	Acknowledged LogStatus = "ack"
)

// LogEntry tracks one dispatched command. It is created Pending and moves to
// Acknowledged exactly once, when the matching result arrives.
type LogEntry struct {
	Request protocol.Command `json:"req"`
	Status  LogStatus        `json:"status"`
	Since   time.Time        `json:"since"`
	AckedAt time.Time        `json:"ackedAt,omitzero"`
	Result  *protocol.Result `json:"result,omitempty"`
}

type ApplicationState struct {
	ConnectionState ConnectionState            `json:"connectionState"`
	KnownNodes      []string                   `json:"knownNodes"`
	CurrentNode     string                     `json:"currentNode,omitempty"`
	Log             map[string]LogEntry        `json:"log"`
	Discoveries     []protocol.DiscoveryResult `json:"discoveries"`
	Posts           map[string]protocol.Post   `json:"posts"`
	SelectedPostID  string                     `json:"selectedPostId,omitempty"`
}

// Default is the state before any action has been applied.
func Default() ApplicationState {
	return ApplicationState{
		ConnectionState: Unknown,
		KnownNodes:      []string{},
		Log:             map[string]LogEntry{},
		Discoveries:     []protocol.DiscoveryResult{},
		Posts:           map[string]protocol.Post{},
	}
}

// Initial reduces a no-op action against the default state.
func Initial() ApplicationState {
	return Reduce(Default(), Unrecognized{Type: "@@init"})
}

// SelectedPost returns the selected post when it is present in Posts.
func (s ApplicationState) SelectedPost() (protocol.Post, bool) {
	if s.SelectedPostID == "" {
		return protocol.Post{}, false
	}
	p, ok := s.Posts[s.SelectedPostID]
	return p, ok
}
