package state

import (
	"time"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

// Action is a proposed state transition.
type Action interface {
	ActionType() string
}

const (
	TypeConnectionChanged = "READY_STATE_CHANGE"
	TypeNodes             = "NODES"
	TypeCommand           = "CMD"
	TypeResult            = "RES"
	TypeDiscover          = "DISCOVER"
	TypeFetchFeedResult   = "FETCH_FEED_RESULT"
	TypeSelectPost        = "SET_POST"
	TypeClearPost         = "CLEAR_POST"
	TypeClearLog          = "CLEAR_LOG"
)

type ConnectionChanged struct {
	State ConnectionState
}

// NodesPushed replaces the server node list wholesale.
type NodesPushed struct {
	Nodes   []string
	Current string
}

// CommandDispatched records a command the session itself issued.
type CommandDispatched struct {
	Command protocol.Command
	At      time.Time
}

type CommandResolved struct {
	Result protocol.Result
	At     time.Time
}

type FeedsDiscovered struct {
	Result protocol.DiscoveryResult
}

type FeedFetched struct {
	CorrelationID string
	Result        protocol.FetchResult
}

type PostSelected struct {
	EntryID string
}

type PostCleared struct{}

// LogCleared empties the command log and discoveries; posts survive.
type LogCleared struct{}

// Unrecognized carries any action type the reducer does not know about.
type Unrecognized struct {
	Type string
}

func (ConnectionChanged) ActionType() string { return TypeConnectionChanged }
func (NodesPushed) ActionType() string       { return TypeNodes }
func (CommandDispatched) ActionType() string { return TypeCommand }
func (CommandResolved) ActionType() string   { return TypeResult }
func (FeedsDiscovered) ActionType() string   { return TypeDiscover }
func (FeedFetched) ActionType() string       { return TypeFetchFeedResult }
func (PostSelected) ActionType() string      { return TypeSelectPost }
func (PostCleared) ActionType() string       { return TypeClearPost }
func (LogCleared) ActionType() string        { return TypeClearLog }
func (u Unrecognized) ActionType() string    { return u.Type }
