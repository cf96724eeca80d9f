// Package protocol defines the JSON frames exchanged over the feed channel:
// outbound commands, inbound pushed actions and correlated command results.
//
// Frames are text messages carrying a single JSON object. Outbound frames are
// always commands; inbound frames are discriminated by their "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type CommandKind string

const (
	KindDiscover  CommandKind = "discover"
	KindFetchFeed CommandKind = "fetchfeed"
)

var ErrInvalidCommand = errors.New("invalid command")

// Command is a request to the server. It is immutable once created; the
// CorrelationID links it to exactly one eventual Result.
type Command struct {
	Kind          CommandKind     `json:"kind"`
	CorrelationID string          `json:"correlationId"`
	URLs          []string        `json:"-"`
	Feed          *FeedDescriptor `json:"-"`
}

// NewCorrelationID returns a fresh random id. Ids derived from wall-clock
// readings collide under rapid dispatch, random ones do not.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewDiscover builds a discover command for the given urls.
func NewDiscover(urls []string) Command {
	return Command{
		Kind:          KindDiscover,
		CorrelationID: NewCorrelationID(),
		URLs:          append([]string(nil), urls...),
	}
}

// NewFetchFeed builds a fetchfeed command for a previously discovered feed.
func NewFetchFeed(feed FeedDescriptor) Command {
	f := feed
	return Command{
		Kind:          KindFetchFeed,
		CorrelationID: NewCorrelationID(),
		Feed:          &f,
	}
}

func (c Command) Validate() error {
	if c.CorrelationID == "" {
		return fmt.Errorf("%w: empty correlation id", ErrInvalidCommand)
	}
	switch c.Kind {
	case KindDiscover:
		if len(c.URLs) == 0 {
			return fmt.Errorf("%w: discover needs at least one url", ErrInvalidCommand)
		}
	case KindFetchFeed:
		if c.Feed == nil || c.Feed.URL == "" {
			return fmt.Errorf("%w: fetchfeed needs a feed url", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	return nil
}

type commandWire struct {
	Kind          CommandKind     `json:"kind"`
	CorrelationID string          `json:"correlationId"`
	Args          json.RawMessage `json:"args"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	var (
		args []byte
		err  error
	)
	switch c.Kind {
	case KindDiscover:
		urls := c.URLs
		if urls == nil {
			urls = []string{}
		}
		args, err = json.Marshal(urls)
	case KindFetchFeed:
		args, err = json.Marshal(c.Feed)
	default:
		args = []byte("null")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandWire{Kind: c.Kind, CorrelationID: c.CorrelationID, Args: args})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Command{Kind: w.Kind, CorrelationID: w.CorrelationID}
	if len(w.Args) == 0 || string(w.Args) == "null" {
		return nil
	}
	switch w.Kind {
	case KindDiscover:
		return json.Unmarshal(w.Args, &c.URLs)
	case KindFetchFeed:
		c.Feed = &FeedDescriptor{}
		return json.Unmarshal(w.Args, c.Feed)
	}
	return nil
}

// EncodeCommand validates cmd and renders the outbound frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cmd)
}
