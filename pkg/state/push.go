package state

import (
	"encoding/json"
	"fmt"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

type nodesPayload struct {
	Nodes struct {
		Nodes   []string `json:"nodes"`
		Current string   `json:"current"`
	} `json:"nodes"`
}

type discoverPayload struct {
	Feeds *protocol.DiscoveryResult `json:"feeds"`
}

type fetchPayload struct {
	CorrelationID string                `json:"correlationId"`
	Feed          *protocol.FetchResult `json:"feed"`
}

// DecodePushedAction turns a server push into a typed action. Only content
// updates may be pushed; anything else, including the types of locally
// originated actions, becomes Unrecognized so the server can never create or
// acknowledge log entries.
func DecodePushedAction(p protocol.PushedAction) (Action, error) {
	switch p.ActionType {
	case TypeNodes:
		var v nodesPayload
		if err := json.Unmarshal(p.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.ActionType, err)
		}
		return NodesPushed{Nodes: v.Nodes.Nodes, Current: v.Nodes.Current}, nil
	case TypeDiscover:
		var v discoverPayload
		if err := json.Unmarshal(p.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.ActionType, err)
		}
		if v.Feeds == nil {
			return nil, fmt.Errorf("decode %s: missing feeds", p.ActionType)
		}
		return FeedsDiscovered{Result: *v.Feeds}, nil
	case TypeFetchFeedResult:
		var v fetchPayload
		if err := json.Unmarshal(p.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.ActionType, err)
		}
		if v.Feed == nil {
			return nil, fmt.Errorf("decode %s: missing feed", p.ActionType)
		}
		return FeedFetched{CorrelationID: v.CorrelationID, Result: *v.Feed}, nil
	default:
		return Unrecognized{Type: p.ActionType}, nil
	}
}
