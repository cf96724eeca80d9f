// Package snapshot persists a coarse fragment of the application state and
// replays it over the reducer defaults at startup.
//
// Only posts and the selected post are written, and only when explicitly
// requested. In-flight commands are never persisted.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

// DefaultKey is the single entry the fragment is stored under.
const DefaultKey = "debug-state"

// Backend is durable string-keyed storage for one serialized fragment.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

// fragment is a partial ApplicationState. Absent fields keep their default.
// The connection state and the command log are deliberately not restorable:
// the first belongs to the live supervisor and the second may only hold
// commands this session issued.
type fragment struct {
	Posts          *map[string]protocol.Post   `json:"posts,omitempty"`
	SelectedPostID *string                     `json:"selectedPostId,omitempty"`
	KnownNodes     *[]string                   `json:"knownNodes,omitempty"`
	CurrentNode    *string                     `json:"currentNode,omitempty"`
	Discoveries    *[]protocol.DiscoveryResult `json:"discoveries,omitempty"`
}

// Overlay applies a serialized fragment on top of base field by field.
func Overlay(base state.ApplicationState, data []byte) (state.ApplicationState, error) {
	var f fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("decode snapshot: %w", err)
	}
	if f.Posts != nil && *f.Posts != nil {
		base.Posts = *f.Posts
	}
	if f.SelectedPostID != nil {
		base.SelectedPostID = *f.SelectedPostID
	}
	if f.KnownNodes != nil && *f.KnownNodes != nil {
		base.KnownNodes = *f.KnownNodes
	}
	if f.CurrentNode != nil {
		base.CurrentNode = *f.CurrentNode
	}
	if f.Discoveries != nil && *f.Discoveries != nil {
		base.Discoveries = *f.Discoveries
	}
	return base, nil
}

// LoadInitial returns the reducer's initial state with any stored fragment
// overlaid. A missing, unreadable or corrupt fragment is logged and the pure
// defaults are returned.
func LoadInitial(ctx context.Context, b Backend, key string, logger *zap.Logger) state.ApplicationState {
	if logger == nil {
		logger = zap.NewNop()
	}
	initial := state.Initial()
	if b == nil {
		return initial
	}
	data, ok, err := b.Load(ctx, key)
	if err != nil {
		logger.Error("could not load stashed state", zap.String("key", key), zap.Error(err))
		return initial
	}
	if !ok {
		return initial
	}
	st, err := Overlay(initial, data)
	if err != nil {
		logger.Error("could not load stashed state", zap.String("key", key), zap.Error(err))
		return state.Initial()
	}
	logger.Info("restored snapshot", zap.String("key", key), zap.Int("posts", len(st.Posts)))
	return st
}

// Encode renders the persisted fragment of s.
func Encode(s state.ApplicationState) ([]byte, error) {
	posts := s.Posts
	if posts == nil {
		posts = map[string]protocol.Post{}
	}
	f := fragment{Posts: &posts}
	if s.SelectedPostID != "" {
		sel := s.SelectedPostID
		f.SelectedPostID = &sel
	}
	return json.Marshal(f)
}

// Save writes the fragment of s under key.
func Save(ctx context.Context, b Backend, key string, s state.ApplicationState) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := b.Save(ctx, key, data); err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}
	return nil
}
