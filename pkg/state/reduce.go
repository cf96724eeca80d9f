package state

import (
	"maps"
	"slices"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

// Reduce applies a to s and returns the next state. Unknown actions return s
// unchanged.
func Reduce(s ApplicationState, a Action) ApplicationState {
	switch a := a.(type) {
	case ConnectionChanged:
		s.ConnectionState = a.State
		return s

	case NodesPushed:
		s.KnownNodes = slices.Clone(a.Nodes)
		if s.KnownNodes == nil {
			s.KnownNodes = []string{}
		}
		s.CurrentNode = a.Current
		return s

	case CommandDispatched:
		id := a.Command.CorrelationID
		if _, exists := s.Log[id]; exists {
			return s
		}
		s.Log = cloneLog(s.Log)
		s.Log[id] = LogEntry{Request: a.Command, Status: Pending, Since: a.At}
		return s

	case CommandResolved:
		id := a.Result.CorrelationID
		e, ok := s.Log[id]
		if !ok || e.Status == Acknowledged {
			return s
		}
		res := a.Result
		e.Status = Acknowledged
		e.AckedAt = a.At
		e.Result = &res
		s.Log = cloneLog(s.Log)
		s.Log[id] = e
		return s

	case FeedsDiscovered:
		s.Discoveries = append(slices.Clip(s.Discoveries), a.Result)
		return s

	case FeedFetched:
		if a.Result.Status != protocol.StatusOK {
			return s
		}
		return mergePosts(s, a.Result.Feed.Entries)

	case PostSelected:
		s.SelectedPostID = a.EntryID
		return s

	case PostCleared:
		s.SelectedPostID = ""
		return s

	case LogCleared:
		s.Log = map[string]LogEntry{}
		s.Discoveries = []protocol.DiscoveryResult{}
		return s

	default:
		return s
	}
}

// mergePosts overwrites by entry id, so refetching a feed never duplicates.
// Entries without an id cannot be keyed and are skipped.
func mergePosts(s ApplicationState, entries []protocol.Post) ApplicationState {
	if len(entries) == 0 {
		return s
	}
	posts := make(map[string]protocol.Post, len(s.Posts)+len(entries))
	maps.Copy(posts, s.Posts)
	for _, p := range entries {
		if p.EntryID == "" {
			continue
		}
		posts[p.EntryID] = p
	}
	s.Posts = posts
	return s
}

func cloneLog(log map[string]LogEntry) map[string]LogEntry {
	out := make(map[string]LogEntry, len(log)+1)
	maps.Copy(out, log)
	return out
}
