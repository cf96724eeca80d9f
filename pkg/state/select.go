package state

import (
	"slices"
	"sort"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

// PostList returns the posts newest first. Posts with unparsable dates sort
// last; ties break on entry id so the order is stable.
func PostList(s ApplicationState) []protocol.Post {
	out := make([]protocol.Post, 0, len(s.Posts))
	for _, p := range s.Posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].PublishedAt(), out[j].PublishedAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

// PendingIDs lists correlation ids still awaiting a result, sorted.
func PendingIDs(s ApplicationState) []string {
	var ids []string
	for id, e := range s.Log {
		if e.Status == Pending {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
