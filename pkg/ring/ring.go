// Package ring spreads channel clients across candidate endpoints with a
// consistent hash, so a session keeps dialing the same endpoint until it
// fails and only then moves to the next one on the ring.
package ring

import (
	"encoding/binary"
	"hash/fnv"
	"maps"
	"slices"
	"sort"
	"sync"
)

type Hasher func([]byte) uint32

// Ring maps endpoint ids to dialable URLs.
type Ring struct {
	mu        sync.RWMutex
	replicas  int
	hash      Hasher
	points    []uint32          // sorted
	owners    map[uint32]string // point -> endpoint id
	endpoints map[string]string // endpoint id -> url
}

func New(replicas int, h Hasher) *Ring {
	if replicas <= 0 {
		replicas = 64
	}
	if h == nil {
		h = FNV32a
	}
	return &Ring{
		replicas:  replicas,
		hash:      h,
		owners:    make(map[uint32]string),
		endpoints: make(map[string]string),
	}
}

// Add registers an endpoint. Re-adding an id updates its URL.
func (r *Ring) Add(id, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; ok {
		r.endpoints[id] = url
		return
	}
	r.endpoints[id] = url
	for i := 0; i < r.replicas; i++ {
		pt := r.hash(pointKey(id, i))
		r.owners[pt] = id
		r.points = append(r.points, pt)
	}
	slices.Sort(r.points)
}

func (r *Ring) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return
	}
	delete(r.endpoints, id)
	r.rebuild()
}

// Replace swaps the whole endpoint set, as delivered by a registry watch.
func (r *Ring) Replace(endpoints map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = maps.Clone(endpoints)
	if r.endpoints == nil {
		r.endpoints = make(map[string]string)
	}
	r.rebuild()
}

// rebuild recomputes points from endpoints. Caller holds mu.
func (r *Ring) rebuild() {
	r.points = r.points[:0]
	clear(r.owners)
	for id := range r.endpoints {
		for i := 0; i < r.replicas; i++ {
			pt := r.hash(pointKey(id, i))
			r.owners[pt] = id
			r.points = append(r.points, pt)
		}
	}
	slices.Sort(r.points)
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Lookup returns the endpoint id owning key, or "" on an empty ring.
func (r *Ring) Lookup(key []byte) string {
	ids := r.LookupN(key, 1)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// LookupN returns up to n distinct endpoint ids in ring order from key.
func (r *Ring) LookupN(key []byte, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 || n <= 0 {
		return nil
	}
	h := r.hash(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for i := 0; i < len(r.points) && len(out) < n; i++ {
		id := r.owners[r.points[(idx+i)%len(r.points)]]
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Endpoints returns a copy of the id -> url set.
func (r *Ring) Endpoints() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.endpoints)
}

// URL returns the dialable address of an endpoint id.
func (r *Ring) URL(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.endpoints[id]
	return u, ok
}

// Pick chooses the URL for the given reconnection attempt: attempt 0 is the
// key's owner, each later attempt moves one endpoint further along the ring.
func (r *Ring) Pick(key string, attempt int) (string, bool) {
	ids := r.LookupN([]byte(key), r.Len())
	if len(ids) == 0 {
		return "", false
	}
	if attempt < 0 {
		attempt = 0
	}
	return r.URL(ids[attempt%len(ids)])
}

func FNV32a(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

func pointKey(id string, i int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	return append([]byte(id), buf[:]...)
}
