// Package spatial provides broad-phase lookup of territory bounding boxes.
package spatial

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/rtree"

	"github.com/hylla/turf/internal/domain"
)

// Index maps territory ids to bounding boxes. Query results are sorted ids.
type Index interface {
	Upsert(id string, bounds domain.Bounds)
	Remove(id string)
	Query(bounds domain.Bounds) []string
	Reset(entries map[string]domain.Bounds)
	Len() int
}

// Kind names an Index implementation.
type Kind string

// Kind values accepted by New.
const (
	KindRTree Kind = "rtree"
	KindScan  Kind = "scan"
)

// New returns an empty index of the requested kind.
func New(kind Kind) (Index, error) {
	switch Kind(strings.TrimSpace(strings.ToLower(string(kind)))) {
	case KindRTree, "":
		return NewRTree(), nil
	case KindScan:
		return NewScan(), nil
	default:
		return nil, fmt.Errorf("unknown spatial index kind %q", kind)
	}
}

// RTree indexes boxes in an R-tree keyed by lng/lat.
type RTree struct {
	mu      sync.RWMutex
	tree    rtree.RTreeG[string]
	entries map[string]domain.Bounds
}

// NewRTree returns an empty R-tree index.
func NewRTree() *RTree {
	return &RTree{entries: map[string]domain.Bounds{}}
}

// Upsert inserts or moves one box.
func (r *RTree) Upsert(id string, bounds domain.Bounds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[id]; ok {
		lo, hi := corners(prev)
		r.tree.Delete(lo, hi, id)
	}
	lo, hi := corners(bounds)
	r.tree.Insert(lo, hi, id)
	r.entries[id] = bounds
}

// Remove drops one box. Unknown ids are ignored.
func (r *RTree) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[id]
	if !ok {
		return
	}
	lo, hi := corners(prev)
	r.tree.Delete(lo, hi, id)
	delete(r.entries, id)
}

// Query returns ids whose box intersects bounds, edges included.
func (r *RTree) Query(bounds domain.Bounds) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lo, hi := corners(bounds)
	var out []string
	r.tree.Search(lo, hi, func(_, _ [2]float64, id string) bool {
		out = append(out, id)
		return true
	})
	slices.Sort(out)
	return out
}

// Reset replaces every entry.
func (r *RTree) Reset(entries map[string]domain.Bounds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = rtree.RTreeG[string]{}
	r.entries = make(map[string]domain.Bounds, len(entries))
	for id, b := range entries {
		lo, hi := corners(b)
		r.tree.Insert(lo, hi, id)
		r.entries[id] = b
	}
}

// Len returns the number of indexed boxes.
func (r *RTree) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func corners(b domain.Bounds) ([2]float64, [2]float64) {
	return [2]float64{b.MinLng, b.MinLat}, [2]float64{b.MaxLng, b.MaxLat}
}

// Scan checks every box on each query. It exists as a reference for the
// R-tree and for small data sets.
type Scan struct {
	mu      sync.RWMutex
	entries map[string]domain.Bounds
}

// NewScan returns an empty scanning index.
func NewScan() *Scan {
	return &Scan{entries: map[string]domain.Bounds{}}
}

// Upsert inserts or moves one box.
func (s *Scan) Upsert(id string, bounds domain.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = bounds
}

// Remove drops one box.
func (s *Scan) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Query returns ids whose box intersects bounds, edges included.
func (s *Scan) Query(bounds domain.Bounds) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, b := range s.entries {
		if b.Intersects(bounds) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Reset replaces every entry.
func (s *Scan) Reset(entries map[string]domain.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.Bounds, len(entries))
	for id, b := range entries {
		s.entries[id] = b
	}
}

// Len returns the number of indexed boxes.
func (s *Scan) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
