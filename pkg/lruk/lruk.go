// Package lruk implements backward K-distance (LRU-K) eviction over the
// frame slots it has seen accesses for.
//
// Adapted from the module's earlier second-chance (CLOCK) replacer: the
// present/evictable bookkeeping shape is kept, but the victim-selection rule
// is replaced with LRU-K's backward K-distance.
package lruk

import (
	"errors"
	"math"
)

// ErrNotEvictable is returned by Remove when the frame is tracked but not
// marked evictable.
var ErrNotEvictable = errors.New("lruk: frame is not evictable")

type node struct {
	history   []int64
	evictable bool
}

// LRUK tracks every frame slot passed to RecordAccess (it enforces no bound
// of its own on how many) and selects eviction victims using the backward
// K-distance rule: the frame whose K-th most recent access is
// furthest in the past loses, with never-seen-K-times frames (distance
// infinite) evicted first, tie-broken by earliest first access.
type LRUK struct {
	k         int
	nodes     map[int]*node
	evictable int
	clock     int64
}

// New returns a replacer with history depth k (k must be >= 1).
func New(k int) *LRUK {
	if k < 1 {
		k = 1
	}
	return &LRUK{k: k, nodes: make(map[int]*node)}
}

// RecordAccess appends the current timestamp to frameID's history, creating
// the node (with evictable=false) if this is its first access since the
// last eviction.
func (r *LRUK) RecordAccess(frameID int) {
	n, ok := r.nodes[frameID]
	if !ok {
		n = &node{}
		r.nodes[frameID] = n
	}
	r.clock++
	n.history = append(n.history, r.clock)
	if len(n.history) > r.k {
		n.history = n.history[len(n.history)-r.k:]
	}
}

// SetEvictable flips frameID's evictability. Unknown frames are ignored.
func (r *LRUK) SetEvictable(frameID int, evictable bool) {
	n, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if n.evictable == evictable {
		return
	}
	n.evictable = evictable
	if evictable {
		r.evictable++
	} else {
		r.evictable--
	}
}

// distance returns the backward K-distance for n at the current clock: +Inf
// if n has been seen fewer than k times, else clock - history.front().
func (r *LRUK) distance(n *node) float64 {
	if len(n.history) < r.k {
		return math.Inf(1)
	}
	return float64(r.clock - n.history[0])
}

// Evict selects and removes the frame with the largest backward K-distance
// among evictable frames, breaking ties among infinite-distance frames by
// earliest first access. It reports false when no frame is evictable.
func (r *LRUK) Evict() (int, bool) {
	if r.evictable == 0 {
		return -1, false
	}

	var (
		victim    int
		found     bool
		bestDist  = -1.0
		bestFirst int64
	)

	for id, n := range r.nodes {
		if !n.evictable {
			continue
		}
		d := r.distance(n)
		if !found {
			victim, bestDist, bestFirst, found = id, d, n.history[0], true
			continue
		}
		switch {
		case d > bestDist:
			victim, bestDist, bestFirst = id, d, n.history[0]
		case d == bestDist && math.IsInf(d, 1) && n.history[0] < bestFirst:
			victim, bestFirst = id, n.history[0]
		}
	}

	if !found {
		return -1, false
	}

	delete(r.nodes, victim)
	r.evictable--
	return victim, true
}

// Remove drops frameID from tracking. The frame must be evictable; removing
// a pinned (non-evictable) frame is a programmer error.
func (r *LRUK) Remove(frameID int) error {
	n, ok := r.nodes[frameID]
	if !ok {
		return nil
	}
	if !n.evictable {
		return ErrNotEvictable
	}
	delete(r.nodes, frameID)
	r.evictable--
	return nil
}

// Size returns the number of currently evictable frames.
func (r *LRUK) Size() int {
	return r.evictable
}
