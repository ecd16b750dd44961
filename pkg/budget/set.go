// Package budget maintains the layered context model of a session and keeps
// the admitted procedural and composition content within a fixed weight budget.
//
// Identity content is always resident and never counted against the budget.
// Working memory is per turn, untracked, and discarded at turn end.
package budget

import (
	"sort"
	"time"

	"github.com/jingkaihe/skillgate/pkg/skills"
)

// Entry is one admitted descriptor in an AdmittedSet.
type Entry struct {
	ID           string       `json:"id"`
	Layer        skills.Layer `json:"layer"`
	Weight       int          `json:"weight"`
	AdmittedTurn int          `json:"admitted_turn"`
	LastUsedTurn int          `json:"last_used_turn"`
	UseCount     int          `json:"use_count"`
	AdmittedAt   time.Time    `json:"admitted_at"`
	LastUsedAt   time.Time    `json:"last_used_at"`

	seq uint64
}

// AdmittedSet is the per-session record of admitted content. The Manager
// never mutates a set in place; every admission produces a new set.
type AdmittedSet struct {
	entries map[string]Entry
	total   int
	turn    int
	nextSeq uint64
}

// NewAdmittedSet returns an empty set at turn zero.
func NewAdmittedSet() *AdmittedSet {
	return &AdmittedSet{entries: make(map[string]Entry)}
}

// Clone returns an independent copy of the set.
func (s *AdmittedSet) Clone() *AdmittedSet {
	c := &AdmittedSet{
		entries: make(map[string]Entry, len(s.entries)),
		total:   s.total,
		turn:    s.turn,
		nextSeq: s.nextSeq,
	}
	for id, e := range s.entries {
		c.entries[id] = e
	}
	return c
}

// Total is the summed weight of all admitted entries.
func (s *AdmittedSet) Total() int { return s.total }

// Turn is the number of admission steps applied to the set.
func (s *AdmittedSet) Turn() int { return s.turn }

// Len is the number of admitted entries.
func (s *AdmittedSet) Len() int { return len(s.entries) }

// Has reports whether id is admitted.
func (s *AdmittedSet) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Get returns the entry for id.
func (s *AdmittedSet) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns the admitted entries in admission order.
func (s *AdmittedSet) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *AdmittedSet) add(req Request, turn int, now time.Time) Entry {
	e := Entry{
		ID:           req.ID,
		Layer:        req.Layer,
		Weight:       req.Weight,
		AdmittedTurn: turn,
		LastUsedTurn: turn,
		UseCount:     1,
		AdmittedAt:   now,
		LastUsedAt:   now,
		seq:          s.nextSeq,
	}
	s.nextSeq++
	s.entries[req.ID] = e
	s.total += req.Weight
	return e
}

func (s *AdmittedSet) touch(id string, turn int, now time.Time) {
	e := s.entries[id]
	e.LastUsedTurn = turn
	e.LastUsedAt = now
	e.UseCount++
	s.entries[id] = e
}

func (s *AdmittedSet) remove(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	s.total -= e.Weight
}
