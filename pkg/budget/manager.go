package budget

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrBudgetTooSmallForIdentity is a fatal configuration error: the fixed
// identity overhead does not fit the configured budget.
var ErrBudgetTooSmallForIdentity = errors.New("budget too small for identity overhead")

// Request asks for one descriptor to be admitted. Requests are considered in
// the order given, which callers keep as specificity then declaration order.
type Request struct {
	ID     string       `json:"id"`
	Layer  skills.Layer `json:"layer"`
	Weight int          `json:"weight"`
}

// Eviction records an entry removed to make room for another.
type Eviction struct {
	ID     string       `json:"id"`
	Layer  skills.Layer `json:"layer"`
	Weight int          `json:"weight"`
	ForID  string       `json:"for_id"`
	Reason string       `json:"reason"`
}

// Rejection records a candidate that was not admitted this turn.
type Rejection struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
	Reason string `json:"reason"`
}

// Result is the outcome of one admission step.
type Result struct {
	Set       *AdmittedSet `json:"-"`
	Admitted  []string     `json:"admitted"`
	Refreshed []string     `json:"refreshed"`
	Evicted   []Eviction   `json:"evicted"`
	Rejected  []Rejection  `json:"rejected"`
}

// Manager admits candidates under a fixed budget.
type Manager struct {
	budget           int
	identityOverhead int
	now              func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for admission timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates the configuration and returns a Manager. The identity
// overhead is reserved outside the budget but must itself fit within it.
func NewManager(budget, identityOverhead int, opts ...Option) (*Manager, error) {
	if budget <= 0 {
		return nil, errors.Wrapf(ErrBudgetTooSmallForIdentity, "budget must be positive, got %d", budget)
	}
	if identityOverhead < 0 {
		return nil, errors.Wrapf(ErrBudgetTooSmallForIdentity, "identity overhead must not be negative, got %d", identityOverhead)
	}
	if identityOverhead > budget {
		return nil, errors.Wrapf(ErrBudgetTooSmallForIdentity, "identity overhead %d exceeds budget %d", identityOverhead, budget)
	}

	m := &Manager{
		budget:           budget,
		identityOverhead: identityOverhead,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Budget returns the configured budget.
func (m *Manager) Budget() int { return m.budget }

// IdentityOverhead returns the weight reserved for the identity layer.
func (m *Manager) IdentityOverhead() int { return m.identityOverhead }

// Admit runs one admission step over set and returns the resulting set. The
// input set is never modified. After Admit returns, Result.Set.Total() is at
// most the budget.
//
// Already admitted candidates are refreshed. New candidates are added in
// order; when one does not fit, entries that are neither candidates this turn
// nor admitted in the immediately preceding turn are evicted, procedural
// before composition and least recently used first. Victims are taken strictly
// in that order until enough weight is freed, so an older small entry goes
// even when a later victim alone would have sufficed. If they cannot free
// enough weight nothing is evicted and the candidate is rejected.
func (m *Manager) Admit(ctx context.Context, requests []Request, set *AdmittedSet) (*Result, error) {
	if set == nil {
		set = NewAdmittedSet()
	}
	if set.total > m.budget {
		return nil, errors.Errorf("admitted set total %d already exceeds budget %d", set.total, m.budget)
	}

	next := set.Clone()
	next.turn++
	turn := next.turn
	now := m.now()
	log := logger.G(ctx).WithField(logger.FieldTurn, turn)

	result := &Result{
		Admitted:  []string{},
		Refreshed: []string{},
		Evicted:   []Eviction{},
		Rejected:  []Rejection{},
	}

	inTurn := make(map[string]bool, len(requests))
	var fresh []Request
	for _, req := range requests {
		if inTurn[req.ID] {
			continue
		}
		inTurn[req.ID] = true
		if next.Has(req.ID) {
			next.touch(req.ID, turn, now)
			result.Refreshed = append(result.Refreshed, req.ID)
			continue
		}
		fresh = append(fresh, req)
	}

	for _, req := range fresh {
		if req.ID == "" || req.Weight <= 0 {
			result.Rejected = append(result.Rejected, Rejection{ID: req.ID, Weight: req.Weight, Reason: "invalid request"})
			continue
		}
		if req.Weight > m.budget {
			result.Rejected = append(result.Rejected, Rejection{
				ID:     req.ID,
				Weight: req.Weight,
				Reason: fmt.Sprintf("weight %d exceeds budget %d", req.Weight, m.budget),
			})
			continue
		}

		if next.total+req.Weight > m.budget {
			need := next.total + req.Weight - m.budget
			victims, freed := next.selectVictims(need, inTurn, turn)
			if freed < need {
				log.WithFields(logrus.Fields{
					logger.FieldSkill: req.ID,
					"need":            need,
					"evictable":       freed,
				}).Debug("candidate rejected")
				result.Rejected = append(result.Rejected, Rejection{
					ID:     req.ID,
					Weight: req.Weight,
					Reason: fmt.Sprintf("needs %d more weight but only %d is evictable", need, freed),
				})
				continue
			}
			for _, v := range victims {
				next.remove(v.ID)
				result.Evicted = append(result.Evicted, Eviction{
					ID:     v.ID,
					Layer:  v.Layer,
					Weight: v.Weight,
					ForID:  req.ID,
					Reason: fmt.Sprintf("least recently used (last used turn %d)", v.LastUsedTurn),
				})
				log.WithField(logger.FieldSkill, v.ID).Debug("entry evicted")
			}
		}

		if req.Layer == "" {
			req.Layer = skills.LayerProcedural
		}
		next.add(req, turn, now)
		result.Admitted = append(result.Admitted, req.ID)
	}

	if next.total > m.budget {
		return nil, errors.Errorf("admission would exceed budget: %d > %d", next.total, m.budget)
	}

	result.Set = next
	return result, nil
}

// selectVictims picks eviction victims in eviction order until need is freed.
// It returns the chosen entries and the weight they free, which is less than
// need when not enough is evictable.
func (s *AdmittedSet) selectVictims(need int, inTurn map[string]bool, turn int) ([]Entry, int) {
	var eligible []Entry
	for _, e := range s.entries {
		if inTurn[e.ID] {
			continue
		}
		if e.AdmittedTurn >= turn-1 {
			continue
		}
		eligible = append(eligible, e)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if ca, cb := a.Layer == skills.LayerComposition, b.Layer == skills.LayerComposition; ca != cb {
			return !ca
		}
		if a.LastUsedTurn != b.LastUsedTurn {
			return a.LastUsedTurn < b.LastUsedTurn
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		return a.seq < b.seq
	})

	var victims []Entry
	freed := 0
	for _, e := range eligible {
		if freed >= need {
			break
		}
		victims = append(victims, e)
		freed += e.Weight
	}
	return victims, freed
}
