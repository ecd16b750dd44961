package budget

import (
	"sort"
)

// Identity is the stable, always-resident project identity. Its weight is the
// configured overhead and is never counted against the budget.
type Identity struct {
	Content string `json:"content,omitempty"`
	Weight  int    `json:"weight"`
}

// Working is ephemeral per-turn memory. It is not budget tracked and is reset
// at the end of every turn, so nothing required for correctness may live only here.
type Working struct {
	values map[string]string
}

// NewWorking returns working memory seeded with values.
func NewWorking(values map[string]string) *Working {
	w := &Working{values: make(map[string]string, len(values))}
	for k, v := range values {
		w.values[k] = v
	}
	return w
}

// Put stores a value for the current turn.
func (w *Working) Put(key, value string) {
	w.values[key] = value
}

// Get returns a value stored this turn.
func (w *Working) Get(key string) (string, bool) {
	v, ok := w.values[key]
	return v, ok
}

// Has reports whether key is present.
func (w *Working) Has(key string) bool {
	_, ok := w.values[key]
	return ok
}

// Keys returns the stored keys in sorted order.
func (w *Working) Keys() []string {
	keys := make([]string, 0, len(w.values))
	for k := range w.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset discards everything, as happens at turn end.
func (w *Working) Reset() {
	w.values = make(map[string]string)
}
