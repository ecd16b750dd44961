// Package audit records accepted mode transitions. Sinks are append-only; a
// transition is never rewritten once recorded.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Entry is a single accepted transition.
type Entry struct {
	SessionID string    `json:"session_id" db:"session_id"`
	From      string    `json:"from" db:"from_mode"`
	To        string    `json:"to" db:"to_mode"`
	Reason    string    `json:"reason" db:"reason"`
	Timestamp time.Time `json:"timestamp" db:"occurred_at"`
}

// Sink receives accepted transitions.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Lister is implemented by sinks that can read their trail back.
type Lister interface {
	List(ctx context.Context, sessionID string) ([]Entry, error)
}

// Closer is implemented by sinks holding resources.
type Closer interface {
	Close() error
}

// LogSink writes transitions to the structured logger.
type LogSink struct{}

// Record implements Sink.
func (LogSink) Record(ctx context.Context, entry Entry) error {
	logger.G(ctx).WithFields(logrus.Fields{
		logger.FieldSession: entry.SessionID,
		"from":              entry.From,
		"to":                entry.To,
		"reason":            entry.Reason,
	}).Info("mode transition")
	return nil
}

// MemorySink keeps transitions in memory. Useful for tests and one-shot runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List implements Lister. An empty sessionID lists everything.
func (s *MemorySink) List(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterSession(s.entries, sessionID), nil
}

// MultiSink fans a transition out to every sink. All sinks are attempted and
// their failures aggregated.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, entry Entry) error {
	var result *multierror.Error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// List reads from the first sink that supports listing.
func (m MultiSink) List(ctx context.Context, sessionID string) ([]Entry, error) {
	for _, sink := range m {
		if lister, ok := sink.(Lister); ok {
			return lister.List(ctx, sessionID)
		}
	}
	return nil, errors.New("no audit sink supports listing")
}

// Close closes every sink that holds resources.
func (m MultiSink) Close() error {
	var result *multierror.Error
	for _, sink := range m {
		if c, ok := sink.(Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func filterSession(entries []Entry, sessionID string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Drivers accepted by New.
const (
	DriverLog    = "log"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// New builds the sink for driver. File and SQLite sinks also log every
// transition.
func New(ctx context.Context, driver, path string) (Sink, error) {
	switch driver {
	case "", DriverLog:
		return LogSink{}, nil
	case DriverFile:
		fs, err := NewFileSink(path)
		if err != nil {
			return nil, err
		}
		return MultiSink{fs, LogSink{}}, nil
	case DriverSQLite:
		store, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return MultiSink{store, LogSink{}}, nil
	default:
		return nil, errors.Errorf("unknown audit driver %q", driver)
	}
}
