package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func entry(session, from, to string, offset int) Entry {
	return Entry{
		SessionID: session,
		From:      from,
		To:        to,
		Reason:    from + " done",
		Timestamp: t0.Add(time.Duration(offset) * time.Minute),
	}
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, Entry) error { return f.err }

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink()
	require.NoError(t, s.Record(ctx, entry("b", "explore", "implement", 2)))
	require.NoError(t, s.Record(ctx, entry("a", "explore", "architect", 1)))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SessionID)

	only, err := s.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "implement", only[0].To)
}

func TestMultiSink(t *testing.T) {
	ctx := context.Background()

	t.Run("aggregates failures and keeps writing", func(t *testing.T) {
		mem := NewMemorySink()
		m := MultiSink{failingSink{errors.New("disk full")}, nil, mem, failingSink{errors.New("gone")}}
		err := m.Record(ctx, entry("s", "explore", "verify", 0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Contains(t, err.Error(), "gone")

		listed, err := m.List(ctx, "s")
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})

	t.Run("listing without a lister", func(t *testing.T) {
		_, err := MultiSink{LogSink{}}.List(ctx, "s")
		require.Error(t, err)
	})
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trail", "transitions.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	empty, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Record(ctx, entry("s1", "explore", "implement", i)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Record(ctx, entry("s2", "implement", "verify", 30)))

	got, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 21)

	_, err = NewFileSink("")
	require.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStore(ctx, path, WithRetry(2, time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, s.Record(ctx, entry("s1", "explore", "architect", 1)))
	require.NoError(t, s.Record(ctx, entry("s1", "architect", "implement", 2)))
	require.NoError(t, s.Record(ctx, entry("s2", "explore", "review", 3)))

	got, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "architect", got[0].To)
	assert.Equal(t, "implement", got[1].To)
	assert.Equal(t, "explore done", got[0].Reason)
	assert.True(t, got[0].Timestamp.Equal(t0.Add(time.Minute)))
	require.NoError(t, s.Close())

	// Reopening applies no migration twice and keeps the trail.
	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIsBusy(t *testing.T) {
	assert.False(t, isBusy(nil))
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("no such table")))
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := New(ctx, "", "")
	require.NoError(t, err)
	assert.IsType(t, LogSink{}, sink)

	sink, err = New(ctx, DriverFile, filepath.Join(dir, "t.jsonl"))
	require.NoError(t, err)
	require.NoError(t, sink.Record(ctx, entry("s", "explore", "verify", 0)))
	listed, err := sink.(Lister).List(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	sink, err = New(ctx, DriverSQLite, filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	require.NoError(t, sink.(Closer).Close())

	_, err = New(ctx, "kafka", "")
	require.Error(t, err)
}
