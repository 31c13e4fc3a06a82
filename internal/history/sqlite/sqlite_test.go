package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/sidewatch/internal/history"
)

func TestSQLiteSink_SendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := New(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	events := []history.Event{
		{Type: history.EventStart, OccurredAt: base, Record: history.Record{Name: "b", PID: 100, State: "starting"}},
		{Type: history.EventReady, OccurredAt: base.Add(time.Second), Record: history.Record{Name: "b", PID: 100, State: "healthy"}},
		{Type: history.EventCrashed, OccurredAt: base.Add(2 * time.Second), Record: history.Record{Name: "b", PID: 100, State: "crashed", Reason: "exit code 1"}},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first.
	require.Equal(t, history.EventCrashed, got[0].Type)
	require.Equal(t, "exit code 1", got[0].Record.Reason)
	require.Equal(t, history.EventStart, got[2].Type)
	require.Equal(t, 100, got[1].Record.PID)
}

func TestSQLiteSink_RecentLimit(t *testing.T) {
	sink, err := New("") // in-memory
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := history.Event{
			Type:       history.EventStart,
			OccurredAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
			Record:     history.Record{Name: "b", State: "starting"},
		}
		require.NoError(t, sink.Send(ctx, e))
	}

	got, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSQLiteSink_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	sink, err := New(path)
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), history.Event{
		Type:       history.EventStopped,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Name: "b", State: "stopped_clean"},
	}))
	require.NoError(t, sink.Close())

	sink2, err := New(path)
	require.NoError(t, err)
	defer func() { _ = sink2.Close() }()

	got, err := sink2.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, history.EventStopped, got[0].Type)
}
