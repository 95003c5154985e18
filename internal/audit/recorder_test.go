package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

type memoryWriter struct {
	entries []Entry
	err     error
}

func (m *memoryWriter) InsertAuditEntry(_ context.Context, e Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

var clerk = shared.Actor{UserID: 7, CompanyID: 1}

func TestRecordAttributesActorAndTimestamp(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := NewRecorder(nil).WithNow(func() time.Time { return at })
	w := &memoryWriter{}

	rec.Record(context.Background(), w, clerk, Event{
		Action:   ActionInsert,
		Kind:     KindDocument,
		EntityID: 42,
		Summary:  func() string { return "Purchase F001-1" },
	})

	require.Len(t, w.entries, 1)
	got := w.entries[0]
	require.Equal(t, int64(7), got.UserID)
	require.Equal(t, int64(1), got.CompanyID)
	require.Equal(t, int64(42), got.EntityID)
	require.Equal(t, "Purchase F001-1", got.Summary)
	require.Equal(t, at, got.At)
}

func TestRecordSkipsAnonymousAndUnwatched(t *testing.T) {
	rec := NewRecorder(nil)
	w := &memoryWriter{}

	rec.Record(context.Background(), w, shared.Actor{CompanyID: 1}, Event{Action: ActionInsert, Kind: KindDocument, EntityID: 1})
	rec.Record(context.Background(), w, clerk, Event{Action: ActionInsert, Kind: Kind("AuditEntry"), EntityID: 1})

	require.Empty(t, w.entries)
}

func TestRecordFallsBackWhenSummaryPanics(t *testing.T) {
	rec := NewRecorder(nil)
	w := &memoryWriter{}

	rec.Record(context.Background(), w, clerk, Event{
		Action:   ActionDelete,
		Kind:     KindMovement,
		EntityID: 3,
		Summary:  func() string { panic("nil counterparty") },
	})

	require.Len(t, w.entries, 1)
	require.Equal(t, "DELETE on FinancialMovement", w.entries[0].Summary)
}

func TestRecordPrefixesUpdates(t *testing.T) {
	rec := NewRecorder(nil)
	w := &memoryWriter{}

	rec.Record(context.Background(), w, clerk, Event{Action: ActionUpdate, Kind: KindProduct, EntityID: 9, Summary: func() string { return "Stock 1 -> 2" }})
	rec.Record(context.Background(), w, clerk, Event{Action: ActionUpdate, Kind: KindProduct, EntityID: 9})

	require.Len(t, w.entries, 2)
	require.Equal(t, "[EDIT] Stock 1 -> 2", w.entries[0].Summary)
	require.Equal(t, "[EDIT] UPDATE on Product", w.entries[1].Summary)
}

type countingObserver struct{ calls int }

func (c *countingObserver) ObserveAudit(Kind, Action) { c.calls++ }

func TestRecordSwallowsWriterFailure(t *testing.T) {
	obs := &countingObserver{}
	rec := NewRecorder(nil).WithObserver(obs)
	w := &memoryWriter{err: errors.New("disk full")}

	require.NotPanics(t, func() {
		rec.Record(context.Background(), w, clerk, Event{Action: ActionInsert, Kind: KindLoan, EntityID: 1})
	})
	require.Zero(t, obs.calls)

	w.err = nil
	rec.Record(context.Background(), w, clerk, Event{Action: ActionInsert, Kind: KindLoan, EntityID: 1})
	require.Equal(t, 1, obs.calls)
}
