package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows       []Entry
	lastLimit  int
	lastOffset int
	lastFilter TimelineFilters
}

func (s *stubTimelineRepo) ListAuditEntries(_ context.Context, f TimelineFilters, limit, offset int) ([]Entry, error) {
	s.lastFilter, s.lastLimit, s.lastOffset = f, limit, offset
	if limit > 0 && limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func entryAt(id int64, ts string) Entry {
	at, _ := time.Parse(time.RFC3339, ts)
	return Entry{ID: id, UserID: 1, CompanyID: 1, Action: ActionUpdate, Kind: KindDocument, EntityID: id, At: at}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Entry{
		entryAt(3, "2024-03-10T10:00:00Z"),
		entryAt(2, "2024-03-09T09:00:00Z"),
		entryAt(1, "2024-03-08T08:00:00Z"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{CompanyID: 1, Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)

	_, err = svc.Timeline(context.Background(), TimelineFilters{CompanyID: 1, Page: 3, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 101, repo.lastLimit)
	require.Equal(t, 200, repo.lastOffset)
}

func TestServiceRequiresCompany(t *testing.T) {
	svc := NewService(&stubTimelineRepo{})
	_, err := svc.Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
	_, err = svc.Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}
