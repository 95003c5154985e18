package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Entry
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newRouter(svc *stubTimelineService) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func withActor(req *http.Request) *http.Request {
	return req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 4, CompanyID: 2}))
}

func TestTimelineScopesToActorCompany(t *testing.T) {
	svc := &stubTimelineService{}
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/?kind=Document&action=update&from=2024-03-01&to=2024-03-10", nil))
	rec := httptest.NewRecorder()

	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(2), svc.lastFilters.CompanyID)
	require.Equal(t, audit.KindDocument, svc.lastFilters.Kind)
	require.Equal(t, audit.ActionUpdate, svc.lastFilters.Action)
	require.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), svc.lastFilters.To)
}

func TestTimelineRejectsAnonymous(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTimelineRejectsWideRange(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/?from=2023-01-01&to=2024-03-10", nil))
	rec := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportServesWorkbook(t *testing.T) {
	svc := &stubTimelineService{exportRows: []audit.Entry{{ID: 1, Action: audit.ActionInsert, Kind: audit.KindLoan, Summary: "Loan BCP"}}}
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/export.xlsx", nil))
	rec := httptest.NewRecorder()

	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	require.NotEmpty(t, rec.Body.Bytes())
}
