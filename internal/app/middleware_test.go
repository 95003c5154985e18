package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

func TestActorMiddlewarePlacesActorOnContext(t *testing.T) {
	var got shared.Actor
	var found bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ledger/accounts", nil)
	req.Header.Set(HeaderUserID, "12")
	req.Header.Set(HeaderCompanyID, "3")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, found)
	require.Equal(t, shared.Actor{UserID: 12, CompanyID: 3}, got)
}

func TestActorMiddlewareRejectsMalformedHeaders(t *testing.T) {
	called := false
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ledger/accounts", nil)
	req.Header.Set(HeaderUserID, "abc")
	req.Header.Set(HeaderCompanyID, "3")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.False(t, called)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActorMiddlewareLeavesAnonymousRequests(t *testing.T) {
	var found bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, found = shared.ActorFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ledger/accounts", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, found)
}

func TestRouterServesHealth(t *testing.T) {
	router := NewRouter(RouterParams{Logger: NewLogger(nil), Config: &Config{}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
