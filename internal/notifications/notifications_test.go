package notifications

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestInboxRoutesRequireActor(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(NewInbox(nil), slog.Default()).MountRoutes(r)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/read"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}
