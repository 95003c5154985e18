package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/ledgercore/internal/observability"
	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Headers carrying the acting user and company.
const (
	HeaderUserID    = "X-User-ID"
	HeaderCompanyID = "X-Company-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	limit := 120
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitPerMin > 0 {
			limit = cfg.Config.RateLimitPerMin
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// ActorMiddleware reads the acting user and company from request headers
// and places them on the context. Requests without them pass through
// anonymous; handlers that mutate reject them.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawUser, rawCompany := r.Header.Get(HeaderUserID), r.Header.Get(HeaderCompanyID)
		if rawUser == "" && rawCompany == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := httpx.ParseInt64(HeaderUserID, rawUser)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		companyID, err := httpx.ParseInt64(HeaderCompanyID, rawCompany)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{UserID: userID, CompanyID: companyID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
