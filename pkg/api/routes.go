package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bitechdev/StoreCache/pkg/metrics"
	"github.com/bitechdev/StoreCache/pkg/middleware"
	"github.com/bitechdev/StoreCache/pkg/tracing"
)

// RouterOptions configures the middleware around the admin routes.
// Nil fields disable the corresponding middleware.
type RouterOptions struct {
	RateLimiter *middleware.RateLimiter
	SizeLimiter *middleware.RequestSizeLimiter
	Metrics     *metrics.PrometheusProvider
}

// NewRouter registers the admin routes:
//
//	GET    /cache/stats
//	GET    /cache/keys/{key}
//	DELETE /cache/keys/{key}
//	DELETE /cache/keys?pattern=
//	POST   /cache/invalidate/{source}
//	GET    /metrics
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(tracing.Middleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.MiddlewareWithPathFunc(routeTemplate))
	}

	r.Handle("/metrics", metricsHandler(opts.Metrics)).Methods(http.MethodGet)

	c := r.PathPrefix("/cache").Subrouter()
	if opts.RateLimiter != nil {
		c.Use(opts.RateLimiter.Middleware)
	}

	c.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	c.HandleFunc("/keys", h.DeleteByPattern).Methods(http.MethodDelete)
	c.HandleFunc("/keys/{key}", h.GetKey).Methods(http.MethodGet)
	c.HandleFunc("/keys/{key}", h.DeleteKey).Methods(http.MethodDelete)

	var invalidate http.Handler = http.HandlerFunc(h.Invalidate)
	if opts.SizeLimiter != nil {
		invalidate = opts.SizeLimiter.Middleware(invalidate)
	}
	c.Handle("/invalidate/{source}", invalidate).Methods(http.MethodPost)

	if opts.RateLimiter != nil {
		c.Handle("/ratelimit", opts.RateLimiter.StatsHandler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed on "+r.URL.Path)
	})
	return r
}

func metricsHandler(p *metrics.PrometheusProvider) http.Handler {
	if p != nil {
		return p.Handler()
	}
	return metrics.GetProvider().Handler()
}

// routeTemplate labels a request with its route template so per-key paths
// collapse into one series.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
