package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// PageHTTP is the surface the router needs from the page pipeline.
type PageHTTP interface {
	ServePage(w http.ResponseWriter, r *http.Request, handle, pathInfo string)
	ServeHealth(http.ResponseWriter, *http.Request)
}

// NewRouter dispatches /healthz, /metrics and weblog pages. Pages are served
// for GET and POST on /{handle} and everything below it; a nil metrics
// handler leaves /metrics unrouted.
func NewRouter(p PageHTTP, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	if p == nil {
		r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		})
		return r
	}

	r.Get("/healthz", p.ServeHealth)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	page := func(w http.ResponseWriter, req *http.Request) {
		handle := chi.URLParam(req, "handle")
		if strings.TrimSpace(handle) == "" {
			http.NotFound(w, req)
			return
		}
		p.ServePage(w, req, handle, pathInfo(req.URL.EscapedPath()))
	}
	r.Get("/{handle}", page)
	r.Post("/{handle}", page)
	r.Get("/{handle}/*", page)
	r.Post("/{handle}/*", page)
	return r
}

// pathInfo returns the escaped path after the first segment, keeping its
// leading slash.
func pathInfo(escaped string) string {
	trimmed := strings.TrimPrefix(escaped, "/")
	_, rest, found := strings.Cut(trimmed, "/")
	if !found || rest == "" {
		return ""
	}
	return "/" + rest
}
