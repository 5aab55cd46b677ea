package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
	"github.com/l0p7/pagectrl/internal/theme"
)

// Agent represents a runtime component that collaborates on serving a page.
// Each agent observes and mutates the shared State before returning its
// Result snapshot.
type Agent interface {
	Name() string
	Execute(context.Context, *http.Request, *State) Result
}

// Result captures the outcome emitted by an agent during pipeline execution.
type Result struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// RawState preserves the inbound request snapshot.
type RawState struct {
	Method    string            `json:"method"`
	Scheme    string            `json:"scheme"`
	Host      string            `json:"host"`
	Path      string            `json:"path"`
	PathInfo  string            `json:"pathInfo"`
	Headers   map[string]string `json:"headers"`
	Query     map[string]string `json:"query"`
	UserAgent string            `json:"userAgent,omitempty"`
	Referer   string            `json:"referer,omitempty"`
}

// ReferrerState records the spam classification.
type ReferrerState struct {
	Checked bool   `json:"checked"`
	Spam    bool   `json:"spam"`
	Reason  string `json:"reason,omitempty"`
	Match   string `json:"match,omitempty"`
}

// SiteState holds the weblog record resolved for the request.
type SiteState struct {
	Weblog    content.Weblog `json:"weblog"`
	Found     bool           `json:"found"`
	FrontPage bool           `json:"frontPage"`
}

// FreshnessState carries the authoritative last-modified timestamp.
type FreshnessState struct {
	LastModified time.Time `json:"lastModified"`
	NotModified  bool      `json:"notModified"`
}

// CacheState captures cache participation for the request.
type CacheState struct {
	Name       string `json:"name,omitempty"`
	Key        string `json:"key,omitempty"`
	Hit        bool   `json:"hit"`
	SkipRead   bool   `json:"skipRead"`
	SkipWrite  bool   `json:"skipWrite"`
	SkipReason string `json:"skipReason,omitempty"`
	Stored     bool   `json:"stored"`
}

// HitState notes whether the request was counted.
type HitState struct {
	Recorded bool `json:"recorded"`
}

// RenderState holds the page body, either rendered or read from cache.
type RenderState struct {
	Body        []byte `json:"-"`
	ContentType string `json:"contentType,omitempty"`
	Rendered    bool   `json:"rendered"`
}

// ResponseState is the HTTP response composed for the caller.
type ResponseState struct {
	Status  int               `json:"status"`
	Message string            `json:"message,omitempty"`
	Headers map[string]string `json:"headers"`
}

// State is the shared context threaded through every agent in the pipeline.
type State struct {
	// Weblog is the handle taken from the route.
	Weblog        string    `json:"weblog"`
	CorrelationID string    `json:"correlationId"`
	ReceivedAt    time.Time `json:"receivedAt"`
	// Forwarded marks renders that must neither read nor write the caches
	// and are not counted: POSTs and requests carrying the skip-cache override.
	Forwarded bool `json:"forwarded"`

	Raw       RawState            `json:"raw"`
	Referrer  ReferrerState       `json:"referrer"`
	Page      pagerequest.Context `json:"page"`
	Parsed    bool                `json:"parsed"`
	Site      SiteState           `json:"site"`
	Freshness FreshnessState      `json:"freshness"`
	Cache     CacheState          `json:"cache"`
	Template  *theme.Template     `json:"template,omitempty"`
	Valid     bool                `json:"valid"`
	Hit       HitState            `json:"hit"`
	Render    RenderState         `json:"render"`
	Response  ResponseState       `json:"response"`
}

// NewState captures the inbound request metadata for one page request.
// pathInfo is the escaped remainder of the path after the weblog handle.
func NewState(r *http.Request, weblog, pathInfo, correlationID string) *State {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		headers[strings.ToLower(name)] = values[0]
	}
	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		query[strings.ToLower(name)] = values[0]
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(proto)
	}
	return &State{
		Weblog:        weblog,
		CorrelationID: correlationID,
		ReceivedAt:    time.Now().UTC(),
		Raw: RawState{
			Method:    r.Method,
			Scheme:    scheme,
			Host:      r.Host,
			Path:      r.URL.Path,
			PathInfo:  pathInfo,
			Headers:   headers,
			Query:     query,
			UserAgent: r.UserAgent(),
			Referer:   r.Referer(),
		},
		Response: ResponseState{
			Headers: make(map[string]string),
		},
	}
}

// Decided reports whether an earlier agent already chose the final status.
func (s *State) Decided() bool { return s.Response.Status != 0 }

// Finish records the terminal status for the request.
func (s *State) Finish(status int, message string) {
	s.Response.Status = status
	s.Response.Message = message
}

// RequestURL reconstructs the absolute URL of the inbound request.
func (s *State) RequestURL() string {
	return s.Raw.Scheme + "://" + s.Raw.Host + s.Raw.Path
}
