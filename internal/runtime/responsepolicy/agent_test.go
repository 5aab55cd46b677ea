package responsepolicy

import (
	"context"
	"net/http"
	"testing"

	"github.com/l0p7/pagectrl/internal/runtime/pipeline"
)

func TestAgentExecuteKeepsDecidedStatus(t *testing.T) {
	tests := map[string]struct {
		status       int
		message      string
		wantMessage  string
		keepModified bool
	}{
		"not modified": {
			status:       http.StatusNotModified,
			wantMessage:  "Not Modified",
			keepModified: true,
		},
		"spam": {
			status:      http.StatusForbidden,
			message:     "spam referrer",
			wantMessage: "spam referrer",
		},
		"invalid": {
			status:      http.StatusNotFound,
			wantMessage: "Not Found",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			state := &pipeline.State{}
			state.Finish(tc.status, tc.message)
			state.Response.Headers = map[string]string{"Last-Modified": "Fri, 01 Mar 2024 10:00:00 GMT"}

			res := New().Execute(context.Background(), nil, state)

			if res.Status != "decided" {
				t.Fatalf("expected decided status, got %s", res.Status)
			}
			if state.Response.Status != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, state.Response.Status)
			}
			if state.Response.Message != tc.wantMessage {
				t.Fatalf("expected message %q, got %q", tc.wantMessage, state.Response.Message)
			}
			if _, ok := state.Response.Headers["Last-Modified"]; ok != tc.keepModified {
				t.Fatalf("expected Last-Modified kept=%v", tc.keepModified)
			}
		})
	}
}

func TestAgentExecuteServesBody(t *testing.T) {
	tests := map[string]struct {
		hit         bool
		contentType string
		wantStatus  string
		wantType    string
	}{
		"rendered": {
			contentType: "application/rss+xml; charset=utf-8",
			wantStatus:  "rendered",
			wantType:    "application/rss+xml; charset=utf-8",
		},
		"cached without type": {
			hit:        true,
			wantStatus: "cached",
			wantType:   "text/html; charset=utf-8",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			state := &pipeline.State{}
			state.Cache.Hit = tc.hit
			state.Render.Rendered = !tc.hit
			state.Render.Body = []byte("hello")
			state.Render.ContentType = tc.contentType

			res := New().Execute(context.Background(), nil, state)

			if res.Status != tc.wantStatus {
				t.Fatalf("expected %s status, got %s", tc.wantStatus, res.Status)
			}
			if state.Response.Status != http.StatusOK {
				t.Fatalf("expected 200, got %d", state.Response.Status)
			}
			if got := state.Response.Headers["Content-Type"]; got != tc.wantType {
				t.Fatalf("expected content type %q, got %q", tc.wantType, got)
			}
			if got := state.Response.Headers["Content-Length"]; got != "5" {
				t.Fatalf("expected content length 5, got %q", got)
			}
		})
	}
}

func TestAgentExecuteWithoutBodyIsNotFound(t *testing.T) {
	state := &pipeline.State{}
	state.Response.Headers = nil

	res := New().Execute(context.Background(), nil, state)

	if res.Status != "not_found" {
		t.Fatalf("expected not_found status, got %s", res.Status)
	}
	if state.Response.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", state.Response.Status)
	}
	if state.Response.Headers == nil {
		t.Fatalf("expected response headers to be initialized")
	}
}

func TestCoalesce(t *testing.T) {
	if got := coalesce("", "  ", "value"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}

	if got := coalesce("", "  "); got != "" {
		t.Fatalf("expected empty string when no values present, got %q", got)
	}
}
