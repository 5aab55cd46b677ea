package templates

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/l0p7/pagectrl/internal/theme"
)

// Engine renders theme templates. Each template is compiled on first use and
// reused until its theme is forgotten.
type Engine struct {
	renderer *Renderer

	mu       sync.RWMutex
	compiled map[string]*Template
}

// NewEngine wraps a renderer with a compiled-template cache.
func NewEngine(renderer *Renderer) *Engine {
	return &Engine{renderer: renderer, compiled: make(map[string]*Template)}
}

// Render produces the page for tmpl using model.
func (e *Engine) Render(ctx context.Context, tmpl *theme.Template, model map[string]any) ([]byte, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("templates: nil page template")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := e.compile(tmpl)
	if err != nil {
		return nil, err
	}
	return compiled.Render(model)
}

// Forget drops compiled templates of one theme.
func (e *Engine) Forget(themeName string) {
	prefix := themeName + "/"
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.compiled {
		if strings.HasPrefix(id, prefix) {
			delete(e.compiled, id)
		}
	}
}

func (e *Engine) compile(tmpl *theme.Template) (*Template, error) {
	id := tmpl.ID()
	e.mu.RLock()
	compiled, ok := e.compiled[id]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	var err error
	if tmpl.Source != "" {
		compiled, err = e.renderer.CompileInline(id, tmpl.Source)
	} else {
		compiled, err = e.renderer.CompileFile(tmpl.File)
	}
	if err != nil {
		return nil, err
	}
	if compiled == nil {
		return nil, fmt.Errorf("templates: %q is empty", id)
	}
	e.mu.Lock()
	e.compiled[id] = compiled
	e.mu.Unlock()
	return compiled, nil
}

// pageURL builds a weblog-relative link such as /acme/entry/hello.
func pageURL(weblog string, parts ...string) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(url.PathEscape(weblog))
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}
