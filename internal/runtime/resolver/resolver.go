// Package resolver selects the page template for a request through an
// ordered fallback chain.
package resolver

import (
	"log/slog"

	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
	"github.com/l0p7/pagectrl/internal/theme"
)

// step is one entry of the fallback chain. applies gates the step on the
// request; lookup returns the template, or nil to fall through. A terminal
// step ends resolution even when it found nothing.
type step struct {
	name     string
	applies  func(req pagerequest.Context) bool
	lookup   func(r *Resolver, themeName string, req pagerequest.Context) (*theme.Template, error)
	terminal bool
}

// chain is evaluated in order; the first template found wins.
var chain = []step{
	{
		name:    "popup",
		applies: func(req pagerequest.Context) bool { return req.IsPopup() },
		lookup: func(r *Resolver, themeName string, _ pagerequest.Context) (*theme.Template, error) {
			tmpl, err := r.themes.TemplateByName(themeName, theme.PopupTemplateName)
			if err != nil || tmpl == nil {
				return theme.BuiltinPopup, nil
			}
			return tmpl, nil
		},
	},
	{
		name:    "named page",
		applies: func(req pagerequest.Context) bool { return req.Kind == pagerequest.KindNamedPage },
		lookup: func(r *Resolver, themeName string, req pagerequest.Context) (*theme.Template, error) {
			return r.themes.TemplateByName(themeName, req.PageName)
		},
		terminal: true,
	},
	{
		name: "tags index",
		applies: func(req pagerequest.Context) bool {
			return req.Kind == pagerequest.KindTagsIndex && len(req.Tags) > 0
		},
		lookup: func(r *Resolver, themeName string, _ pagerequest.Context) (*theme.Template, error) {
			return r.themes.TemplateByAction(themeName, theme.ActionTagsIndex)
		},
		terminal: true,
	},
	{
		name:    "permalink",
		applies: func(req pagerequest.Context) bool { return req.Anchor != "" },
		lookup: func(r *Resolver, themeName string, _ pagerequest.Context) (*theme.Template, error) {
			return r.themes.TemplateByAction(themeName, theme.ActionPermalink)
		},
	},
	{
		name:    "default",
		applies: func(pagerequest.Context) bool { return true },
		lookup: func(r *Resolver, themeName string, _ pagerequest.Context) (*theme.Template, error) {
			return r.themes.DefaultTemplate(themeName)
		},
	},
}

// Resolver applies the fallback chain against a theme provider.
type Resolver struct {
	themes theme.Provider
	logger *slog.Logger
}

// New constructs a resolver over the theme provider.
func New(themes theme.Provider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{themes: themes, logger: logger}
}

// Resolve returns the template for req from themeName, or nil when no step
// yields one. The step that produced the template is returned for logging.
//
// A lookup error is treated as "no template" for its step and resolution
// moves on. A terminal step that finds nothing cleanly ends resolution: a
// missing named page is not served by the default template, and a tags
// request without a tags-index template is not found either.
func (r *Resolver) Resolve(themeName string, req pagerequest.Context) (*theme.Template, string) {
	for _, s := range chain {
		if !s.applies(req) {
			continue
		}
		tmpl, err := s.lookup(r, themeName, req)
		if err != nil {
			r.logger.Error("template lookup failed",
				slog.String("step", s.name),
				slog.String("theme", themeName),
				slog.String("weblog", req.Weblog),
				slog.Any("error", err),
			)
			continue
		}
		if tmpl != nil {
			return tmpl, s.name
		}
		if s.terminal {
			return nil, s.name
		}
	}
	return nil, ""
}
