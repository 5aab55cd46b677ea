// Package validation rejects resolved requests whose content is not visible.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
	"github.com/l0p7/pagectrl/internal/theme"
)

// ErrInvalid marks a request that breaks a content rule, as opposed to a
// lookup that failed.
var ErrInvalid = errors.New("validation: invalid request")

// ContentProbe answers the existence questions the validator asks.
type ContentProbe interface {
	EntryByAnchor(ctx context.Context, weblog, anchor string) (content.Entry, error)
	CategoryExists(ctx context.Context, weblog, name string) (bool, error)
	TagComboExists(ctx context.Context, weblog string, tags []string) (bool, error)
}

// Validator checks content-state rules for a request and its template.
type Validator struct {
	content ContentProbe
	now     func() time.Time
}

// New constructs a validator over the content probe.
func New(probe ContentProbe) *Validator {
	return &Validator{content: probe, now: time.Now}
}

// Input is everything one validation needs.
type Input struct {
	Request  pagerequest.Context
	Template *theme.Template
	Weblog   content.Weblog
	// SiteWide widens the tag-combination probe to every weblog.
	SiteWide bool
}

// Validate returns nil when the request may be rendered. Rule violations wrap
// ErrInvalid; other errors come from the content probe. Either way the page
// is not found.
func (v *Validator) Validate(ctx context.Context, in Input) error {
	req := in.Request
	if req.Kind == pagerequest.KindNamedPage && in.Template != nil && in.Template.Hidden {
		return fmt.Errorf("%w: page %q is hidden", ErrInvalid, req.PageName)
	}
	if req.Locale != "" && !in.Weblog.EnableMultiLang {
		return fmt.Errorf("%w: locale %q requested but multi-language is off", ErrInvalid, req.Locale)
	}
	if req.Anchor != "" {
		return v.permalink(ctx, req)
	}
	if req.Category != "" {
		ok, err := v.content.CategoryExists(ctx, req.Weblog, req.Category)
		if err != nil {
			return fmt.Errorf("validation: category %q: %w", req.Category, err)
		}
		if !ok {
			return fmt.Errorf("%w: unknown category %q", ErrInvalid, req.Category)
		}
	}
	if len(req.Tags) > 0 {
		scope := req.Weblog
		if in.SiteWide {
			scope = ""
		}
		ok, err := v.content.TagComboExists(ctx, scope, req.Tags)
		if err != nil {
			return fmt.Errorf("validation: tags %v: %w", req.Tags, err)
		}
		if !ok {
			return fmt.Errorf("%w: no entry tagged %s", ErrInvalid, strings.Join(req.Tags, "+"))
		}
	}
	return nil
}

func (v *Validator) permalink(ctx context.Context, req pagerequest.Context) error {
	entry, err := v.content.EntryByAnchor(ctx, req.Weblog, req.Anchor)
	if errors.Is(err, content.ErrNotFound) {
		return fmt.Errorf("%w: unknown entry %q", ErrInvalid, req.Anchor)
	}
	if err != nil {
		return fmt.Errorf("validation: entry %q: %w", req.Anchor, err)
	}
	if req.Locale != "" && !strings.HasPrefix(entry.Locale, req.Locale) {
		return fmt.Errorf("%w: entry %q locale %q does not match %q", ErrInvalid, req.Anchor, entry.Locale, req.Locale)
	}
	if entry.Status != content.StatusPublished {
		return fmt.Errorf("%w: entry %q is %s", ErrInvalid, req.Anchor, entry.Status)
	}
	if entry.PubTime.After(v.now()) {
		return fmt.Errorf("%w: entry %q is scheduled for %s", ErrInvalid, req.Anchor, entry.PubTime.Format(time.RFC3339))
	}
	return nil
}
