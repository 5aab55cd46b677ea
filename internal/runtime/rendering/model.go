// Package rendering builds the page model and produces the page body.
package rendering

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/runtime/pagerequest"
	"github.com/l0p7/pagectrl/internal/theme"
)

const defaultEntryDisplay = 15

// ContentSource supplies the content placed in page models.
type ContentSource interface {
	EntryByAnchor(ctx context.Context, weblog, anchor string) (content.Entry, error)
	Categories(ctx context.Context, weblog string) ([]content.Category, error)
	Entries(ctx context.Context, q content.EntryQuery) ([]content.Entry, error)
}

// ModelInput describes one page model build.
type ModelInput struct {
	Request  pagerequest.Context
	Template *theme.Template
	Weblog   content.Weblog
	SiteWide bool
	Now      time.Time
}

// EffectiveLocale returns the requested locale, or the weblog's own locale
// when none was requested and the weblog does not show every language.
func EffectiveLocale(req pagerequest.Context, w content.Weblog) string {
	if req.Locale == "" && !w.ShowAllLangs {
		return w.Locale
	}
	return req.Locale
}

// BuildModel assembles the map handed to the template.
func BuildModel(ctx context.Context, src ContentSource, in ModelInput) (map[string]any, error) {
	req := in.Request
	locale := EffectiveLocale(req, in.Weblog)
	model := map[string]any{
		"weblog":   in.Weblog,
		"request":  req,
		"page":     in.Template,
		"locale":   locale,
		"device":   string(req.Device),
		"loggedIn": req.LoggedIn,
		"user":     req.User,
		"pageNum":  req.PageNum,
		"siteWide": in.SiteWide,
		"now":      in.Now,
	}

	if req.Anchor != "" {
		entry, err := src.EntryByAnchor(ctx, req.Weblog, req.Anchor)
		if err != nil {
			return nil, fmt.Errorf("rendering: entry %q: %w", req.Anchor, err)
		}
		model["entry"] = entry
	}

	categories, err := src.Categories(ctx, req.Weblog)
	if err != nil {
		return nil, fmt.Errorf("rendering: categories: %w", err)
	}
	model["categories"] = categories

	limit := in.Weblog.EntryDisplay
	if limit <= 0 {
		limit = defaultEntryDisplay
	}
	q := content.EntryQuery{
		Weblog:   req.Weblog,
		Category: req.Category,
		Tags:     req.Tags,
		Locale:   locale,
		Before:   dateBound(req.Date, in.Now),
		Limit:    limit,
		Offset:   req.PageNum * limit,
	}
	if in.SiteWide {
		q.Weblog = ""
	}
	entries, err := src.Entries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rendering: entries: %w", err)
	}
	model["entries"] = entries
	return model, nil
}

// dateBound turns a yyyyMM or yyyyMMdd date into the end of that period,
// never later than now.
func dateBound(date string, now time.Time) time.Time {
	var end time.Time
	switch len(date) {
	case 8:
		day, err := time.ParseInLocation("20060102", date, time.UTC)
		if err != nil {
			return now
		}
		end = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	case 6:
		month, err := time.ParseInLocation("200601", date, time.UTC)
		if err != nil {
			return now
		}
		end = month.AddDate(0, 1, 0).Add(-time.Nanosecond)
	default:
		return now
	}
	if end.After(now) {
		return now
	}
	return end
}

// ContentType picks the response content type for a template.
func ContentType(tmpl *theme.Template) string {
	if tmpl != nil {
		if ct := strings.TrimSpace(tmpl.ContentType); ct != "" {
			return withCharset(ct)
		}
		if ext := path.Ext(tmpl.Link); ext != "" {
			if guessed := mime.TypeByExtension(ext); guessed != "" {
				return withCharset(guessed)
			}
		}
	}
	return "text/html; charset=utf-8"
}

func withCharset(ct string) string {
	if strings.Contains(ct, "charset=") {
		return ct
	}
	return ct + "; charset=utf-8"
}
