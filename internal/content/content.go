// Package content is the read side of weblog content: tenants, entries,
// categories and tags, plus the freshness timestamps the page pipeline
// compares cached pages against.
package content

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound reports a weblog, entry or category that does not exist.
var ErrNotFound = errors.New("content: not found")

// PubStatus is the publication state of an entry.
type PubStatus string

const (
	StatusDraft     PubStatus = "DRAFT"
	StatusPublished PubStatus = "PUBLISHED"
	StatusPending   PubStatus = "PENDING"
	StatusScheduled PubStatus = "SCHEDULED"
)

// Weblog is one tenant of the site.
type Weblog struct {
	Handle          string
	Name            string
	Tagline         string
	Theme           string
	Locale          string
	EnableMultiLang bool
	ShowAllLangs    bool
	Active          bool
	EntryDisplay    int
	// BannedWords is the weblog's own referrer blocklist, one entry per line.
	BannedWords  string
	LastModified time.Time
}

// BannedWordList splits BannedWords into trimmed non-empty lines.
func (w Weblog) BannedWordList() []string {
	if strings.TrimSpace(w.BannedWords) == "" {
		return nil
	}
	lines := strings.Split(w.BannedWords, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Entry is one weblog post.
type Entry struct {
	ID         int64
	Weblog     string
	Anchor     string
	Title      string
	Text       string
	Locale     string
	Status     PubStatus
	PubTime    time.Time
	UpdateTime time.Time
	Category   string
	Tags       []string
}

// Published reports whether the entry is visible to readers at the given instant.
func (e Entry) Published(now time.Time) bool {
	return e.Status == StatusPublished && !e.PubTime.After(now)
}

// Category is a named grouping of entries within a weblog.
type Category struct {
	Weblog   string
	Name     string
	Position int
}

// EntryQuery selects published entries for page models.
type EntryQuery struct {
	// Weblog restricts the query to one tenant; empty spans the whole site.
	Weblog   string
	Category string
	Tags     []string
	// Locale restricts entries to those whose locale starts with this prefix.
	Locale string
	Before time.Time
	Limit  int
	Offset int
}

// Reader is the read side the page pipeline consumes. Implementations return
// ErrNotFound for missing weblogs and entries.
type Reader interface {
	Weblog(ctx context.Context, handle string) (Weblog, error)
	EntryByAnchor(ctx context.Context, weblog, anchor string) (Entry, error)
	CategoryExists(ctx context.Context, weblog, name string) (bool, error)
	Categories(ctx context.Context, weblog string) ([]Category, error)
	// TagComboExists reports whether one visible entry carries every tag. An
	// empty weblog searches the whole site.
	TagComboExists(ctx context.Context, weblog string, tags []string) (bool, error)
	Entries(ctx context.Context, q EntryQuery) ([]Entry, error)
}
