package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS weblogs (
	handle TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	tagline TEXT NOT NULL DEFAULT '',
	theme TEXT NOT NULL DEFAULT '',
	locale TEXT NOT NULL DEFAULT '',
	enable_multi_lang INTEGER NOT NULL DEFAULT 0,
	show_all_langs INTEGER NOT NULL DEFAULT 1,
	active INTEGER NOT NULL DEFAULT 1,
	entry_display INTEGER NOT NULL DEFAULT 15,
	banned_words TEXT NOT NULL DEFAULT '',
	last_modified INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	weblog TEXT NOT NULL,
	anchor TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	locale TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	pub_time INTEGER NOT NULL,
	update_time INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	UNIQUE (weblog, anchor)
);
CREATE INDEX IF NOT EXISTS entries_pub_idx ON entries (weblog, status, pub_time);
CREATE TABLE IF NOT EXISTS entry_tags (
	entry_id INTEGER NOT NULL,
	weblog TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (entry_id, name)
);
CREATE INDEX IF NOT EXISTS entry_tags_name_idx ON entry_tags (name, weblog);
CREATE TABLE IF NOT EXISTS categories (
	weblog TEXT NOT NULL,
	name TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (weblog, name)
);
`

var _ Reader = (*SQLiteStore)(nil)

// ChangeListener is notified after a weblog's content changed.
type ChangeListener func(ctx context.Context, handle string, at time.Time)

// SQLiteStore persists weblog content in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	mu        sync.RWMutex
	listeners []ChangeListener
}

// OpenSQLite opens (and migrates) the database at path. An empty path opens a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if strings.TrimSpace(dsn) == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", dsn, err)
	}
	// SQLite serializes writers; a single connection also keeps an in-memory
	// database alive and shared.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("content: migrate: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("content: journal mode: %w", err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// OnChange registers a listener invoked after every content change.
func (s *SQLiteStore) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Weblog loads one tenant by handle.
func (s *SQLiteStore) Weblog(ctx context.Context, handle string) (Weblog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT handle, name, tagline, theme, locale, enable_multi_lang,
		show_all_langs, active, entry_display, banned_words, last_modified
		FROM weblogs WHERE handle = ?`, handle)
	var w Weblog
	var lastModified int64
	err := row.Scan(&w.Handle, &w.Name, &w.Tagline, &w.Theme, &w.Locale, &w.EnableMultiLang,
		&w.ShowAllLangs, &w.Active, &w.EntryDisplay, &w.BannedWords, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return Weblog{}, fmt.Errorf("content: weblog %q: %w", handle, ErrNotFound)
	}
	if err != nil {
		return Weblog{}, fmt.Errorf("content: weblog %q: %w", handle, err)
	}
	w.LastModified = time.Unix(0, lastModified)
	return w, nil
}

// Weblogs lists every tenant ordered by handle.
func (s *SQLiteStore) Weblogs(ctx context.Context) ([]Weblog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle FROM weblogs ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("content: list weblogs: %w", err)
	}
	var handles []string
	for rows.Next() {
		var handle string
		if err := rows.Scan(&handle); err != nil {
			rows.Close()
			return nil, fmt.Errorf("content: list weblogs: %w", err)
		}
		handles = append(handles, handle)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("content: list weblogs: %w", err)
	}
	out := make([]Weblog, 0, len(handles))
	for _, handle := range handles {
		w, err := s.Weblog(ctx, handle)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// SaveWeblog inserts or replaces a tenant and advances its freshness timestamp.
func (s *SQLiteStore) SaveWeblog(ctx context.Context, w Weblog) error {
	if strings.TrimSpace(w.Handle) == "" {
		return errors.New("content: weblog handle required")
	}
	now := s.now()
	if w.EntryDisplay <= 0 {
		w.EntryDisplay = 15
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO weblogs (handle, name, tagline, theme, locale,
		enable_multi_lang, show_all_langs, active, entry_display, banned_words, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET name = excluded.name, tagline = excluded.tagline,
		theme = excluded.theme, locale = excluded.locale, enable_multi_lang = excluded.enable_multi_lang,
		show_all_langs = excluded.show_all_langs, active = excluded.active,
		entry_display = excluded.entry_display, banned_words = excluded.banned_words,
		last_modified = MAX(weblogs.last_modified, excluded.last_modified)`,
		w.Handle, w.Name, w.Tagline, w.Theme, w.Locale, w.EnableMultiLang, w.ShowAllLangs,
		w.Active, w.EntryDisplay, w.BannedWords, now.UnixNano())
	if err != nil {
		return fmt.Errorf("content: save weblog %q: %w", w.Handle, err)
	}
	s.notify(ctx, w.Handle, now)
	return nil
}

// SaveEntry inserts or replaces an entry (matched by weblog and anchor) with
// its tags, then advances the weblog's freshness timestamp.
func (s *SQLiteStore) SaveEntry(ctx context.Context, e Entry) (Entry, error) {
	if e.Weblog == "" || e.Anchor == "" {
		return Entry{}, errors.New("content: entry weblog and anchor required")
	}
	if e.Status == "" {
		e.Status = StatusDraft
	}
	now := s.now()
	if e.UpdateTime.IsZero() {
		e.UpdateTime = now
	}
	if e.PubTime.IsZero() {
		e.PubTime = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("content: save entry: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	err = tx.QueryRowContext(ctx, `INSERT INTO entries (weblog, anchor, title, text, locale, status,
		pub_time, update_time, category) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(weblog, anchor) DO UPDATE SET title = excluded.title, text = excluded.text,
		locale = excluded.locale, status = excluded.status, pub_time = excluded.pub_time,
		update_time = excluded.update_time, category = excluded.category
		RETURNING id`,
		e.Weblog, e.Anchor, e.Title, e.Text, e.Locale, string(e.Status),
		e.PubTime.UnixNano(), e.UpdateTime.UnixNano(), e.Category).Scan(&e.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("content: save entry %q: %w", e.Anchor, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_tags WHERE entry_id = ?`, e.ID); err != nil {
		return Entry{}, fmt.Errorf("content: save entry tags: %w", err)
	}
	e.Tags = normalizeTags(e.Tags)
	for _, tag := range e.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO entry_tags (entry_id, weblog, name) VALUES (?, ?, ?)`,
			e.ID, e.Weblog, tag); err != nil {
			return Entry{}, fmt.Errorf("content: save entry tags: %w", err)
		}
	}
	if err := touch(ctx, tx, e.Weblog, now); err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("content: save entry commit: %w", err)
	}
	s.notify(ctx, e.Weblog, now)
	return e, nil
}

// SaveCategory inserts a category if it does not exist yet.
func (s *SQLiteStore) SaveCategory(ctx context.Context, c Category) error {
	if c.Weblog == "" || strings.TrimSpace(c.Name) == "" {
		return errors.New("content: category weblog and name required")
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO categories (weblog, name, position) VALUES (?, ?, ?)
		ON CONFLICT(weblog, name) DO UPDATE SET position = excluded.position`, c.Weblog, c.Name, c.Position); err != nil {
		return fmt.Errorf("content: save category %q: %w", c.Name, err)
	}
	if err := touch(ctx, s.db, c.Weblog, now); err != nil {
		return err
	}
	s.notify(ctx, c.Weblog, now)
	return nil
}

// TouchWeblog advances a weblog's freshness timestamp, for example after a
// theme change, and notifies listeners.
func (s *SQLiteStore) TouchWeblog(ctx context.Context, handle string) error {
	now := s.now()
	if err := touch(ctx, s.db, handle, now); err != nil {
		return err
	}
	s.notify(ctx, handle, now)
	return nil
}

// EntryByAnchor loads an entry regardless of its publication state.
func (s *SQLiteStore) EntryByAnchor(ctx context.Context, weblog, anchor string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, weblog, anchor, title, text, locale, status,
		pub_time, update_time, category FROM entries WHERE weblog = ? AND anchor = ?`, weblog, anchor)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("content: entry %q: %w", anchor, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("content: entry %q: %w", anchor, err)
	}
	tags, err := s.entryTags(ctx, e.ID)
	if err != nil {
		return Entry{}, err
	}
	e.Tags = tags
	return e, nil
}

// CategoryExists reports whether the weblog defines the named category.
func (s *SQLiteStore) CategoryExists(ctx context.Context, weblog, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE weblog = ? AND name = ?`,
		weblog, name).Scan(&n); err != nil {
		return false, fmt.Errorf("content: category %q: %w", name, err)
	}
	return n > 0, nil
}

// Categories lists a weblog's categories in display order.
func (s *SQLiteStore) Categories(ctx context.Context, weblog string) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT weblog, name, position FROM categories
		WHERE weblog = ? ORDER BY position, name`, weblog)
	if err != nil {
		return nil, fmt.Errorf("content: categories: %w", err)
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Weblog, &c.Name, &c.Position); err != nil {
			return nil, fmt.Errorf("content: categories: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TagComboExists reports whether at least one published entry carries every
// tag in tags. An empty weblog searches the whole site; an empty tag list
// never matches.
func (s *SQLiteStore) TagComboExists(ctx context.Context, weblog string, tags []string) (bool, error) {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(tags)+3)
	placeholders := make([]string, len(tags))
	for i, tag := range tags {
		placeholders[i] = "?"
		args = append(args, tag)
	}
	query := `SELECT COUNT(*) FROM (SELECT t.entry_id FROM entry_tags t
		JOIN entries e ON e.id = t.entry_id
		WHERE t.name IN (` + strings.Join(placeholders, ", ") + `) AND e.status = ? AND e.pub_time <= ?`
	args = append(args, string(StatusPublished), s.now().UnixNano())
	if weblog != "" {
		query += ` AND t.weblog = ?`
		args = append(args, weblog)
	}
	query += ` GROUP BY t.entry_id HAVING COUNT(DISTINCT t.name) = ? LIMIT 1)`
	args = append(args, len(tags))
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("content: tag combination: %w", err)
	}
	return n > 0, nil
}

// Entries lists published entries newest first.
func (s *SQLiteStore) Entries(ctx context.Context, q EntryQuery) ([]Entry, error) {
	before := q.Before
	if before.IsZero() {
		before = s.now()
	}
	query := `SELECT e.id, e.weblog, e.anchor, e.title, e.text, e.locale, e.status,
		e.pub_time, e.update_time, e.category FROM entries e WHERE e.status = ? AND e.pub_time <= ?`
	args := []any{string(StatusPublished), before.UnixNano()}
	if q.Weblog != "" {
		query += ` AND e.weblog = ?`
		args = append(args, q.Weblog)
	}
	if q.Category != "" {
		query += ` AND e.category = ?`
		args = append(args, q.Category)
	}
	if q.Locale != "" {
		query += ` AND e.locale LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(q.Locale)+"%")
	}
	for _, tag := range normalizeTags(q.Tags) {
		query += ` AND EXISTS (SELECT 1 FROM entry_tags t WHERE t.entry_id = e.id AND t.name = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY e.pub_time DESC, e.id DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(q.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("content: entries: %w", err)
	}
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("content: entries: %w", err)
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("content: entries: %w", err)
	}
	for i := range out {
		tags, err := s.entryTags(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = tags
	}
	return out, nil
}

func (s *SQLiteStore) entryTags(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM entry_tags WHERE entry_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("content: entry tags: %w", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("content: entry tags: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) notify(ctx context.Context, handle string, at time.Time) {
	s.mu.RLock()
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, handle, at)
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touch(ctx context.Context, db execer, handle string, at time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE weblogs SET last_modified = MAX(last_modified, ?) WHERE handle = ?`,
		at.UnixNano(), handle)
	if err != nil {
		return fmt.Errorf("content: touch %q: %w", handle, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("content: touch %q: %w", handle, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var status string
	var pubTime, updateTime int64
	if err := row.Scan(&e.ID, &e.Weblog, &e.Anchor, &e.Title, &e.Text, &e.Locale, &status,
		&pubTime, &updateTime, &e.Category); err != nil {
		return Entry{}, err
	}
	e.Status = PubStatus(status)
	e.PubTime = time.Unix(0, pubTime)
	e.UpdateTime = time.Unix(0, updateTime)
	return e, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
