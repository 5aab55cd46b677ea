package theme

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the theme descriptor inside each theme directory.
const ManifestFile = "theme.yaml"

type manifest struct {
	Name      string      `yaml:"name"`
	Templates []*Template `yaml:"templates"`
}

var _ Provider = (*FileProvider)(nil)

// FileProvider reads themes from <root>/<theme>/theme.yaml. Manifests are
// parsed on first use and kept until Reload.
type FileProvider struct {
	root string

	mu     sync.RWMutex
	themes map[string]*manifest
}

// NewFileProvider constructs a provider over the themes root directory.
func NewFileProvider(root string) *FileProvider {
	return &FileProvider{root: root, themes: make(map[string]*manifest)}
}

// Root returns the themes root directory.
func (p *FileProvider) Root() string { return p.root }

// TemplateByName returns the named template, or nil when the theme has none.
func (p *FileProvider) TemplateByName(themeName, name string) (*Template, error) {
	m, err := p.load(themeName)
	if err != nil {
		return nil, err
	}
	for _, tmpl := range m.Templates {
		if tmpl.Name == name {
			return tmpl, nil
		}
	}
	return nil, nil
}

// TemplateByAction returns the first template declaring action, or nil.
func (p *FileProvider) TemplateByAction(themeName, action string) (*Template, error) {
	m, err := p.load(themeName)
	if err != nil {
		return nil, err
	}
	for _, tmpl := range m.Templates {
		if strings.EqualFold(tmpl.Action, action) {
			return tmpl, nil
		}
	}
	return nil, nil
}

// DefaultTemplate returns the theme's weblog template, or nil.
func (p *FileProvider) DefaultTemplate(themeName string) (*Template, error) {
	return p.TemplateByAction(themeName, ActionWeblog)
}

// Reload drops the cached manifest so the next lookup rereads it.
func (p *FileProvider) Reload(themeName string) {
	p.mu.Lock()
	delete(p.themes, themeName)
	p.mu.Unlock()
}

func (p *FileProvider) load(themeName string) (*manifest, error) {
	if themeName == "" || strings.ContainsAny(themeName, `/\`) || themeName == "." || themeName == ".." {
		return nil, fmt.Errorf("theme: invalid name %q", themeName)
	}
	p.mu.RLock()
	m, ok := p.themes[themeName]
	p.mu.RUnlock()
	if ok {
		return m, nil
	}

	path := filepath.Join(p.root, themeName, ManifestFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("theme: %q: %w", themeName, ErrNotFound)
		}
		return nil, fmt.Errorf("theme: read %s: %w", path, err)
	}
	m = &manifest{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("theme: parse %s: %w", path, err)
	}
	kept := m.Templates[:0]
	for _, tmpl := range m.Templates {
		if tmpl == nil || strings.TrimSpace(tmpl.Name) == "" {
			continue
		}
		tmpl.Theme = themeName
		if tmpl.File != "" && !filepath.IsAbs(tmpl.File) {
			tmpl.File = filepath.Join(themeName, tmpl.File)
		}
		kept = append(kept, tmpl)
	}
	m.Templates = kept

	p.mu.Lock()
	p.themes[themeName] = m
	p.mu.Unlock()
	return m, nil
}
