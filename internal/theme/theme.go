// Package theme supplies page templates from per-weblog themes.
package theme

import "errors"

// Template actions declare the role a template plays in a theme.
const (
	ActionWeblog    = "weblog"
	ActionPermalink = "permalink"
	ActionTagsIndex = "tagsIndex"
	ActionCustom    = "custom"
)

// PopupTemplateName is the theme template consulted for popup views.
const PopupTemplateName = "_popupcomments"

// ErrNotFound reports a missing theme.
var ErrNotFound = errors.New("theme: not found")

// Provider looks templates up in a theme. A template that does not exist is
// reported as nil with a nil error; errors mean the theme itself could not be
// read.
type Provider interface {
	TemplateByName(themeName, name string) (*Template, error)
	TemplateByAction(themeName, action string) (*Template, error)
	DefaultTemplate(themeName string) (*Template, error)
}

// Template is a page blueprint resolved from a theme.
type Template struct {
	Theme       string `yaml:"-"`
	Name        string `yaml:"name"`
	Action      string `yaml:"action"`
	File        string `yaml:"file"`
	Link        string `yaml:"link"`
	ContentType string `yaml:"contentType"`
	Hidden      bool   `yaml:"hidden"`
	// Source holds inline template text; file-backed templates leave it empty.
	Source string `yaml:"source"`
}

// ID identifies the template across themes for caching compiled output.
func (t *Template) ID() string {
	if t.Theme == "" {
		return "builtin/" + t.Name
	}
	return t.Theme + "/" + t.Name
}

// BuiltinPopup is served for popup views when the theme has no popup template.
var BuiltinPopup = &Template{
	Name:        PopupTemplateName,
	Action:      ActionCustom,
	ContentType: "text/html",
	Hidden:      true,
	Source: `<!DOCTYPE html>
<html><head><title>{{ .weblog.Name }}: comments</title></head>
<body>
<h1>{{ .weblog.Name }}</h1>
{{- with .entry }}
<h2>{{ .Title }}</h2>
{{- end }}
</body></html>
`,
}
