package templates

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSandboxValidatesRoot(t *testing.T) {
	sb, err := NewSandbox("", false, nil)
	require.Error(t, err)
	require.Nil(t, sb)

	dir := t.TempDir()
	sb, err = NewSandbox(dir, true, []string{"SITE_NAME", " ", " CDN_HOST "})
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(dir), sb.Root())
	require.Equal(t, []string{"SITE_NAME", "CDN_HOST"}, sb.AllowedEnv())

	file := filepath.Join(dir, "theme.yaml")
	require.NoError(t, os.WriteFile(file, []byte("name: basic"), 0o600))
	_, err = NewSandbox(file, false, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a directory")
}

func TestSandboxResolveThemeLayout(t *testing.T) {
	themes := t.TempDir()
	for _, name := range []string{"basic", "fancy"} {
		require.NoError(t, os.MkdirAll(filepath.Join(themes, name, "partials"), 0o750))
	}
	page := filepath.Join(themes, "basic", "page.tmpl")
	require.NoError(t, os.WriteFile(page, []byte("{{ .weblog.Name }}"), 0o600))
	header := filepath.Join(themes, "fancy", "partials", "header.tmpl")
	require.NoError(t, os.WriteFile(header, []byte("<header/>"), 0o600))

	sb, err := NewSandbox(themes, false, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr string
	}{
		{name: "theme page", path: "basic/page.tmpl", want: page},
		{name: "nested partial", path: "fancy/partials/header.tmpl", want: header},
		{name: "dot segments stay inside", path: "basic/partials/../page.tmpl", want: page},
		{name: "sibling theme through parent", path: "basic/../fancy/partials/header.tmpl", want: header},
		{name: "absolute inside root", path: page, want: page},
		{name: "leaves themes root", path: "basic/../../outside.tmpl", wantErr: "escapes"},
		{name: "absolute outside root", path: filepath.Join(filepath.Dir(themes), "page.tmpl"), wantErr: "escapes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := sb.Resolve(tc.path)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			want, err := filepath.EvalSymlinks(tc.want)
			require.NoError(t, err)
			require.Equal(t, want, resolved)
		})
	}
}

func TestSandboxResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require admin on Windows CI")
	}
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "data.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0o600))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "basic"), 0o750))
	link := filepath.Join(root, "basic", "weblog.tmpl")
	require.NoError(t, os.Symlink(outsideFile, link))

	sb, err := NewSandbox(root, false, nil)
	require.NoError(t, err)

	_, err = sb.Resolve("basic/weblog.tmpl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes")
}

func TestSandboxEnvironment(t *testing.T) {
	dir := t.TempDir()
	sb, err := NewSandbox(dir, true, []string{"SITE_NAME", "CDN_HOST"})
	require.NoError(t, err)
	t.Setenv("SITE_NAME", "Acme Blogs")
	t.Setenv("CDN_HOST", "cdn.example")

	env := sb.Environment()
	require.Len(t, env, 2)
	require.Equal(t, "Acme Blogs", env["SITE_NAME"])
	require.Equal(t, "cdn.example", env["CDN_HOST"])

	disabled, err := NewSandbox(dir, false, []string{"SITE_NAME"})
	require.NoError(t, err)
	require.Empty(t, disabled.Environment())
}

func TestSandboxEnvironmentFiltersMissing(t *testing.T) {
	dir := t.TempDir()
	sb, err := NewSandbox(dir, true, []string{"SET", "MISSING"})
	require.NoError(t, err)
	t.Setenv("SET", "ok")

	env := sb.Environment()
	require.Len(t, env, 1)
	require.Equal(t, "ok", env["SET"])
	_, exists := env["MISSING"]
	require.False(t, exists)
}

func TestSandboxResolveNilReceiver(t *testing.T) {
	var sb *Sandbox
	_, err := sb.Resolve("anything")
	require.Error(t, err)
}

func TestSandboxResolveMissingFile(t *testing.T) {
	dir := t.TempDir()
	sb, err := NewSandbox(dir, false, nil)
	require.NoError(t, err)
	_, err = sb.Resolve("basic/missing.tmpl")
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}
