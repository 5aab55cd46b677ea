package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// canonicalKeys restores camelCase for env-sourced keys, which arrive lowercased.
var canonicalKeys = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"site.frontpagehandle":             "site.frontPageHandle",
	"site.excludeownerpages":           "site.excludeOwnerPages",
	"site.themereload":                 "site.themeReload",
	"session.trustedproxyips":          "session.trustedProxyIPs",
	"referrers.robotpattern":           "referrers.robotPattern",
	"referrers.editormarkers":          "referrers.editorMarkers",
	"referrers.bannedwords":            "referrers.bannedWords",
	"referrers.bannedexpressions":      "referrers.bannedExpressions",
	"cache.weblogpage.enabled":         "cache.weblogPage.enabled",
	"cache.weblogpage.backend":         "cache.weblogPage.backend",
	"cache.weblogpage.namespace":       "cache.weblogPage.namespace",
	"cache.weblogpage.ttlseconds":      "cache.weblogPage.ttlSeconds",
	"cache.sitewide.enabled":           "cache.siteWide.enabled",
	"cache.sitewide.backend":           "cache.siteWide.backend",
	"cache.sitewide.namespace":         "cache.siteWide.namespace",
	"cache.sitewide.ttlseconds":        "cache.siteWide.ttlSeconds",
	"cache.redis.tls.cafile":           "cache.redis.tls.caFile",
	"themes.allowenv":                  "themes.allowEnv",
	"themes.allowedenv":                "themes.allowedEnv",
	"hits.flushintervalseconds":        "hits.flushIntervalSeconds",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (PAGECTRL_SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalKeys[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	cacheMap := func(c ContentCacheConfig) map[string]any {
		return map[string]any{
			"enabled":    c.Enabled,
			"backend":    c.Backend,
			"namespace":  c.Namespace,
			"ttlSeconds": c.TTLSeconds,
		}
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"site": map[string]any{
			"frontPageHandle":   cfg.Site.FrontPageHandle,
			"excludeOwnerPages": cfg.Site.ExcludeOwnerPages,
			"themeReload":       cfg.Site.ThemeReload,
		},
		"session": map[string]any{
			"header":          cfg.Session.Header,
			"trustedProxyIPs": cfg.Session.TrustedProxyIPs,
		},
		"referrers": map[string]any{
			"enabled":           cfg.Referrers.Enabled,
			"robotPattern":      cfg.Referrers.RobotPattern,
			"editorMarkers":     cfg.Referrers.EditorMarkers,
			"bannedWords":       cfg.Referrers.BannedWords,
			"bannedExpressions": cfg.Referrers.BannedExpressions,
		},
		"cache": map[string]any{
			"weblogPage": cacheMap(cfg.Cache.WeblogPage),
			"siteWide":   cacheMap(cfg.Cache.SiteWide),
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"themes": map[string]any{
			"folder":     cfg.Themes.Folder,
			"allowEnv":   cfg.Themes.AllowEnv,
			"allowedEnv": cfg.Themes.AllowedEnv,
		},
		"content": map[string]any{
			"database": cfg.Content.Database,
		},
		"hits": map[string]any{
			"flushIntervalSeconds": cfg.Hits.FlushIntervalSeconds,
			"store":                cfg.Hits.Store,
		},
	}
}
