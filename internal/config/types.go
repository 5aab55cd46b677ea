package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config holds every option the page pipeline consults. It is built once at
// startup and handed to components; nothing re-reads it per request.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Site      SiteConfig      `koanf:"site"`
	Session   SessionConfig   `koanf:"session"`
	Referrers ReferrersConfig `koanf:"referrers"`
	Cache     CacheConfig     `koanf:"cache"`
	Themes    ThemesConfig    `koanf:"themes"`
	Content   ContentConfig   `koanf:"content"`
	Hits      HitsConfig      `koanf:"hits"`
}

// ServerConfig collects the listener and logging bootstrap knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// SiteConfig describes deployment-wide page serving behavior.
type SiteConfig struct {
	// FrontPageHandle names the tenant whose pages aggregate the whole site.
	FrontPageHandle   string `koanf:"frontPageHandle"`
	ExcludeOwnerPages bool   `koanf:"excludeOwnerPages"`
	ThemeReload       bool   `koanf:"themeReload"`
}

// SessionConfig controls how authenticated editing sessions are recognized.
type SessionConfig struct {
	Header          string   `koanf:"header"`
	TrustedProxyIPs []string `koanf:"trustedProxyIPs"`
}

// ReferrersConfig drives the referrer spam classifier.
type ReferrersConfig struct {
	Enabled           bool     `koanf:"enabled"`
	RobotPattern      string   `koanf:"robotPattern"`
	EditorMarkers     []string `koanf:"editorMarkers"`
	BannedWords       []string `koanf:"bannedWords"`
	BannedExpressions []string `koanf:"bannedExpressions"`
}

type CacheConfig struct {
	WeblogPage ContentCacheConfig `koanf:"weblogPage"`
	SiteWide   ContentCacheConfig `koanf:"siteWide"`
	Redis      RedisConfig        `koanf:"redis"`
}

// ContentCacheConfig configures one content cache instance.
type ContentCacheConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Backend   string `koanf:"backend"`
	Namespace string `koanf:"namespace"`
	// TTLSeconds bounds how long the redis backend retains an entry; zero keeps
	// entries until they are cleared.
	TTLSeconds int `koanf:"ttlSeconds"`
}

// TTL converts TTLSeconds into a duration.
func (c ContentCacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// ThemesConfig captures the theme sandbox root.
type ThemesConfig struct {
	Folder     string   `koanf:"folder"`
	AllowEnv   bool     `koanf:"allowEnv"`
	AllowedEnv []string `koanf:"allowedEnv"`
}

type ContentConfig struct {
	Database string `koanf:"database"`
}

type HitsConfig struct {
	FlushIntervalSeconds int    `koanf:"flushIntervalSeconds"`
	Store                string `koanf:"store"`
}

// FlushInterval converts FlushIntervalSeconds into a duration.
func (c HitsConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	needsRedis := false
	for name, cc := range map[string]ContentCacheConfig{"weblogPage": c.Cache.WeblogPage, "siteWide": c.Cache.SiteWide} {
		if cc.TTLSeconds < 0 {
			return fmt.Errorf("config: cache.%s.ttlSeconds invalid: %d", name, cc.TTLSeconds)
		}
		if strings.TrimSpace(cc.Namespace) == "" {
			return fmt.Errorf("config: cache.%s.namespace required", name)
		}
		switch strings.TrimSpace(strings.ToLower(cc.Backend)) {
		case "", "memory":
		case "redis":
			needsRedis = needsRedis || cc.Enabled
		default:
			return fmt.Errorf("config: cache.%s.backend unsupported: %s", name, cc.Backend)
		}
	}
	if c.Cache.WeblogPage.Namespace == c.Cache.SiteWide.Namespace {
		return fmt.Errorf("config: cache namespaces must differ: %s", c.Cache.SiteWide.Namespace)
	}
	if needsRedis && strings.TrimSpace(c.Cache.Redis.Address) == "" {
		return errors.New("config: cache.redis.address required for redis backend")
	}
	if c.Hits.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("config: hits.flushIntervalSeconds invalid: %d", c.Hits.FlushIntervalSeconds)
	}
	if pattern := strings.TrimSpace(c.Referrers.RobotPattern); pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("config: referrers.robotPattern: %w", err)
		}
	}
	if strings.TrimSpace(c.Session.Header) == "" {
		return errors.New("config: session.header required")
	}
	return nil
}

// DefaultConfig returns the baseline values used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Session: SessionConfig{
			Header: "X-Authenticated-User",
		},
		Referrers: ReferrersConfig{
			Enabled:       true,
			EditorMarkers: []string{"/editor/"},
		},
		Cache: CacheConfig{
			WeblogPage: ContentCacheConfig{Enabled: true, Backend: "memory", Namespace: "weblogpage"},
			SiteWide:   ContentCacheConfig{Enabled: true, Backend: "memory", Namespace: "sitewide"},
		},
		Themes: ThemesConfig{
			Folder: "./themes",
		},
		Content: ContentConfig{
			Database: "./data/content.db",
		},
		Hits: HitsConfig{
			FlushIntervalSeconds: 60,
			Store:                "./data/hits",
		},
	}
}
