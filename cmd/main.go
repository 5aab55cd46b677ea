package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/pagectrl/internal/config"
	"github.com/l0p7/pagectrl/internal/content"
	"github.com/l0p7/pagectrl/internal/logging"
	"github.com/l0p7/pagectrl/internal/metrics"
	"github.com/l0p7/pagectrl/internal/runtime"
	"github.com/l0p7/pagectrl/internal/runtime/cache"
	"github.com/l0p7/pagectrl/internal/runtime/hitcount"
	"github.com/l0p7/pagectrl/internal/runtime/session"
	"github.com/l0p7/pagectrl/internal/server"
	"github.com/l0p7/pagectrl/internal/spam"
	"github.com/l0p7/pagectrl/internal/templates"
	"github.com/l0p7/pagectrl/internal/theme"
	"github.com/prometheus/client_golang/prometheus"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return config.NewLoader(envPrefix, configFile)
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		srv, err := server.New(cfg, logger, handler)
		if err != nil {
			return nil, err
		}
		return srv, nil
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PAGECTRL", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	store, err := openContentStore(ctx, cfg.Content.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("content store close failed", slog.Any("error", err))
		}
	}()

	checker, err := spam.NewChecker(cfg.Referrers.BannedWords, cfg.Referrers.BannedExpressions)
	if err != nil {
		return fmt.Errorf("referrer blocklist: %w", err)
	}

	cacheLogger := logger.With(slog.String("agent", "cache_factory"))
	weblogCache := buildContentCache(cacheLogger, "weblogPage", cfg.Cache.WeblogPage, cfg.Cache.Redis, metricsRecorder)
	siteCache := buildContentCache(cacheLogger, "siteWide", cfg.Cache.SiteWide, cfg.Cache.Redis, metricsRecorder)

	hits := hitcount.NewCounter(hitcount.Options{
		Sink:     buildHitSink(logger, cfg.Hits),
		Interval: cfg.Hits.FlushInterval(),
		Logger:   logger,
		Metrics:  metricsRecorder,
	})

	var templateSandbox *templates.Sandbox
	if folder := strings.TrimSpace(cfg.Themes.Folder); folder != "" {
		sandbox, err := templates.NewSandbox(folder, cfg.Themes.AllowEnv, cfg.Themes.AllowedEnv)
		if err != nil {
			logger.Warn("template sandbox setup failed", slog.String("themes_folder", folder), slog.Any("error", err))
		} else {
			templateSandbox = sandbox
		}
	}
	themes := theme.NewFileProvider(cfg.Themes.Folder)

	pipe := runtime.NewPipeline(logger, runtime.PipelineOptions{
		Content:           store,
		Themes:            themes,
		Engine:            templates.NewEngine(templates.NewRenderer(templateSandbox)),
		WeblogPageCache:   weblogCache,
		SiteWideCache:     siteCache,
		Hits:              hits,
		Sessions:          session.New(cfg.Session.Header, session.ParseCIDRs(cfg.Session.TrustedProxyIPs)),
		Spam:              checker,
		Site:              cfg.Site,
		Referrers:         cfg.Referrers,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		Metrics:           metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := pipe.Close(shutdownCtx); err != nil {
			logger.Error("pipeline shutdown failed", slog.Any("error", err))
		}
	}()
	store.OnChange(pipe.Invalidate)

	if cfg.Site.ThemeReload {
		watcher, err := themes.Watch(ctx, func(themeName string) {
			pipe.ThemeChanged(ctx, themeName)
		}, func(err error) {
			logger.Error("theme watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("theme watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := newHTTPServer(cfg, logger, server.NewRouter(pipe, metricsRecorder.Handler()))
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

func openContentStore(ctx context.Context, path string) (*content.SQLiteStore, error) {
	if path = strings.TrimSpace(path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("content database directory: %w", err)
		}
	}
	store, err := content.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	return store, nil
}

func buildContentCache(logger *slog.Logger, name string, cfg config.ContentCacheConfig, redis config.RedisConfig, rec *metrics.Recorder) *cache.ContentCache {
	opts := cache.Options{
		Name:      name,
		Namespace: cfg.Namespace,
		Enabled:   cfg.Enabled,
		Logger:    logger,
		Metrics:   rec,
	}
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory page cache", slog.String("cache", name), slog.Bool("enabled", cfg.Enabled))
	case "redis":
		store, err := cache.NewRedis(cache.RedisConfig{
			Address:  redis.Address,
			Username: redis.Username,
			Password: redis.Password,
			DB:       redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: redis.TLS.Enabled,
				CAFile:  redis.TLS.CAFile,
			},
			TTL:   cfg.TTL(),
			Scope: cfg.Namespace + ":",
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.String("cache", name), slog.Any("error", err))
			logger.Info("falling back to memory cache", slog.String("cache", name))
			break
		}
		logger.Info("using redis page cache", slog.String("cache", name), slog.String("address", redis.Address))
		opts.Store = store
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("cache", name), slog.String("backend", cfg.Backend))
	}
	return cache.NewContentCache(opts)
}

func buildHitSink(logger *slog.Logger, cfg config.HitsConfig) hitcount.Sink {
	path := strings.TrimSpace(cfg.Store)
	if path == "" {
		logger.Info("hit counts are not persisted")
		return hitcount.NopSink{}
	}
	sink, err := hitcount.OpenLevelDB(path)
	if err != nil {
		logger.Error("hit store initialization failed; counts will be dropped", slog.Any("error", err))
		return hitcount.NopSink{}
	}
	logger.Info("using leveldb hit store", slog.String("path", path))
	return sink
}
