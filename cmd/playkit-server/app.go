package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"playkit/adapters/jsonfile"
	mem "playkit/adapters/memory"
	redisAdapter "playkit/adapters/redis"
	sqlxAdapter "playkit/adapters/sqlx"
	"playkit/analytics"
	"playkit/api/httpapi"
	"playkit/config"
	"playkit/gamify"
	"playkit/integrations/webhook"
	"playkit/realtime"
	"playkit/storage"
)

// Flags are the command-line inputs to BuildApp.
type Flags struct {
	ConfigFile string
	Profile    string
}

// App aggregates the assembled server components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Hub      *realtime.Hub
	Metrics  *analytics.Metrics
	Registry *gamify.Registry
	Handler  http.Handler
	Server   *http.Server
}

// closeTimeout bounds the final flushes done by cleanup functions.
const closeTimeout = 10 * time.Second

func provideConfig(ctx context.Context, flags Flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case flags.ConfigFile != "":
		cfg, err = config.LoadFromFile(flags.ConfigFile)
	case flags.Profile != "":
		cfg, err = config.LoadProfile(flags.Profile)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
		// secrets may fill fields validation depends on
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration after secrets: %w", err)
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideMetrics() *analytics.Metrics {
	return analytics.NewMetrics()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, func(), error) {
	backend, closer, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := closer(); err != nil {
			logger.Error("closing storage", "adapter", cfg.Storage.Adapter, "error", err)
		}
	}
	return backend, cleanup, nil
}

// provideWebhooks returns nil when no endpoints are configured.
func provideWebhooks(cfg *config.Config, logger *slog.Logger) (*webhook.Sink, func()) {
	if len(cfg.Webhooks.Endpoints) == 0 {
		return nil, func() {}
	}
	sink := webhook.New(cfg.Webhooks.Endpoints,
		webhook.WithClient(&http.Client{Timeout: cfg.Webhooks.Timeout}),
		webhook.WithSecret(cfg.Webhooks.Secret),
		webhook.WithQueueSize(cfg.Webhooks.QueueSize),
		webhook.WithLogger(logger.With("component", "webhook")),
	)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			logger.Error("closing webhook sink", "error", err)
		}
		if n := sink.Dropped(); n > 0 {
			logger.Warn("webhook events dropped", "count", n)
		}
	}
	return sink, cleanup
}

func provideRegistry(ctx context.Context, cfg *config.Config, backend storage.Backend, hub *realtime.Hub, metrics *analytics.Metrics, sink *webhook.Sink, logger *slog.Logger) (*gamify.Registry, func(), error) {
	hooks := []analytics.Hook{metrics}
	if sink != nil {
		hooks = append(hooks, sink)
	}
	opts := []gamify.Option{
		gamify.WithRealtime(hub),
		gamify.WithHook(analytics.NewBridge(hooks...).OnEvent),
		gamify.WithTickInterval(cfg.Features.TickInterval),
		gamify.WithMaxKits(cfg.Features.MaxUsers),
		gamify.WithIdleEvict(cfg.Features.UserIdle),
		gamify.WithLogger(logger.With("component", "gamify")),
	}
	reg, err := gamify.NewRegistry(ctx, backend, cfg.KitConfig(), cfg.Features.LeaderboardConfig(), opts...)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := reg.Close(ctx); err != nil {
			logger.Error("closing registry", "error", err)
		}
	}
	return reg, cleanup, nil
}

func provideHandler(reg *gamify.Registry, hub *realtime.Hub, metrics *analytics.Metrics, cfg *config.Config, logger *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Environment != config.EnvProduction {
		opts.Logger = logger.With("component", "http")
	}
	return httpapi.NewMux(reg, hub, metrics, opts)
}

func provideServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr in key order.
func convertAttributes(attrs map[string]string) []slog.Attr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		result = append(result, slog.String(k, attrs[k]))
	}
	return result
}

// setupStorage creates the appropriate storage backend based on configuration.
func setupStorage(_ context.Context, cfg *config.Config) (storage.Backend, func() error, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		s := mem.New()
		return s, s.Close, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
