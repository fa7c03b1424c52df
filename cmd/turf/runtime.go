package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hylla/turf/internal/adapters/policy"
	"github.com/hylla/turf/internal/adapters/server/common"
	"github.com/hylla/turf/internal/adapters/storage/sqlstore"
	"github.com/hylla/turf/internal/app"
	"github.com/hylla/turf/internal/config"
	"github.com/hylla/turf/internal/geometry"
	"github.com/hylla/turf/internal/metrics"
	"github.com/hylla/turf/internal/platform"
	"github.com/hylla/turf/internal/spatial"
)

// globalOptions holds root flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool
}

// resolvePaths returns per-user paths for the selected app name and mode.
func (o *globalOptions) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// runtimeEnv is one opened process environment.
type runtimeEnv struct {
	cfg      config.Config
	paths    platform.Paths
	logger   *runtimeLogger
	repo     *sqlstore.Repository
	service  *app.Service
	adapter  *common.AppServiceAdapter
	recorder *metrics.Recorder
	redis    *policy.Redis
	closers  []func() error
}

// loadConfig resolves .env files, config.toml, env overrides, and the --db flag.
func loadConfig(opts *globalOptions) (config.Config, platform.Paths, string, error) {
	paths, err := opts.resolvePaths()
	if err != nil {
		return config.Config{}, platform.Paths{}, "", err
	}
	if err := config.LoadDotEnv(paths.EnvPath, ".env"); err != nil {
		return config.Config{}, platform.Paths{}, "", err
	}
	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("TURF_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return config.Config{}, platform.Paths{}, "", fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbPath := strings.TrimSpace(opts.dbPath); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, paths, configPath, nil
}

// openRuntime builds every adapter and the application service.
func openRuntime(ctx context.Context, opts *globalOptions, stderr io.Writer) (*runtimeEnv, error) {
	cfg, paths, configPath, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newRuntimeLogger(stderr, opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!opts.quiet)
	rt := &runtimeEnv{cfg: cfg, paths: paths, logger: logger}
	rt.closers = append(rt.closers, logger.Close)

	logger.Info("configuration loaded", "config_path", configPath, "driver", cfg.Database.Driver, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	if err := rt.open(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtimeEnv) open(ctx context.Context) error {
	cfg := rt.cfg
	logger := rt.logger

	shutdownTracing, err := platform.SetupTracing(ctx, platform.TracingOptions{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})

	target := cfg.Database.Path
	if strings.EqualFold(cfg.Database.Driver, sqlstore.DriverPostgres) {
		target = cfg.Database.DSN
	}
	logger.Info("opening territory store", "driver", cfg.Database.Driver)
	repo, err := sqlstore.Open(cfg.Database.Driver, target)
	if err != nil {
		logger.Error("territory store open failed", "driver", cfg.Database.Driver, "err", err)
		return fmt.Errorf("open territory store: %w", err)
	}
	rt.repo = repo
	rt.closers = append(rt.closers, repo.Close)
	logger.Info("territory store ready", "driver", repo.Driver(), "migrations", "ensured")

	index, err := spatial.New(spatial.Kind(cfg.Conquest.Index))
	if err != nil {
		return fmt.Errorf("build spatial index: %w", err)
	}

	provider, err := rt.buildPolicy()
	if err != nil {
		return err
	}

	svcCfg, err := serviceConfig(cfg.Conquest)
	if err != nil {
		return err
	}
	rt.recorder = metrics.NewRecorder()
	rt.service = app.NewService(repo, index, provider, uuid.NewString, time.Now, svcCfg,
		app.WithLogger(logger),
		app.WithMetrics(rt.recorder),
	)
	rt.adapter = common.NewAppServiceAdapter(rt.service)

	n, err := rt.service.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild spatial index: %w", err)
	}
	logger.Debug("spatial index loaded", "kind", cfg.Conquest.Index, "territories", n)
	return nil
}

// buildPolicy selects the event-mode provider named in config.
func (rt *runtimeEnv) buildPolicy() (app.PolicyProvider, error) {
	ev := rt.cfg.EventMode
	switch strings.TrimSpace(strings.ToLower(ev.Provider)) {
	case policy.KindStatic, "":
		return policy.Static{EventMode: ev.Enabled}, nil
	case policy.KindWindow:
		return policy.Window{StartsAt: ev.StartsAt, EndsAt: ev.EndsAt}, nil
	case policy.KindRedis:
		r, err := rt.openRedis()
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown event mode provider %q", ev.Provider)
	}
}

// openRedis dials the shared event-mode flag once per runtime.
func (rt *runtimeEnv) openRedis() (*policy.Redis, error) {
	if rt.redis != nil {
		return rt.redis, nil
	}
	rc := rt.cfg.EventMode.Redis
	r, err := policy.OpenRedis(rc.Addr, rc.Password, rc.DB, rc.Key)
	if err != nil {
		return nil, fmt.Errorf("open event mode redis: %w", err)
	}
	rt.redis = r
	rt.closers = append(rt.closers, r.Close)
	return r, nil
}

// Ready reports whether backing stores answer.
func (rt *runtimeEnv) Ready(ctx context.Context) error {
	if err := rt.repo.Ping(ctx); err != nil {
		return fmt.Errorf("territory store: %w", err)
	}
	if rt.redis != nil {
		if err := rt.redis.Ping(ctx); err != nil {
			return fmt.Errorf("event mode redis: %w", err)
		}
	}
	return nil
}

// Close releases adapters in reverse open order.
func (rt *runtimeEnv) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// serviceConfig maps conquest settings onto app thresholds.
func serviceConfig(c config.ConquestConfig) (app.ServiceConfig, error) {
	selfOverlap, err := app.ParseSelfOverlapPolicy(c.SelfOverlap)
	if err != nil {
		return app.ServiceConfig{}, err
	}
	return app.ServiceConfig{
		Sanitize: geometry.SanitizeOptions{
			ClosureTolerance: c.ClosureTolerance,
			DedupeEpsilon:    c.DedupeEpsilon,
			MinPoints:        c.MinPoints,
			MinDistance:      c.MinDistance,
			MinDuration:      c.MinDuration(),
		},
		Build: geometry.BuildOptions{
			MinArea:           c.MinArea,
			SimplifyTolerance: c.SimplifyTolerance,
			DedupeEpsilon:     c.DedupeEpsilon,
		},
		DestroyThreshold:   c.DestroyThreshold,
		OverlapEpsilon:     c.OverlapEpsilon,
		MaxConflictRetries: c.MaxConflictRetries,
		SelfOverlap:        selfOverlap,
	}, nil
}
