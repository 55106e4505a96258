// Command server runs the creditfence HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/KanavDutta/creditfence/api"
	"github.com/KanavDutta/creditfence/events"
	"github.com/KanavDutta/creditfence/internal/config"
	"github.com/KanavDutta/creditfence/internal/logger"
	"github.com/KanavDutta/creditfence/metrics"
	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

// CLI is the command line of the server binary.
type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"1" help:"Start the rate limiting service."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and exit."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config  string `short:"c" help:"Path to YAML config file." type:"path"`
	EnvFile string `name:"env-file" help:"Path to .env file (ignored if missing)." default:".env"`
}

func (c *CLI) load() (*config.Config, error) {
	return config.Load(c.Config, c.EnvFile)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("creditfence %s\n", version)
	return nil
}

// ValidateCmd loads the configuration and reports problems.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	d := cfg.Limiter.Defaults
	fmt.Printf("configuration OK: %d requests + %d credits per %ds, %d route policies\n",
		d.MaxRequests, d.MaxCredits, d.WindowSeconds, len(cfg.Limiter.Policies))
	return nil
}

// ServeCmd starts the HTTP service.
type ServeCmd struct {
	Addr     string `help:"Listen address (overrides config)."`
	LogLevel string `name:"log-level" help:"Log level: debug, info, warn or error (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	log, closer, err := logger.Setup(cfg.Logging, version)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New()
	limiterOpts := []creditfence.Option{
		creditfence.WithLogger(log),
		creditfence.WithObserver(m),
	}
	if cfg.Limiter.Shards > 0 {
		limiterOpts = append(limiterOpts, creditfence.WithShards(cfg.Limiter.Shards))
	}

	var (
		sink      *events.RedisSink
		publisher *events.Publisher
	)
	if cfg.Redis.Enabled() {
		sink = events.NewRedisSink(events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
		defer sink.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sink.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("publishing events to Redis", "addr", cfg.Redis.Addr, "stream", sink.Stream(), "denied_only", cfg.Redis.DeniedOnly)

		publisher = events.NewPublisher(sink,
			events.WithDeniedOnly(cfg.Redis.DeniedOnly),
			events.WithPublisherLogger(log),
		)
		limiterOpts = append(limiterOpts, creditfence.WithObserver(publisher))
	}

	d := cfg.Limiter.Defaults
	limiter, err := creditfence.NewRateLimiter(d.MaxRequests, d.WindowSeconds, d.MaxCredits, limiterOpts...)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	defer limiter.Close()

	fence, err := creditfence.NewFence(&cfg.Limiter,
		creditfence.WithRequestLogger(log),
		creditfence.WithLimiterOptions(limiterOpts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create fence: %w", err)
	}
	defer fence.Close()

	routes := api.RouterConfig{
		Limiter: limiter,
		Fence:   fence,
		Stats:   m,
		Metrics: m.Handler(),
		Version: version,
		Logger:  log,
	}
	if sink != nil {
		routes.Events = sink
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(routes),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The publisher outlives the listener so decisions made while draining
	// connections still reach the stream.
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr,
			"max_requests", d.MaxRequests,
			"window_seconds", d.WindowSeconds,
			"max_credits", d.MaxCredits,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopPublisher()

		log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if publisher != nil {
		g.Go(func() error {
			err := publisher.Run(pubCtx)
			log.Info("event publisher stopped",
				"published", publisher.Published(),
				"dropped", publisher.Dropped(),
				"failed", publisher.Failed(),
			)
			return err
		})
	}

	return g.Wait()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("creditfence"),
		kong.Description("Per-identity rate limiting service with a count+credit fixed window."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
