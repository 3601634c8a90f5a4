// Assessd is the governed content-generation daemon.
//
// It serves the HTTP API, runs every request through the generate, review,
// refine and tag pipeline, stores finalized artifacts and publishes run
// events to NATS when configured.
//
// Configuration is read from ~/.config/assessd/config.yaml and ASSESSD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults (stub provider, in-memory store)
//	assessd
//
//	# Use OpenAI and a persistent store
//	ASSESSD_CAPABILITY_PROVIDER=openai ASSESSD_CAPABILITY_API_KEY=sk-... \
//	ASSESSD_STORE_PATH=~/.local/share/assessd assessd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/assessd/internal/capability"
	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/events"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	httpserver "github.com/fyrsmithlabs/assessd/internal/http"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/schema"
	"github.com/fyrsmithlabs/assessd/internal/store"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/assessd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  assessd           Start the assessd daemon\n")
			fmt.Fprintf(os.Stderr, "  assessd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("assessd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	if h := tel.Health(); h.Degraded {
		zl.Warn("telemetry degraded", zap.String("reason", h.Reason))
	}

	zl.Info("Starting assessd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("provider", cfg.Capability.Provider),
		zap.Bool("persistent_store", cfg.Store.Path != ""),
		zap.Bool("events", cfg.Events.NATSURL != ""),
	)

	deps, err := initDependencies(cfg, logger, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(zl)

	srv, err := httpserver.NewServer(deps.orchestrator, deps.store, deps.publisher, zl, &httpserver.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		RateLimit:  cfg.Server.RateLimit,
		RateBurst:  cfg.Server.RateBurst,
		RunTimeout: cfg.Pipeline.RunTimeout.Duration(),
		Version:    version,
		Provider:   cfg.Capability.Provider,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	zl.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	return serve(ctx, srv, deps, cfg.Server.ShutdownTimeout.Duration(), zl)
}

// serve runs the HTTP server until ctx ends, then releases deps once the
// server has drained so in-flight runs can still store and publish.
func serve(ctx context.Context, srv *httpserver.Server, deps *dependencies, shutdownTimeout time.Duration, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})

	g.Go(func() error {
		defer close(stopped)
		return srv.Start(gctx, shutdownTimeout)
	})
	g.Go(func() error {
		<-stopped
		logger.Info("releasing dependencies")
		deps.Close(logger)
		return nil
	})
	return g.Wait()
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, global.GetLoggerProvider())
}

// dependencies holds the long-lived components behind the HTTP server.
type dependencies struct {
	orchestrator *pipeline.Orchestrator
	store        *store.ChromemStore
	publisher    events.Publisher

	closeOnce sync.Once
}

func initDependencies(cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (*dependencies, error) {
	zl := logger.Underlying()

	ports, err := capability.New(capabilitySettings(cfg.Capability), zl.Named("capability"))
	if err != nil {
		return nil, err
	}

	orch := pipeline.New(ports,
		schema.NewValidator(cfg.Schema),
		gate.NewEvaluator(gate.DefaultThresholds()),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithPortTimeout(cfg.Pipeline.PortTimeout.Duration()),
		pipeline.WithMetrics(pipeline.NewMetrics()),
		pipeline.WithTelemetry(tel.Tracer("assessd/pipeline"), tel.Meter("assessd/pipeline")),
	)

	repo, err := store.NewChromemStore(store.ChromemConfig{
		Path:       cfg.Store.Path,
		Compress:   cfg.Store.Compress,
		Collection: cfg.Store.Collection,
	}, zl.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("opening artifact store: %w", err)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		p, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, zl.Named("events"))
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		pub = p
	}

	return &dependencies{orchestrator: orch, store: repo, publisher: pub}, nil
}

func capabilitySettings(c config.CapabilityConfig) capability.Settings {
	return capability.Settings{
		Provider:     c.Provider,
		ScriptedPath: c.ScriptedPath,
		OpenAI: capability.OpenAIConfig{
			APIKey:            c.APIKey.Value(),
			Model:             c.Model,
			BaseURL:           c.BaseURL,
			RequestsPerSecond: c.RequestsPerSecond,
			Burst:             c.Burst,
		},
	}
}

// Close releases dependencies in reverse order of creation. Calls after the
// first do nothing.
func (d *dependencies) Close(logger *zap.Logger) {
	d.closeOnce.Do(func() {
		if err := d.publisher.Close(); err != nil {
			logger.Warn("closing event publisher", zap.Error(err))
		}
		if err := d.store.Close(); err != nil {
			logger.Warn("closing artifact store", zap.Error(err))
		}
	})
}
