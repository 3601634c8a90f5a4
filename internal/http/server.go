// Package http exposes the generation pipeline over a REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/events"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/store"
)

// Runner executes one generation run.
type Runner interface {
	Run(ctx context.Context, in content.RunInput) (*content.RunArtifact, error)
}

// similarFinder is implemented by stores that support topic search.
type similarFinder interface {
	Similar(ctx context.Context, topic string, limit int) ([]*content.RunArtifact, error)
}

// Server provides HTTP endpoints for assessd.
type Server struct {
	echo     *echo.Echo
	runner   Runner
	store    store.Repository
	events   events.Publisher
	logger   *zap.Logger
	config   *Config
	limiters *ipLimiters
	metrics  *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is sustained POST /generate requests per second per client
	// IP. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// RunTimeout bounds a single POST /generate. Zero means no bound beyond
	// the client connection.
	RunTimeout time.Duration

	Version  string
	Provider string
}

// NewServer creates a new HTTP server.
func NewServer(runner Runner, repo store.Repository, pub events.Publisher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("64K"))
	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		runner:   runner,
		store:    repo,
		events:   pub,
		logger:   logger,
		config:   cfg,
		limiters: newIPLimiters(cfg.RateLimit, cfg.RateBurst),
		metrics:  metrics,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/generate", s.handleGenerate, s.rateLimit)
	s.echo.GET("/history", s.handleHistory)
	s.echo.GET("/artifact/:run_id", s.handleArtifact)
	s.echo.GET("/similar", s.handleSimilar)
	s.echo.GET("/stats", s.handleStats)
}

// Echo returns the underlying router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, ServiceInfo{
		Name:        "assessd",
		Version:     s.config.Version,
		Description: "Governed, auditable educational content pipeline",
		Provider:    s.config.Provider,
		Endpoints:   endpoints,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: s.config.Version})
}

// handleGenerate runs the pipeline, stores the artifact and announces it.
func (s *Server) handleGenerate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid generate request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	requester := requesterParam(c)

	ctx := c.Request().Context()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	art, err := s.runner.Run(ctx, content.RunInput{Grade: req.Grade, Topic: req.Topic, RequesterID: requester})
	if err != nil {
		if errors.Is(err, content.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		s.logger.Error("pipeline error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "pipeline error")
	}

	// Persist and publish even if the client went away mid-run.
	bg := context.WithoutCancel(ctx)
	if err := s.store.Save(bg, art); err != nil {
		s.logger.Error("failed to store artifact", zap.String("run_id", art.RunID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store artifact")
	}
	if err := s.events.Publish(bg, art); err != nil {
		s.logger.Warn("failed to publish run event", zap.String("run_id", art.RunID), zap.Error(err))
	}

	s.metrics.RecordOutcome(ctx, art)
	s.logger.Info("pipeline complete",
		zap.String("run_id", art.RunID),
		zap.String("status", string(art.Final.Status)),
	)
	return c.JSON(http.StatusOK, art)
}

func (s *Server) handleHistory(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var arts []*content.RunArtifact
	if user := requesterParam(c); user != "" {
		arts, err = s.store.ListByRequester(ctx, user, limit)
	} else {
		arts, err = s.store.ListRecent(ctx, limit)
	}
	if err != nil {
		s.logger.Error("history retrieval error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history retrieval failed")
	}
	if arts == nil {
		arts = []*content.RunArtifact{}
	}
	return c.JSON(http.StatusOK, arts)
}

func (s *Server) handleArtifact(c echo.Context) error {
	runID := c.Param("run_id")
	art, err := s.store.Get(c.Request().Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("artifact %s not found", runID))
	}
	if err != nil {
		s.logger.Error("artifact retrieval error", zap.String("run_id", runID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "artifact retrieval failed")
	}
	return c.JSON(http.StatusOK, art)
}

func (s *Server) handleSimilar(c echo.Context) error {
	finder, ok := s.store.(similarFinder)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "similarity search not supported by this store")
	}
	topic := strings.TrimSpace(c.QueryParam("topic"))
	if topic == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "topic is required")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}

	arts, err := finder.Similar(c.Request().Context(), topic, limit)
	if err != nil {
		s.logger.Error("similarity search error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "similarity search failed")
	}
	return c.JSON(http.StatusOK, arts)
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("stats error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "stats failed")
	}
	return c.JSON(http.StatusOK, st)
}

// requesterParam reads user_id, falling back to its requester_id alias.
func requesterParam(c echo.Context) string {
	if v := c.QueryParam("user_id"); v != "" {
		return v
	}
	return c.QueryParam("requester_id")
}

// parseLimit accepts an empty value (default) or an integer in 1..MaxLimit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return store.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > store.MaxLimit {
		return 0, echo.NewHTTPError(http.StatusUnprocessableEntity,
			fmt.Sprintf("limit must be an integer between 1 and %d", store.MaxLimit))
	}
	return n, nil
}

// rateLimit rejects clients that exceed their per-IP budget.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.limiters == nil {
			return next(c)
		}
		ip := c.RealIP()
		if !s.limiters.get(ip).Allow() {
			s.logger.Warn("rate limit exceeded", zap.String("ip", ip))
			s.metrics.RecordRateLimited(c.Request().Context())
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// ipLimiters hands out one token bucket per client IP. The map is reset
// hourly so it cannot grow without bound.
type ipLimiters struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

func newIPLimiters(perSecond float64, burst int) *ipLimiters {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiters{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > time.Hour {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// Start serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
