package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/assessd/internal/http"

// HTTPMetrics records request and generate-outcome metrics. Instruments
// that fail to register stay nil and are skipped.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter

	generateOutcomes metric.Int64Counter
	rateLimited      metric.Int64Counter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"assessd.http.requests_total",
		metric.WithDescription("Total HTTP requests by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	m.warn("requests counter", err)

	m.requestDur, err = m.meter.Float64Histogram(
		"assessd.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds. POST /generate spans a full pipeline run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0),
	)
	m.warn("duration histogram", err)

	// Artifacts run to a few KB per attempt.
	m.responseSize, err = m.meter.Int64Histogram(
		"assessd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144, 1048576),
	)
	m.warn("response size histogram", err)

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"assessd.http.active_requests",
		metric.WithDescription("Number of in-progress HTTP requests."),
		metric.WithUnit("{request}"),
	)
	m.warn("active requests gauge", err)

	m.generateOutcomes, err = m.meter.Int64Counter(
		"assessd.http.generate_outcomes_total",
		metric.WithDescription("Finalized runs returned by POST /generate by status and reason code."),
		metric.WithUnit("{run}"),
	)
	m.warn("generate outcomes counter", err)

	m.rateLimited, err = m.meter.Int64Counter(
		"assessd.http.rate_limited_total",
		metric.WithDescription("POST /generate requests rejected by the per-client limiter."),
		metric.WithUnit("{request}"),
	)
	m.warn("rate limited counter", err)
}

func (m *HTTPMetrics) warn(instrument string, err error) {
	if err != nil {
		m.logger.Warn("failed to create "+instrument, zap.Error(err))
	}
}

// RecordOutcome counts one finalized run served over HTTP.
func (m *HTTPMetrics) RecordOutcome(ctx context.Context, art *content.RunArtifact) {
	if m == nil || m.generateOutcomes == nil || art == nil {
		return
	}
	m.generateOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(art.Final.Status)),
		attribute.String("reason", content.ReasonCode(art.Final.RejectionReason)),
	))
}

// RecordRateLimited counts one request turned away with 429.
func (m *HTTPMetrics) RecordRateLimited(ctx context.Context) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.Add(ctx, 1)
}

// MetricsMiddleware returns an Echo middleware that records request metrics.
// It must run outside the error-handling middleware so the committed status
// is observed.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// normalizePath returns the route pattern used as the endpoint label.
// c.Path() already yields patterns such as /artifact/:run_id, so run ids
// never become label values. Unrouted requests share one label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
