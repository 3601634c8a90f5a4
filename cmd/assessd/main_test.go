package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/capability"
	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/events"
	httpserver "github.com/fyrsmithlabs/assessd/internal/http"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/store"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

// countingPublisher counts Close calls.
type countingPublisher struct {
	events.Nop
	closed atomic.Int32
}

func (p *countingPublisher) Close() error {
	p.closed.Add(1)
	return nil
}

func newServeFixture(t *testing.T, port int) (*httpserver.Server, *dependencies, *countingPublisher) {
	t.Helper()
	repo, err := store.NewChromemStore(store.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	pub := &countingPublisher{}
	deps := &dependencies{orchestrator: pipeline.New(capability.NewStub(), nil, nil), store: repo, publisher: pub}

	srv, err := httpserver.NewServer(deps.orchestrator, deps.store, deps.publisher, zap.NewNop(),
		&httpserver.Config{Host: "127.0.0.1", Port: port, Version: "test", Provider: "stub"})
	require.NoError(t, err)
	return srv, deps, pub
}

func TestCapabilitySettings(t *testing.T) {
	s := capabilitySettings(config.CapabilityConfig{
		Provider:          "openai",
		Model:             "gpt-4o-mini",
		APIKey:            config.Secret("sk-test"),
		BaseURL:           "http://localhost:11434/v1",
		RequestsPerSecond: 3,
		Burst:             6,
	})
	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, "sk-test", s.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", s.OpenAI.Model)
	assert.Equal(t, 3.0, s.OpenAI.RequestsPerSecond)
	assert.Equal(t, 6, s.OpenAI.Burst)

	s = capabilitySettings(config.Default().Capability)
	assert.Zero(t, s.OpenAI.Burst, "unset burst defers to the provider default")
}

func TestInitDependencies(t *testing.T) {
	cfg := config.Default()
	tel, err := telemetry.New(context.Background(), telemetry.NewDefaultConfig())
	require.NoError(t, err)

	deps, err := initDependencies(cfg, logging.NewNop(), tel)
	require.NoError(t, err)
	defer deps.Close(zap.NewNop())

	art, err := deps.orchestrator.Run(context.Background(), content.RunInput{Grade: 5, Topic: "Photosynthesis"})
	require.NoError(t, err)
	assert.Equal(t, content.StatusApproved, art.Final.Status)
	require.NoError(t, deps.store.Save(context.Background(), art))
	require.NoError(t, deps.publisher.Publish(context.Background(), art))
}

func TestInitDependencies_UnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Capability.Provider = "bogus"

	_, err := initDependencies(cfg, logging.NewNop(), nil)
	assert.ErrorContains(t, err, "bogus")
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	t.Setenv("ASSESSD_SERVER_HTTP_PORT", "8094")
	t.Setenv("ASSESSD_SERVER_HOST", "127.0.0.1")
	t.Setenv("ASSESSD_LOGGING_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "")
	}()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://127.0.0.1:8094/health")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 50*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get("http://127.0.0.1:8094/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestServe_ReleasesDependenciesAfterShutdown(t *testing.T) {
	srv, deps, pub := newServeFixture(t, 8095)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, srv, deps, time.Second, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		r, err := http.Get("http://127.0.0.1:8095/health")
		if err != nil {
			return false
		}
		r.Body.Close()
		return true
	}, 2*time.Second, 50*time.Millisecond)
	assert.Zero(t, pub.closed.Load(), "dependencies stay open while serving")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return in time")
	}
	assert.Equal(t, int32(1), pub.closed.Load())

	deps.Close(zap.NewNop())
	assert.Equal(t, int32(1), pub.closed.Load(), "close is idempotent")
}

func TestServe_StartFailureStillReleasesDependencies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, deps, pub := newServeFixture(t, ln.Addr().(*net.TCPAddr).Port)

	err = serve(context.Background(), srv, deps, time.Second, zap.NewNop())
	assert.Error(t, err)
	assert.Equal(t, int32(1), pub.closed.Load())
}
