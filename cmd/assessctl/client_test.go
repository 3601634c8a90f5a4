package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/capability"
	"github.com/fyrsmithlabs/assessd/internal/content"
	httpserver "github.com/fyrsmithlabs/assessd/internal/http"
	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/store"
)

// newTestAPI serves the real HTTP API over the stub provider and an
// in-memory store.
func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := store.NewChromemStore(store.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	srv, err := httpserver.NewServer(pipeline.New(capability.NewStub(), nil, nil), repo, nil, zap.NewNop(),
		&httpserver.Config{Version: "test", Provider: "stub"})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return ts
}

func TestAPIClient_RoundTrip(t *testing.T) {
	ts := newTestAPI(t)
	c := newAPIClient(ts.URL, 10*time.Second)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)

	art, err := c.Generate(ctx, 5, "Photosynthesis", "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, content.StatusApproved, art.Final.Status)
	assert.Equal(t, "teacher-1", art.RequesterID)

	got, err := c.Artifact(ctx, art.RunID)
	require.NoError(t, err)
	assert.Equal(t, art.RunID, got.RunID)

	hist, err := c.History(ctx, "teacher-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, art.RunID, hist[0].RunID)

	similar, err := c.Similar(ctx, "photosynthesis in plants", 3)
	require.NoError(t, err)
	assert.Len(t, similar, 1)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
}

func TestAPIClient_Errors(t *testing.T) {
	ts := newTestAPI(t)
	c := newAPIClient(ts.URL, 10*time.Second)
	ctx := context.Background()

	_, err := c.Generate(ctx, 0, "Photosynthesis", "")
	var se *statusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Contains(t, se.Message, "grade")

	_, err = c.Artifact(ctx, "missing-run")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)

	_, err = newAPIClient("http://127.0.0.1:1", time.Second).Health(ctx)
	assert.ErrorContains(t, err, "failed to send request")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "not found", errorMessage([]byte(`{"message":"not found"}`)))
	assert.Equal(t, "bad gateway", errorMessage([]byte("bad gateway\n")))
}

func TestCommands(t *testing.T) {
	ts := newTestAPI(t)

	run := func(t *testing.T, args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append([]string{"--server", ts.URL}, args...))
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	out := run(t, "generate", "--json", "-g", "4", "-u", "teacher-9", "Fractions")
	var art content.RunArtifact
	require.NoError(t, json.Unmarshal([]byte(out), &art))
	assert.Equal(t, content.StatusApproved, art.Final.Status)

	out = run(t, "get", "--json=false", art.RunID)
	assert.Contains(t, out, art.RunID)
	assert.Contains(t, out, "approved")

	out = run(t, "history", "--json=false", "-u", "teacher-9")
	assert.Contains(t, out, "Fractions")

	out = run(t, "stats", "--json=false")
	assert.Contains(t, out, "Approval rate")

	out = run(t, "health")
	assert.Contains(t, out, "Server Status: healthy")
}

func TestWatchRejectsUnknownStatus(t *testing.T) {
	rootCmd.SetArgs([]string{"watch", "--status", "pending"})
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "--status must be approved or rejected")
}
