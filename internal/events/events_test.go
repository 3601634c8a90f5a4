package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func rejectedArtifact() *content.RunArtifact {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	art := content.NewRunArtifact(content.RunInput{Grade: 7, Topic: "Chemical bonds", RequesterID: "teacher-9"}, start)
	art.Reject(content.ReasonGenerationFailed, nil, start.Add(time.Second))
	return art
}

func TestNATSPublisher_Publish(t *testing.T) {
	srv := startTestNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("assessd.runs.finalized.>", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := Connect(srv.ClientURL(), "assessd.runs.finalized", zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	art := rejectedArtifact()
	require.NoError(t, pub.Publish(context.Background(), art))

	select {
	case msg := <-msgs:
		assert.Equal(t, "assessd.runs.finalized.rejected", msg.Subject)
		assert.Equal(t, art.RunID, msg.Header.Get(nats.MsgIdHdr))

		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, art.RunID, ev.RunID)
		assert.Equal(t, "teacher-9", ev.RequesterID)
		assert.Equal(t, content.StatusRejected, ev.Status)
		assert.Equal(t, content.ReasonGenerationFailed, ev.RejectionReason)
		assert.Equal(t, 0, ev.Attempts)
		require.NotNil(t, ev.Artifact)
		assert.Equal(t, "Chemical bonds", ev.Artifact.Input.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestNATSPublisher_PublishCancelled(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewNATSPublisher(nc, "runs", nil).Publish(ctx, rejectedArtifact())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNATSPublisher_CloseLeavesSharedConnOpen(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	require.NoError(t, NewNATSPublisher(nc, "runs", nil).Close())
	assert.True(t, nc.IsConnected())
}

func TestSubscribe(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- Subscribe(ctx, nc, "runs.>", func(ev Event) {
			select {
			case got <- ev:
			default:
			}
		})
	}()

	pub := NewNATSPublisher(nc, "runs", nil)
	art := rejectedArtifact()
	require.Eventually(t, func() bool {
		_ = pub.Publish(context.Background(), art)
		select {
		case ev := <-got:
			return ev.RunID == art.RunID
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), rejectedArtifact()))
	assert.NoError(t, p.Close())
}
