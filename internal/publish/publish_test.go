package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/basho/internal/config"
	"github.com/hyperjump/basho/internal/models"
)

func startTestNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSPublisher(t *testing.T) {
	srv := startTestNATS(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("basho.test", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p, err := NewNATSPublisher(srv.ClientURL(), "basho.test")
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "basho.test", p.Subject())

	rec := models.LocationRecord{SceneID: "s1", Title: "Bridge", Latitude: 1.5, Longitude: 2.5, Distance: 0.2, FrameIndex: 30}
	require.NoError(t, p.Publish(context.Background(), rec))

	select {
	case msg := <-ch:
		var got models.LocationRecord
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, rec, got)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNATSPublisherConn_doesNotCloseSharedConn(t *testing.T) {
	srv := startTestNATS(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisherConn(nc, "x")
	require.NoError(t, p.Close())
	assert.True(t, nc.IsConnected())
}

func TestNew(t *testing.T) {
	_, ok := New(config.PublishConfig{}, nil).(Nop)
	assert.True(t, ok, "empty url gives Nop")

	_, ok = New(config.PublishConfig{NATSURL: "nats://127.0.0.1:1", Subject: "x"}, nil).(Nop)
	assert.True(t, ok, "unreachable server gives Nop")

	srv := startTestNATS(t)
	p := New(config.PublishConfig{NATSURL: srv.ClientURL(), Subject: "x"}, nil)
	defer p.Close()
	_, ok = p.(*NATSPublisher)
	assert.True(t, ok)
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	assert.Equal(t, "", c.Get("traceparent"))
	assert.Nil(t, c.Keys())
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}
