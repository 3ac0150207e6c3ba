package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/adapters/events/memory"
	"github.com/aescanero/scaleout/pkg/domain"
)

func newStreamServer(t *testing.T, bus *memory.Bus, topics ...string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ws", NewHandler(bus, topics, zaptest.NewLogger(t)).HandleStream)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) domain.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandleStreamForwardsTopic(t *testing.T) {
	bus := memory.NewBus(zaptest.NewLogger(t))
	srv := newStreamServer(t, bus, domain.TopicBroadcast, "master")

	conn, _, err := dial(t, srv, "?topic="+domain.TopicBroadcast)
	require.NoError(t, err)
	defer conn.Close()

	ack := readMessage(t, conn)
	assert.Equal(t, domain.MessageKindSubscribeAck, ack.Kind)
	assert.Equal(t, domain.TopicBroadcast, ack.Topic)

	require.NoError(t, bus.Publish(context.Background(), "master", domain.Message{ID: "skip", Kind: domain.MessageKindAck}))
	require.NoError(t, bus.Publish(context.Background(), domain.TopicBroadcast, domain.Message{
		ID:   "m-1",
		Kind: domain.MessageKindJob,
		Job:  domain.NewJob("node-a-1", json.RawMessage(`{"n":1}`)),
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, domain.MessageKindJob, msg.Kind)
	require.NotNil(t, msg.Job)
	assert.Equal(t, "node-a-1", msg.Job.WorkerID)
}

func TestHandleStreamAllTopics(t *testing.T) {
	bus := memory.NewBus(zaptest.NewLogger(t))
	srv := newStreamServer(t, bus, domain.TopicBroadcast, "master")

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ack := readMessage(t, conn)
		require.Equal(t, domain.MessageKindSubscribeAck, ack.Kind)
		seen[ack.Topic] = true
	}
	assert.Equal(t, map[string]bool{domain.TopicBroadcast: true, "master": true}, seen)
}

func TestHandleStreamUnknownTopic(t *testing.T) {
	bus := memory.NewBus(zaptest.NewLogger(t))
	srv := newStreamServer(t, bus, domain.TopicBroadcast)

	_, resp, err := dial(t, srv, "?topic=other")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStreamReleasesSubscription(t *testing.T) {
	bus := memory.NewBus(zaptest.NewLogger(t))
	srv := newStreamServer(t, bus, domain.TopicBroadcast)

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	readMessage(t, conn)
	require.Equal(t, 1, bus.Subscribers(domain.TopicBroadcast))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return bus.Subscribers(domain.TopicBroadcast) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
