package etcd

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/ports"
)

func TestJoinLeaveEvents(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer cli.Close()

	ctx := context.Background()
	prefix := "/scaleout-test/" + uuid.New().String() + "/"
	m := NewMembership(cli, prefix, 5, zaptest.NewLogger(t))

	var mu sync.Mutex
	var events []ports.MemberEvent
	require.NoError(t, m.Subscribe(ctx, func(ev ports.MemberEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	defer m.Unsubscribe(ctx)

	require.NoError(t, m.Join(ctx, "master:2551", "w1"))
	require.NoError(t, m.Leave(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ports.MemberUp, events[0].Type)
	assert.Equal(t, "w1", events[0].Member)
	assert.Equal(t, "master:2551", events[0].Endpoint)
	assert.Equal(t, ports.MemberRemoved, events[1].Type)
}

func TestNewMembershipDefaults(t *testing.T) {
	m := NewMembership(nil, "/x", 0, zaptest.NewLogger(t))
	assert.Equal(t, "/x/", m.prefix)
	assert.Equal(t, int64(DefaultTTL), m.ttl)
	assert.NoError(t, m.Leave(context.Background()))
	assert.NoError(t, m.Unsubscribe(context.Background()))
}
