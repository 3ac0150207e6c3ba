package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/adapters/tracker/trackertest"
)

// etcdClient connects to ETCD_ENDPOINTS or skips the test
func etcdClient(t *testing.T) *clientv3.Client {
	t.Helper()

	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestTracker(t *testing.T) {
	cli := etcdClient(t)

	trackertest.Run(t, func(t *testing.T) trackertest.Tracker {
		prefix := "/scaleout-test/" + uuid.New().String() + "/"
		t.Cleanup(func() {
			cli.Delete(context.Background(), prefix, clientv3.WithPrefix())
		})
		return NewTracker(cli, prefix, zaptest.NewLogger(t))
	})
}

func TestKeys(t *testing.T) {
	tr := NewTracker(nil, "/custom", zaptest.NewLogger(t))

	assert.Equal(t, "/custom/jobs/w1", tr.key("jobs", "w1"))
	assert.Equal(t, "/custom/done", tr.key("done"))
	assert.Equal(t, DefaultPrefix+"current", NewTracker(nil, "", zaptest.NewLogger(t)).key("current"))
}
