package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/ports"
)

const (
	// DefaultPrefix is where member keys live
	DefaultPrefix = "/scaleout/members/"
	// DefaultTTL is the member lease TTL in seconds
	DefaultTTL = 10
)

type memberRecord struct {
	Endpoint string    `json:"endpoint"`
	JoinedAt time.Time `json:"joined_at"`
}

// Membership keeps a lease-backed key per member. The key disappears
// when the member leaves or stops renewing the lease, which watchers see
// as a removal.
type Membership struct {
	client *clientv3.Client
	prefix string
	ttl    int64
	logger *zap.Logger

	mu        sync.Mutex
	lease     clientv3.LeaseID
	stopKeep  context.CancelFunc
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewMembership creates an etcd membership. The caller owns the client.
func NewMembership(client *clientv3.Client, prefix string, ttl int64, logger *zap.Logger) *Membership {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Membership{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Join writes the member key under a lease and keeps the lease alive
// until Leave.
func (m *Membership) Join(ctx context.Context, endpoint, member string) error {
	grant, err := m.client.Grant(ctx, m.ttl)
	if err != nil {
		return fmt.Errorf("membership/etcd: grant lease: %w", err)
	}

	data, err := json.Marshal(memberRecord{Endpoint: endpoint, JoinedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("membership/etcd: marshal member: %w", err)
	}
	if _, err := m.client.Put(ctx, m.prefix+member, string(data), clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("membership/etcd: put member: %w", err)
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	ch, err := m.client.KeepAlive(keepCtx, grant.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("membership/etcd: keep alive: %w", err)
	}

	m.mu.Lock()
	m.lease = grant.ID
	m.stopKeep = cancel
	m.mu.Unlock()

	// the channel must be drained or the client logs a full queue
	go func() {
		for range ch {
		}
	}()

	m.logger.Info("joined cluster",
		zap.String("member", member),
		zap.String("endpoint", endpoint),
		zap.Int64("lease", int64(grant.ID)))
	return nil
}

// Subscribe watches the member prefix and calls fn for every change
func (m *Membership) Subscribe(_ context.Context, fn func(ports.MemberEvent)) error {
	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	if m.stopWatch != nil {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("membership/etcd: already subscribed")
	}
	m.stopWatch = cancel
	m.watchDone = done
	m.mu.Unlock()

	watchCh := m.client.Watch(clientv3.WithRequireLeader(watchCtx), m.prefix, clientv3.WithPrefix())

	go func() {
		defer close(done)
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				m.logger.Warn("membership watch error", zap.Error(err))
				continue
			}
			for _, ev := range resp.Events {
				fn(m.toEvent(ev))
			}
		}
	}()

	return nil
}

// Unsubscribe stops the watch
func (m *Membership) Unsubscribe(context.Context) error {
	m.mu.Lock()
	cancel, done := m.stopWatch, m.watchDone
	m.stopWatch, m.watchDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Leave revokes the member lease, deleting the member key
func (m *Membership) Leave(ctx context.Context) error {
	m.mu.Lock()
	lease, stop := m.lease, m.stopKeep
	m.lease, m.stopKeep = clientv3.NoLease, nil
	m.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()

	if _, err := m.client.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("membership/etcd: revoke lease: %w", err)
	}
	return nil
}

func (m *Membership) toEvent(ev *clientv3.Event) ports.MemberEvent {
	out := ports.MemberEvent{
		Member:    strings.TrimPrefix(string(ev.Kv.Key), m.prefix),
		Timestamp: time.Now(),
	}
	switch ev.Type {
	case clientv3.EventTypePut:
		out.Type = ports.MemberUp
		var rec memberRecord
		if err := json.Unmarshal(ev.Kv.Value, &rec); err == nil {
			out.Endpoint = rec.Endpoint
		}
	case clientv3.EventTypeDelete:
		out.Type = ports.MemberRemoved
	}
	return out
}
