package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/scaleout/pkg/ports"
)

// Membership is an in-process cluster view shared by every member
// created from the same Cluster.
type Membership struct {
	cluster *Cluster

	mu     sync.Mutex
	member string
	subID  int
}

// Cluster holds the members and subscribers of one in-process cluster
type Cluster struct {
	mu      sync.Mutex
	members map[string]string
	subs    map[int]func(ports.MemberEvent)
	nextID  int
}

// NewCluster creates an empty cluster
func NewCluster() *Cluster {
	return &Cluster{
		members: make(map[string]string),
		subs:    make(map[int]func(ports.MemberEvent)),
	}
}

// Member returns a membership handle bound to this cluster
func (c *Cluster) Member() *Membership {
	return &Membership{cluster: c}
}

// Members returns member name to endpoint
func (c *Cluster) Members() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.members))
	for k, v := range c.members {
		out[k] = v
	}
	return out
}

func (c *Cluster) emit(ev ports.MemberEvent) {
	c.mu.Lock()
	fns := make([]func(ports.MemberEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Membership) Join(_ context.Context, endpoint, member string) error {
	m.mu.Lock()
	m.member = member
	m.mu.Unlock()

	m.cluster.mu.Lock()
	m.cluster.members[member] = endpoint
	m.cluster.mu.Unlock()

	m.cluster.emit(ports.MemberEvent{Type: ports.MemberUp, Member: member, Endpoint: endpoint, Timestamp: time.Now()})
	return nil
}

func (m *Membership) Subscribe(_ context.Context, fn func(ports.MemberEvent)) error {
	m.cluster.mu.Lock()
	m.cluster.nextID++
	id := m.cluster.nextID
	m.cluster.subs[id] = fn
	m.cluster.mu.Unlock()

	m.mu.Lock()
	m.subID = id
	m.mu.Unlock()
	return nil
}

func (m *Membership) Unsubscribe(context.Context) error {
	m.mu.Lock()
	id := m.subID
	m.subID = 0
	m.mu.Unlock()

	m.cluster.mu.Lock()
	delete(m.cluster.subs, id)
	m.cluster.mu.Unlock()
	return nil
}

func (m *Membership) Leave(context.Context) error {
	m.mu.Lock()
	member := m.member
	m.member = ""
	m.mu.Unlock()
	if member == "" {
		return nil
	}

	m.cluster.mu.Lock()
	endpoint := m.cluster.members[member]
	delete(m.cluster.members, member)
	m.cluster.mu.Unlock()

	m.cluster.emit(ports.MemberEvent{Type: ports.MemberRemoved, Member: member, Endpoint: endpoint, Timestamp: time.Now()})
	return nil
}
