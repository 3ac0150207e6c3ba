package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

// DefaultHeartbeatInterval is the reconciliation period
const DefaultHeartbeatInterval = 30 * time.Second

// Mailbox receives the events a node produces for itself: inbound bus
// messages and heartbeat ticks. The Supervisor implements it.
type Mailbox interface {
	Post(ctx context.Context, msg domain.Message) error
	PostTick()
}

// Config holds worker node configuration
type Config struct {
	// ID is generated from Host when empty
	ID domain.WorkerIdentity
	Host              string
	MasterURL         string
	MasterTopic       string
	HeartbeatInterval time.Duration
	ExecutionTimeout  time.Duration
}

// Deps are the collaborators injected into a node. Membership and
// Metrics are optional.
type Deps struct {
	Tracker    ports.JobTracker
	Bus        ports.MessageBus
	Performer  ports.Performer
	Membership ports.Membership
	Metrics    ports.MetricsCollector
	Logger     *zap.Logger
}

// Node is a single worker. Its runtime state is mutated only from the
// supervisor's turn; busy is atomic because observers read it from
// other goroutines.
type Node struct {
	id          domain.WorkerIdentity
	host        string
	masterURL   string
	masterTopic string
	execTimeout time.Duration
	interval    time.Duration

	tracker    ports.JobTracker
	bus        ports.MessageBus
	performer  ports.Performer
	membership ports.Membership
	metrics    ports.MetricsCollector
	logger     *zap.Logger

	heartbeat *Heartbeat
	topics    []string
	startedAt time.Time

	currentJob *domain.Job
	busy       atomic.Bool

	// view mirrors currentJob for readers outside the turn
	view     atomic.Pointer[domain.Job]
	lastTick atomic.Int64
}

// NewNode creates a worker node with a fresh identity.
func NewNode(cfg Config, deps Deps) *Node {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	id := cfg.ID
	if id == "" {
		id = NewIdentity(host)
	}

	return &Node{
		id:          id,
		host:        host,
		masterURL:   cfg.MasterURL,
		masterTopic: cfg.MasterTopic,
		execTimeout: cfg.ExecutionTimeout,
		interval:    interval,
		tracker:     deps.Tracker,
		bus:         deps.Bus,
		performer:   deps.Performer,
		membership:  deps.Membership,
		metrics:     metrics,
		logger:      logger.With(zap.String("worker_id", id)),
	}
}

// ID returns the worker identity
func (n *Node) ID() domain.WorkerIdentity { return n.id }

// Busy reports whether a job is executing.
func (n *Node) Busy() bool { return n.busy.Load() }

// CurrentJob returns a copy of the cached job, or nil. Safe to call from
// any goroutine.
func (n *Node) CurrentJob() *domain.Job { return n.view.Load().Clone() }

// LastTick returns the time of the last reconciliation, or zero.
func (n *Node) LastTick() time.Time {
	ts := n.lastTick.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// Snapshot returns the state announced to the cluster on registration.
func (n *Node) Snapshot() domain.WorkerSnapshot {
	return domain.WorkerSnapshot{ID: n.id, Host: n.host, StartedAt: n.startedAt}
}

// Start registers the node and starts its heartbeat. Subscriptions live
// as long as ctx. Ordering: topics are subscribed before the snapshot is
// published, the tracker is told before membership is joined, and the
// heartbeat starts last.
func (n *Node) Start(ctx context.Context, mb Mailbox) error {
	n.startedAt = time.Now()

	handler := func(ctx context.Context, msg domain.Message) error {
		return mb.Post(ctx, msg)
	}
	for _, topic := range []string{domain.TopicBroadcast, domain.TopicShutdown, n.id} {
		if err := n.bus.Subscribe(ctx, topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		n.topics = append(n.topics, topic)
	}

	snapshot := n.Snapshot()
	if err := n.publish(ctx, n.masterTopic, domain.Message{
		Kind:     domain.MessageKindRegister,
		Snapshot: &snapshot,
		WorkerID: n.id,
	}); err != nil {
		return fmt.Errorf("failed to register with master: %w", err)
	}

	if err := n.tracker.AvailableForWork(ctx, n.id); err != nil {
		return fmt.Errorf("failed to mark worker available: %w", err)
	}
	if err := n.tracker.AddWorker(ctx, n.id); err != nil {
		return fmt.Errorf("failed to add worker: %w", err)
	}

	if n.membership != nil {
		if err := n.membership.Subscribe(ctx, n.onMemberEvent); err != nil {
			return fmt.Errorf("failed to subscribe to membership: %w", err)
		}
		if err := n.membership.Join(ctx, n.masterURL, n.id); err != nil {
			return fmt.Errorf("failed to join cluster at %s: %w", n.masterURL, err)
		}
	}

	n.logger.Info("registered with master",
		zap.String("master_url", n.masterURL),
		zap.String("master_topic", n.masterTopic))

	n.heartbeat = NewHeartbeat(n.interval, mb.PostTick, n.logger)
	return n.heartbeat.Start()
}

// Stop cancels the heartbeat and deregisters the node. A tracker that is
// already shut down is not an error.
func (n *Node) Stop(ctx context.Context) error {
	if n.heartbeat != nil {
		n.heartbeat.Stop()
	}

	if err := n.publishClearWorker(ctx); err != nil {
		n.logger.Warn("failed to publish clear worker on stop", zap.Error(err))
	}

	if err := n.tracker.RemoveWorker(ctx, n.id); err != nil {
		if errors.Is(err, domain.ErrTrackerClosed) {
			n.logger.Info("tracker already shut down")
		} else {
			n.logger.Warn("failed to remove worker from tracker", zap.Error(err))
		}
	}

	if n.membership != nil {
		if err := n.membership.Unsubscribe(ctx); err != nil {
			n.logger.Warn("failed to unsubscribe from membership", zap.Error(err))
		}
		if err := n.membership.Leave(ctx); err != nil {
			n.logger.Warn("failed to leave cluster", zap.Error(err))
		}
	}

	for _, topic := range n.topics {
		if err := n.bus.Unsubscribe(ctx, topic); err != nil {
			n.logger.Warn("failed to unsubscribe",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
	n.topics = nil

	n.logger.Info("worker stopped")
	return nil
}

// Reset drops the in-memory state. The identity is kept.
func (n *Node) Reset() {
	n.setCurrentJob(nil)
	n.busy.Store(false)
	n.metrics.SetBusy(false)
}

func (n *Node) setCurrentJob(j *domain.Job) {
	n.currentJob = j
	n.view.Store(j.Clone())
}

func (n *Node) publishClearWorker(ctx context.Context) error {
	return n.publish(ctx, n.masterTopic, domain.Message{
		Kind:     domain.MessageKindClearWorker,
		WorkerID: n.id,
	})
}

func (n *Node) publish(ctx context.Context, topic string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.From = n.id
	msg.Topic = topic
	return n.bus.Publish(ctx, topic, msg)
}

func (n *Node) onMemberEvent(ev ports.MemberEvent) {
	n.logger.Debug("member event",
		zap.String("type", string(ev.Type)),
		zap.String("member", ev.Member),
		zap.String("endpoint", ev.Endpoint))
}

type nopMetrics struct{}

func (nopMetrics) RecordTick() {}
func (nopMetrics) RecordJobExecuted(_ string, _ time.Duration) {}
func (nopMetrics) RecordStaleCleared() {}
func (nopMetrics) RecordReplication() {}
func (nopMetrics) RecordRestart() {}
func (nopMetrics) SetBusy(_ bool) {}
