package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

const masterTopic = "master"

// fakeTracker is an in-memory tracker that records every call
type fakeTracker struct {
	mu        sync.Mutex
	done      bool
	jobs      map[string]*domain.Job
	disabled  map[string]bool
	replicate map[string]bool
	workers   map[string]bool
	current   *domain.Job
	updates   []domain.Update
	calls     []string

	getCurrentErr error
	removeErr     error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		jobs:      make(map[string]*domain.Job),
		disabled:  make(map[string]bool),
		replicate: make(map[string]bool),
		workers:   make(map[string]bool),
	}
}

func (f *fakeTracker) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeTracker) AvailableForWork(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AvailableForWork")
	return nil
}

func (f *fakeTracker) AddWorker(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddWorker")
	f.workers[id] = true
	return nil
}

func (f *fakeTracker) RemoveWorker(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveWorker")
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.workers, id)
	return nil
}

func (f *fakeTracker) IsDone(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("IsDone")
	return f.done, nil
}

func (f *fakeTracker) NeedsReplicate(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("NeedsReplicate")
	return f.replicate[id], nil
}

func (f *fakeTracker) DoneReplicating(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DoneReplicating")
	delete(f.replicate, id)
	return nil
}

func (f *fakeTracker) JobFor(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("JobFor")
	return f.jobs[id].Clone(), nil
}

func (f *fakeTracker) WorkerEnabled(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WorkerEnabled")
	return !f.disabled[id], nil
}

func (f *fakeTracker) ClearJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ClearJob")
	delete(f.jobs, id)
	return nil
}

func (f *fakeTracker) UpdateJob(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateJob")
	f.jobs[job.WorkerID] = job.Clone()
	return nil
}

func (f *fakeTracker) GetCurrent(context.Context) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetCurrent")
	if f.getCurrentErr != nil {
		return nil, f.getCurrentErr
	}
	return f.current.Clone(), nil
}

func (f *fakeTracker) AddUpdate(_ context.Context, id string, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddUpdate")
	f.updates = append(f.updates, domain.Update{WorkerID: id, Job: job.Clone(), ReportedAt: time.Now()})
	return nil
}

func (f *fakeTracker) setJob(job *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.WorkerID] = job.Clone()
}

func (f *fakeTracker) job(id string) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Clone()
}

func (f *fakeTracker) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeTracker) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTracker) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeTracker) updateLog() []domain.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Update(nil), f.updates...)
}

// fakeBus records publishes and subscriptions without delivering
type fakeBus struct {
	mu         sync.Mutex
	published  []domain.Message
	subscribed []string
	onPublish  func(domain.Message)
}

func (b *fakeBus) Publish(_ context.Context, topic string, msg domain.Message) error {
	b.mu.Lock()
	b.published = append(b.published, msg)
	hook := b.onPublish
	b.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, topic string, _ ports.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, topic)
	return nil
}

func (b *fakeBus) Unsubscribe(context.Context, string) error { return nil }

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) messages(topic string, kind domain.MessageKind) []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Message
	for _, m := range b.published {
		if m.Topic == topic && m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribed...)
}

// countingPerformer counts executions and optionally runs fn
type countingPerformer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, job *domain.Job) error
}

func (p *countingPerformer) Perform(ctx context.Context, job *domain.Job) error {
	p.calls.Add(1)
	if p.fn != nil {
		return p.fn(ctx, job)
	}
	return nil
}

type fakeMembership struct {
	mu       sync.Mutex
	endpoint string
	member   string
	left     bool
}

func (m *fakeMembership) Join(_ context.Context, endpoint, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint, m.member = endpoint, member
	return nil
}

func (m *fakeMembership) Subscribe(context.Context, func(ports.MemberEvent)) error { return nil }

func (m *fakeMembership) Unsubscribe(context.Context) error { return nil }

func (m *fakeMembership) Leave(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = true
	return nil
}

type fixture struct {
	tracker   *fakeTracker
	bus       *fakeBus
	performer *countingPerformer
	member    *fakeMembership
	logs      *observer.ObservedLogs
	node      *Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		tracker:   newFakeTracker(),
		bus:       &fakeBus{},
		performer: &countingPerformer{},
		member:    &fakeMembership{},
		logs:      logs,
	}
	f.node = NewNode(Config{
		Host:              "node-a",
		MasterURL:         "etcd://master:2379",
		MasterTopic:       masterTopic,
		HeartbeatInterval: time.Hour,
	}, Deps{
		Tracker:    f.tracker,
		Bus:        f.bus,
		Performer:  f.performer,
		Membership: f.member,
		Logger:     zap.New(core),
	})
	return f
}
