package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
)

// State is the supervisor lifecycle state
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

const (
	defaultMailboxSize     = 64
	defaultShutdownTimeout = 10 * time.Second
)

// SupervisorConfig configures a Supervisor
type SupervisorConfig struct {
	Policy          RestartPolicy
	MailboxSize     int
	ShutdownTimeout time.Duration
	// OnStateChange is called from the supervisor goroutine on every
	// transition
	OnStateChange func(State)
}

// Status is a point-in-time view of a supervised worker.
type Status struct {
	ID         domain.WorkerIdentity `json:"id"`
	State      State                 `json:"state"`
	Busy       bool                  `json:"busy"`
	CurrentJob *domain.Job           `json:"current_job,omitempty"`
	LastTick   time.Time             `json:"last_tick,omitempty"`
	Restarts   int64                 `json:"restarts"`
}

type envelope struct {
	msg  *domain.Message
	tick bool
}

// Supervisor owns a Node and runs every tick and message on a single
// goroutine. A failed turn is handled by the restart policy: the master
// is told to clear the worker and the node's state is reset.
type Supervisor struct {
	node            *Node
	policy          RestartPolicy
	logger          *zap.Logger
	shutdownTimeout time.Duration
	onState         func(State)

	mailbox     chan envelope
	tickPending atomic.Bool

	// messages posted while the node is starting, replayed before the
	// mailbox loop so Start never blocks on its own mailbox
	startMu  sync.Mutex
	starting bool
	backlog  []envelope

	state    atomic.Value
	restarts atomic.Int64
	failures int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSupervisor wraps a node.
func NewSupervisor(node *Node, cfg SupervisorConfig) *Supervisor {
	policy := cfg.Policy
	if policy == nil {
		policy = AlwaysRestart{}
	}
	size := cfg.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	s := &Supervisor{
		node:            node,
		policy:          policy,
		logger:          node.logger.Named("supervisor"),
		shutdownTimeout: timeout,
		onState:         cfg.OnStateChange,
		mailbox:         make(chan envelope, size),
		starting:        true,
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}
	s.state.Store(StateStarting)
	return s
}

// Node returns the supervised node
func (s *Supervisor) Node() *Node { return s.node }

// State returns the current lifecycle state
func (s *Supervisor) State() State { return s.state.Load().(State) }

// Restarts returns how many times the node has been restarted
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Status returns a snapshot of the supervised worker
func (s *Supervisor) Status() Status {
	return Status{
		ID:         s.node.ID(),
		State:      s.State(),
		Busy:       s.node.Busy(),
		CurrentJob: s.node.CurrentJob(),
		LastTick:   s.node.LastTick(),
		Restarts:   s.Restarts(),
	}
}

// Run starts the node and processes its mailbox until ctx is cancelled,
// Stop is called, a shutdown message arrives, or the policy gives up.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	if err := s.node.Start(ctx, s); err != nil {
		s.endStartup()
		s.shutdown(ctx)
		return fmt.Errorf("failed to start worker: %w", err)
	}
	s.setState(StateRunning)

	for _, env := range s.endStartup() {
		if err := s.process(ctx, env); err != nil {
			s.shutdown(ctx)
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown(ctx)
			return nil
		case <-s.stopCh:
			s.shutdown(ctx)
			return nil
		case env := <-s.mailbox:
			if err := s.process(ctx, env); err != nil {
				s.shutdown(ctx)
				return err
			}
		}
	}
}

// endStartup switches Post over to the mailbox and returns what was
// posted during Start, in order.
func (s *Supervisor) endStartup() []envelope {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	backlog := s.backlog
	s.backlog = nil
	s.starting = false
	return backlog
}

// process runs one turn. A non-nil error means the policy gave up.
func (s *Supervisor) process(ctx context.Context, env envelope) error {
	err := s.turn(ctx, env)
	if err == nil {
		s.failures = 0
		return nil
	}
	if !s.handleFailure(ctx, err) {
		return fmt.Errorf("worker gave up after %d failures: %w", s.failures, err)
	}
	return nil
}

// Post enqueues a message for the node. It implements Mailbox.
func (s *Supervisor) Post(ctx context.Context, msg domain.Message) error {
	select {
	case <-s.stopCh:
		return domain.ErrNotRunning
	case <-s.done:
		return domain.ErrNotRunning
	default:
	}

	s.startMu.Lock()
	if s.starting {
		s.backlog = append(s.backlog, envelope{msg: &msg})
		s.startMu.Unlock()
		return nil
	}
	s.startMu.Unlock()

	select {
	case s.mailbox <- envelope{msg: &msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return domain.ErrNotRunning
	case <-s.done:
		return domain.ErrNotRunning
	}
}

// PostTick enqueues a reconciliation tick. It never blocks: a tick
// already waiting in the mailbox absorbs later ones.
func (s *Supervisor) PostTick() {
	if !s.tickPending.CompareAndSwap(false, true) {
		return
	}
	select {
	case s.mailbox <- envelope{tick: true}:
	default:
		s.tickPending.Store(false)
		s.logger.Warn("mailbox full, dropping tick")
	}
}

// Deliver pushes a job to the node as if it arrived on the bus.
func (s *Supervisor) Deliver(ctx context.Context, job *domain.Job) error {
	return s.Post(ctx, domain.Message{
		ID:        uuid.New().String(),
		Kind:      domain.MessageKindJob,
		From:      "local",
		Topic:     s.node.ID(),
		Timestamp: time.Now(),
		Job:       job,
	})
}

// Stop requests an orderly shutdown. Use Done to wait for it.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once Run has returned
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) turn(ctx context.Context, env envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker turn: %v", r)
		}
	}()

	if env.tick {
		s.tickPending.Store(false)
		return s.node.Tick(ctx)
	}

	if env.msg.Kind == domain.MessageKindShutdown {
		s.logger.Info("shutdown requested", zap.String("from", env.msg.From))
		s.Stop()
		return nil
	}
	return s.node.Handle(ctx, *env.msg)
}

// handleFailure applies the restart policy. It returns false when the
// node must stop.
func (s *Supervisor) handleFailure(ctx context.Context, cause error) bool {
	s.failures++
	s.logger.Error("worker turn failed", zap.Error(cause), zap.Int("failures", s.failures))

	s.setState(StateRestarting)
	if err := s.node.publishClearWorker(ctx); err != nil {
		s.logger.Warn("failed to publish clear worker", zap.Error(err))
	}

	decision := s.policy.OnFailure(cause, s.failures)
	if decision.Directive == Stop {
		s.logger.Error("restart limit reached, stopping worker")
		return false
	}

	if decision.Delay > 0 {
		timer := time.NewTimer(decision.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-s.stopCh:
			timer.Stop()
			return false
		}
	}

	s.node.Reset()
	s.node.metrics.RecordRestart()
	s.restarts.Add(1)
	s.setState(StateRunning)

	s.logger.Info("worker restarted", zap.Duration("delay", decision.Delay))
	return true
}

func (s *Supervisor) shutdown(ctx context.Context) {
	s.setState(StateStopping)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	if err := s.node.Stop(sctx); err != nil {
		s.logger.Warn("worker stop failed", zap.Error(err))
	}
	s.setState(StateStopped)
}

func (s *Supervisor) setState(st State) {
	s.state.Store(st)
	if s.onState != nil {
		s.onState(st)
	}
}
