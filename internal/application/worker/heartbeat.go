package worker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Heartbeat fires a callback on a fixed period. It can be started once
// and stopped once; after Stop returns the callback never fires again.
type Heartbeat struct {
	interval time.Duration
	fire     func()
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHeartbeat creates a heartbeat that calls fire every interval
func NewHeartbeat(interval time.Duration, fire func(), logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		fire:     fire,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start schedules the heartbeat. The first tick fires one interval after
// Start.
func (h *Heartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started || h.stopped {
		return domain.ErrHeartbeatRunning
	}
	h.started = true

	go h.run()

	h.logger.Debug("heartbeat started", zap.Duration("interval", h.interval))
	return nil
}

// Stop cancels the heartbeat and waits for the loop to exit. Calling it
// more than once, or before Start, is a no-op.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.stopped = true
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stopCh)
	<-h.doneCh

	h.logger.Debug("heartbeat stopped")
}

// run is the ticker loop
func (h *Heartbeat) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			// Stop may have raced with the tick
			select {
			case <-h.stopCh:
				return
			default:
			}
			h.fire()
		}
	}
}
