package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/domain"
)

func TestHeartbeatFiresUntilStopped(t *testing.T) {
	var fired atomic.Int32
	hb := NewHeartbeat(5*time.Millisecond, func() { fired.Add(1) }, zaptest.NewLogger(t))

	require.NoError(t, hb.Start())
	require.Eventually(t, func() bool { return fired.Load() >= 2 }, time.Second, time.Millisecond)

	hb.Stop()
	after := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fired.Load(), "no tick after Stop")
}

func TestHeartbeatStartsOnce(t *testing.T) {
	hb := NewHeartbeat(time.Hour, func() {}, zaptest.NewLogger(t))

	require.NoError(t, hb.Start())
	assert.ErrorIs(t, hb.Start(), domain.ErrHeartbeatRunning)

	hb.Stop()
	hb.Stop()
	assert.ErrorIs(t, hb.Start(), domain.ErrHeartbeatRunning)
}

func TestHeartbeatStopBeforeStart(t *testing.T) {
	var fired atomic.Int32
	hb := NewHeartbeat(time.Millisecond, func() { fired.Add(1) }, zaptest.NewLogger(t))

	hb.Stop()
	assert.ErrorIs(t, hb.Start(), domain.ErrHeartbeatRunning)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
