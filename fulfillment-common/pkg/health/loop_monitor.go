package health

import (
	"sync/atomic"
	"time"
)

// LoopMonitor tracks whether a stream consumer loop is still turning.
type LoopMonitor struct {
	lastTick atomic.Int64
	lastErr  atomic.Value // string
}

func (m *LoopMonitor) Tick() {
	m.lastTick.Store(time.Now().UnixNano())
}

func (m *LoopMonitor) SetError(err error) {
	if err != nil {
		m.lastErr.Store(err.Error())
	}
}

func (m *LoopMonitor) LastError() string {
	s, _ := m.lastErr.Load().(string)
	return s
}

// Healthy reports whether the loop ticked within maxAge (10s when unset).
// A loop that never ticked is unhealthy.
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastTick.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	t := time.Unix(0, last)
	if now.Before(t) {
		return true, 0, lastErr
	}
	age = now.Sub(t)
	return age <= maxAge, age, lastErr
}
