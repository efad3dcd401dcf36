// internal/browser/network_monitor.go
package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// idleInflightThreshold is the number of requests still allowed in flight
// while the network counts as quiet.
const idleInflightThreshold = 0

// networkMonitor tracks in-flight requests of one tab so Render can wait for
// network quiescence after the load event.
type networkMonitor struct {
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	failed   int
}

func newNetworkMonitor(logger *zap.Logger) *networkMonitor {
	return &networkMonitor{
		logger:   logger.Named("network"),
		inflight: make(map[network.RequestID]struct{}),
	}
}

// listen subscribes to the tab's network events. The listener is removed
// when ctx is canceled.
func (m *networkMonitor) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, m.handleEvent)
}

func (m *networkMonitor) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		if ev.Request != nil && strings.HasPrefix(ev.Request.URL, "data:") {
			return
		}
		m.mu.Lock()
		// Redirects reuse the request id.
		m.inflight[ev.RequestID] = struct{}{}
		m.mu.Unlock()
	case *network.EventLoadingFinished:
		m.done(ev.RequestID)
	case *network.EventLoadingFailed:
		m.mu.Lock()
		if _, ok := m.inflight[ev.RequestID]; ok {
			m.failed++
		}
		m.mu.Unlock()
		m.done(ev.RequestID)
	}
}

func (m *networkMonitor) done(id network.RequestID) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

func (m *networkMonitor) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *networkMonitor) failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// WaitIdle blocks until no more than idleInflightThreshold requests have been
// in flight for quietPeriod, or ctx is done.
func (m *networkMonitor) WaitIdle(ctx context.Context, quietPeriod time.Duration) error {
	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	isIdle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	check := func() {
		if m.active() > idleInflightThreshold {
			if isIdle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			}
			return
		}
		if !isIdle {
			timer.Reset(quietPeriod)
			isIdle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		case <-timer.C:
			m.logger.Debug("Network is idle.", zap.Int("inflight", m.active()), zap.Int("failed", m.failures()))
			return nil
		}
	}
}
