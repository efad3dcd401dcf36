// internal/browser/network_monitor_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func requestSent(id, url string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{URL: url},
	}
}

func TestNetworkMonitor_Tracking(t *testing.T) {
	m := newNetworkMonitor(zaptest.NewLogger(t))

	m.handleEvent(requestSent("1", "https://example.com/"))
	m.handleEvent(requestSent("2", "https://example.com/app.css"))
	m.handleEvent(requestSent("1", "https://example.com/redirected"))
	m.handleEvent(requestSent("3", "data:image/png;base64,AAAA"))
	assert.Equal(t, 2, m.active(), "redirects reuse ids and data URLs are ignored")

	m.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	m.handleEvent(&network.EventLoadingFailed{RequestID: "2", ErrorText: "net::ERR_ABORTED"})
	m.handleEvent(&network.EventLoadingFailed{RequestID: "unknown"})
	assert.Equal(t, 0, m.active())
	assert.Equal(t, 1, m.failures())
}

func TestNetworkMonitor_WaitIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("returns once quiet", func(t *testing.T) {
		m := newNetworkMonitor(zaptest.NewLogger(t))
		m.handleEvent(requestSent("1", "https://example.com/slow"))

		go func() {
			time.Sleep(150 * time.Millisecond)
			m.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		start := time.Now()
		require.NoError(t, m.WaitIdle(ctx, 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("already idle page waits only the quiet period", func(t *testing.T) {
		m := newNetworkMonitor(zaptest.NewLogger(t))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.WaitIdle(ctx, 20*time.Millisecond))
	})

	t.Run("busy page hits the deadline", func(t *testing.T) {
		m := newNetworkMonitor(zaptest.NewLogger(t))
		m.handleEvent(requestSent("poll", "https://example.com/long-poll"))

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		err := m.WaitIdle(ctx, 50*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
