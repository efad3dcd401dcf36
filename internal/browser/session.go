// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/visual"
)

const (
	defaultLaunchTimeout     = 30 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	defaultNetworkIdle       = 500 * time.Millisecond
	closeTimeout             = 10 * time.Second
)

// ErrSessionClosed is returned by page operations after Close or before Initialize.
var ErrSessionClosed = errors.New("browser session is not open")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PageMetrics are the dimensions measured right after a page has rendered.
type PageMetrics struct {
	Status         int64 `json:"status"`
	ScrollHeight   int   `json:"scrollHeight"`
	ScrollWidth    int   `json:"scrollWidth"`
	ViewportWidth  int   `json:"viewportWidth"`
	ViewportHeight int   `json:"viewportHeight"`
}

// Session owns exactly one Chromium process and one tab for the lifetime of
// a single scan. It is not safe to share between requests.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	launched    bool
	monitor     *networkMonitor
	closed      bool
	closeOnce   sync.Once
}

// NewSession prepares a session. Nothing is launched until Initialize.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		logger: logger.Named("browser").With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Initialize launches the renderer and opens the tab with the fixed viewport.
// Any failure is a BROWSER_FAILURE and leaves nothing running.
func (s *Session) Initialize(ctx context.Context) error {
	observability.Event(s.logger, zap.InfoLevel, "browser_init_start")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schemas.NewScanError(schemas.ErrBrowserFailure, "Failed to initialize browser", ErrSessionClosed)
	}
	if s.tabCtx != nil {
		s.mu.Unlock()
		return nil
	}

	// The process hangs off a detached context so an expired request deadline
	// cannot kill it before Close runs. The browser's first tab is the only
	// tab, so a single chromedp context owns both.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), allocatorOptions(s.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.logger.Sugar().Debugf))
	s.allocCancel = allocCancel
	s.tabCtx, s.tabCancel = tabCtx, tabCancel
	s.monitor = newNetworkMonitor(s.logger)
	s.monitor.listen(tabCtx)
	s.mu.Unlock()

	launchTimeout := s.cfg.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = defaultLaunchTimeout
	}

	// The first Run on a chromedp context allocates it and ties it to that
	// context's lifetime, so the launch deadline is enforced from outside.
	done := make(chan error, 1)
	go func() {
		if err := chromedp.Run(tabCtx); err != nil {
			done <- fmt.Errorf("failed to start browser: %w", err)
			return
		}
		s.mu.Lock()
		s.launched = true
		s.mu.Unlock()
		done <- chromedp.Run(tabCtx,
			network.Enable(),
			chromedp.EmulateViewport(int64(viewportWidth(s.cfg)), int64(viewportHeight(s.cfg))),
		)
	}()

	timer := time.NewTimer(launchTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("browser launch timed out after %s", launchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		observability.Event(s.logger, zap.ErrorLevel, "browser_init_failed", zap.Error(err))
		s.Close(ctx)
		return schemas.NewScanError(schemas.ErrBrowserFailure, "Failed to initialize browser", err)
	}

	observability.Event(s.logger, zap.InfoLevel, "browser_init_complete")
	return nil
}

// opContext binds the caller's deadline to the tab.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.tabCtx == nil {
		return nil, nil, ErrSessionClosed
	}
	opCtx, cancel := CombineContext(s.tabCtx, ctx)
	return opCtx, cancel, nil
}

// Render navigates to url, waits for the load event and then for network
// quiescence, all within the navigation timeout. A missing response or a
// status of 400 or above fails the render.
func (s *Session) Render(ctx context.Context, url string) (PageMetrics, error) {
	observability.Event(s.logger, zap.InfoLevel, "page_render_start", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	metrics, err := s.render(navCtx, url)
	if err != nil {
		observability.Event(s.logger, zap.ErrorLevel, "page_render_failed", zap.String("url", url), zap.Error(err))
		// An expired outer deadline is the orchestrator's to report.
		if ctx.Err() != nil {
			return PageMetrics{}, fmt.Errorf("render interrupted: %w", ctx.Err())
		}
		code := schemas.ClassifyMessage(err)
		if errors.Is(err, ErrSessionClosed) {
			code = schemas.ErrBrowserFailure
		} else if navCtx.Err() == context.DeadlineExceeded {
			code = schemas.ErrPageLoadTimeout
		}
		switch code {
		case schemas.ErrPageLoadTimeout:
			return PageMetrics{}, schemas.NewScanError(code,
				fmt.Sprintf("The page did not load within %d seconds", int(navTimeout.Seconds())), err)
		case schemas.ErrBrowserFailure:
			return PageMetrics{}, schemas.NewScanError(code, "Failed to load page: "+err.Error(), err)
		default:
			return PageMetrics{}, schemas.NewScanError(schemas.ErrPageLoadFailed, "Failed to load page: "+err.Error(), err)
		}
	}

	observability.Event(s.logger, zap.InfoLevel, "page_render_complete",
		zap.String("url", url),
		zap.Int64("status", metrics.Status),
		zap.Int("scrollHeight", metrics.ScrollHeight),
	)
	return metrics, nil
}

const metricsScript = `({
	scrollHeight: document.documentElement.scrollHeight,
	scrollWidth: document.documentElement.scrollWidth,
	viewportWidth: window.innerWidth,
	viewportHeight: window.innerHeight
})`

func (s *Session) render(ctx context.Context, url string) (PageMetrics, error) {
	opCtx, cancel, err := s.opContext(ctx)
	if err != nil {
		return PageMetrics{}, err
	}
	defer cancel()

	resp, err := chromedp.RunResponse(opCtx, chromedp.Navigate(url))
	if err != nil {
		return PageMetrics{}, err
	}
	if resp == nil {
		return PageMetrics{}, errors.New("no response received from page")
	}
	if resp.Status >= 400 {
		return PageMetrics{}, fmt.Errorf("page returned HTTP %d", resp.Status)
	}

	idle := s.cfg.NetworkIdle
	if idle <= 0 {
		idle = defaultNetworkIdle
	}
	if err := s.monitor.WaitIdle(opCtx, idle); err != nil {
		return PageMetrics{}, fmt.Errorf("waiting for network idle: %w", err)
	}

	metrics := PageMetrics{Status: resp.Status}
	if err := chromedp.Run(opCtx, chromedp.Evaluate(metricsScript, &metrics)); err != nil {
		return PageMetrics{}, fmt.Errorf("measuring page: %w", err)
	}
	metrics.Status = resp.Status
	return metrics, nil
}

// Evaluate runs script in the page and decodes its result into res. Promises
// are awaited.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	opCtx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(opCtx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

const contentScript = `(document.doctype ? new XMLSerializer().serializeToString(document.doctype) : '') + document.documentElement.outerHTML`

// Content returns the serialized DOM of the rendered page, doctype included.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.Evaluate(ctx, contentScript, &html); err != nil {
		return "", fmt.Errorf("capturing page content: %w", err)
	}
	return html, nil
}

// Title returns document.title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.Evaluate(ctx, `document.title`, &title); err != nil {
		return "", fmt.Errorf("reading document title: %w", err)
	}
	return title, nil
}

const stylesheetsScript = `Array.from(document.querySelectorAll('link[rel="stylesheet"][href]')).map(l => l.href).filter(Boolean)`

// Stylesheets lists the absolute URLs of the page's linked stylesheets in
// document order.
func (s *Session) Stylesheets(ctx context.Context) ([]string, error) {
	var hrefs []string
	if err := s.Evaluate(ctx, stylesheetsScript, &hrefs); err != nil {
		return nil, fmt.Errorf("listing stylesheets: %w", err)
	}
	return hrefs, nil
}

// boundingBoxScript measures the first element matching a selector in
// document coordinates. Elements without client rects or with a zero-area
// box have no layout box.
const boundingBoxScript = `((selector) => {
	let el;
	try { el = document.querySelector(selector); } catch (e) { return { found: false }; }
	if (!el || el.getClientRects().length === 0) return { found: false };
	const r = el.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return { found: false };
	return { found: true, x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height };
})(%s)`

type rawBox struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundingBox implements visual.BoxLocator. Lookup errors are logged at
// debug level and reported as a miss.
func (s *Session) BoundingBox(ctx context.Context, selector string) visual.BoxResult {
	arg, err := json.Marshal(selector)
	if err != nil {
		return visual.Missing
	}
	var box rawBox
	if err := s.Evaluate(ctx, fmt.Sprintf(boundingBoxScript, arg), &box); err != nil {
		s.logger.Debug("Bounding box lookup failed.", zap.String("selector", selector), zap.Error(err))
		return visual.Missing
	}
	return toBoxResult(box)
}

func toBoxResult(box rawBox) visual.BoxResult {
	if !box.Found || box.Width <= 0 || box.Height <= 0 {
		return visual.Missing
	}
	return visual.BoxResult{
		Found: true,
		Box: schemas.BoundingBox{
			X:      int(math.Round(box.X)),
			Y:      int(math.Round(box.Y)),
			Width:  int(math.Round(box.Width)),
			Height: int(math.Round(box.Height)),
		},
	}
}

// Closed reports whether Close has released the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the tab and the browser, then stops the process. It never
// fails; problems are logged as warnings. Calling it again is a no-op.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		observability.Event(s.logger, zap.InfoLevel, "cleanup_start")

		s.mu.Lock()
		s.closed = true
		tabCtx, tabCancel, launched := s.tabCtx, s.tabCancel, s.launched
		allocCancel := s.allocCancel
		s.mu.Unlock()

		cleanupCtx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()

		failed := false
		switch {
		case tabCtx == nil:
		case launched:
			// Cancel and the cancel func both wait on the same allocation
			// token, so only one of them may run.
			if err := cancelWithin(cleanupCtx, tabCtx); err != nil {
				failed = true
				s.logger.Warn("Failed to close browser.", zap.Error(err))
			}
		default:
			// The process never came up or is still starting; cancelling
			// kills it and waits for it to exit.
			tabCancel()
		}
		if allocCancel != nil {
			allocCancel()
		}

		if failed {
			observability.Event(s.logger, zap.WarnLevel, "cleanup_failed")
			return
		}
		observability.Event(s.logger, zap.InfoLevel, "cleanup_complete")
	})
}

// cancelWithin gracefully closes a chromedp context, giving up when
// cleanupCtx expires.
func cancelWithin(cleanupCtx, target context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(target) }()
	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-cleanupCtx.Done():
		return cleanupCtx.Err()
	}
}
