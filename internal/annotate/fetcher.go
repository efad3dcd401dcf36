// internal/annotate/fetcher.go
package annotate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/network"
)

const defaultMaxStylesheetBytes = 5 << 20

// Fetcher downloads a page's external stylesheets one at a time.
type Fetcher struct {
	client   *network.Client
	limiter  *rate.Limiter
	cfg      config.FetchConfig
	maxBytes int64
	logger   *zap.Logger
}

// NewFetcher creates a fetcher. A nil client gets one built from cfg.
func NewFetcher(cfg config.FetchConfig, client *network.Client, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		clientCfg := network.NewDefaultClientConfig()
		clientCfg.UserAgent = cfg.UserAgent
		clientCfg.Logger = logger
		if cfg.Timeout > 0 {
			clientCfg.RequestTimeout = cfg.Timeout
		}
		client = network.NewClient(clientCfg)
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxStylesheetBytes
	}
	return &Fetcher{
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		maxBytes: maxBytes,
		logger:   logger.Named("stylesheets"),
	}
}

// FetchAll fetches urls in order, skipping duplicates, non-http(s) URLs and
// any stylesheet that fails to download. It stops early, returning what it
// has, when ctx is done.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Stylesheet {
	sheets := make([]Stylesheet, 0, len(urls))
	seen := make(map[string]bool, len(urls))

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true

		if err := f.limiter.Wait(ctx); err != nil {
			f.logger.Warn("Stopped fetching stylesheets.", zap.Error(err), zap.Int("fetched", len(sheets)))
			break
		}
		content, err := f.fetch(ctx, u)
		if err != nil {
			f.logger.Warn("Skipping stylesheet.", zap.String("url", u), zap.Error(err))
			continue
		}
		sheets = append(sheets, Stylesheet{URL: u, Content: content})
	}

	f.logger.Debug("Fetched stylesheets.", zap.Int("requested", len(urls)), zap.Int("fetched", len(sheets)))
	return sheets
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	resp, err := f.client.GetContext(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > f.maxBytes {
		return "", fmt.Errorf("stylesheet exceeds %d bytes", f.maxBytes)
	}
	return string(data), nil
}
