// internal/audit/source.go
package audit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"

	"github.com/ruxailab/accessiblity-testing-backend/internal/network"
)

// maxScriptBytes bounds the size of an axe-core bundle. The minified 4.x
// bundle is around 550KB.
const maxScriptBytes = 8 << 20

// ScriptSource supplies the axe-core bundle injected into audited pages.
type ScriptSource interface {
	Load(ctx context.Context) (string, error)
}

// FileSource reads the bundle from disk. A leading ~ is expanded.
type FileSource struct {
	Path string
}

func (f FileSource) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := homedir.Expand(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to expand axe-core path %q: %w", f.Path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read axe-core bundle: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("axe-core bundle %s is empty", path)
	}
	return string(data), nil
}

// HTTPSource downloads the bundle, typically from a CDN.
type HTTPSource struct {
	URL    string
	Client *network.Client
}

func (h HTTPSource) Load(ctx context.Context) (string, error) {
	client := h.Client
	if client == nil {
		client = network.NewClient(nil)
	}
	resp, err := client.GetContext(ctx, h.URL)
	if err != nil {
		return "", fmt.Errorf("failed to download axe-core bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download axe-core bundle: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read axe-core bundle: %w", err)
	}
	if len(data) > maxScriptBytes {
		return "", fmt.Errorf("axe-core bundle exceeds %d bytes", maxScriptBytes)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("axe-core bundle from %s is empty", h.URL)
	}
	return string(data), nil
}

// CachedSource loads once and serves the bundle from memory afterwards.
// Failed loads are not cached.
type CachedSource struct {
	next ScriptSource

	mu     sync.Mutex
	script string
}

// NewCachedSource wraps next.
func NewCachedSource(next ScriptSource) *CachedSource {
	return &CachedSource{next: next}
}

func (c *CachedSource) Load(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.script != "" {
		return c.script, nil
	}
	script, err := c.next.Load(ctx)
	if err != nil {
		return "", err
	}
	c.script = script
	return script, nil
}

// NewSource picks a source for location: an http(s) URL is downloaded with
// client, anything else is treated as a file path. The result is cached.
func NewSource(location string, client *network.Client) ScriptSource {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewCachedSource(HTTPSource{URL: location, Client: client})
	}
	return NewCachedSource(FileSource{Path: location})
}
