// internal/audit/source_test.go
package audit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruxailab/accessiblity-testing-backend/internal/network"
)

func loopbackClient() *network.Client {
	cfg := network.NewDefaultClientConfig()
	cfg.AllowPrivateAddresses = true
	return network.NewClient(cfg)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "axe.min.js")
	require.NoError(t, os.WriteFile(path, []byte(fakeBundle), 0o600))

	script, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fakeBundle, script)

	_, err = FileSource{Path: filepath.Join(dir, "missing.js")}.Load(context.Background())
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.js")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = FileSource{Path: empty}.Load(context.Background())
	assert.ErrorContains(t, err, "is empty")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FileSource{Path: path}.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/axe.min.js":
			io.WriteString(w, fakeBundle)
		case "/empty.js":
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	client := loopbackClient()

	script, err := HTTPSource{URL: server.URL + "/axe.min.js", Client: client}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fakeBundle, script)

	_, err = HTTPSource{URL: server.URL + "/nope.js", Client: client}.Load(context.Background())
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = HTTPSource{URL: server.URL + "/empty.js", Client: client}.Load(context.Background())
	assert.ErrorContains(t, err, "is empty")
}

func TestCachedSource_CachesSuccessOnly(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, fakeBundle)
	}))
	defer server.Close()

	src := NewCachedSource(HTTPSource{URL: server.URL, Client: loopbackClient()})

	_, err := src.Load(context.Background())
	require.Error(t, err)

	fail.Store(false)
	for i := 0; i < 3; i++ {
		script, err := src.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fakeBundle, script)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewSource(t *testing.T) {
	src, ok := NewSource("https://cdn.example.com/axe.min.js", nil).(*CachedSource)
	require.True(t, ok)
	_, isHTTP := src.next.(HTTPSource)
	assert.True(t, isHTTP)

	src, ok = NewSource("~/axe.min.js", nil).(*CachedSource)
	require.True(t, ok)
	_, isFile := src.next.(FileSource)
	assert.True(t, isFile)
}

func TestCachedSource_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	inner := &staticSource{err: boom}
	src := NewCachedSource(inner)
	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, boom)
	_, _ = src.Load(context.Background())
	assert.Equal(t, 2, inner.calls)
}
