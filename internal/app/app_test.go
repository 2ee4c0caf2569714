package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/relay"
	"github.com/wordassist/docedit-proxy/internal/server"
)

func TestRelaySettings(t *testing.T) {
	cfg := config.Default()
	cfg.Upstream.DefaultModel = "local-model"
	cfg.Relay.ProgressInterval = 2 * time.Second
	cfg.Relay.StartMessage = "working"

	s := RelaySettings(cfg)
	assert.Equal(t, cfg.Upstream.DefaultAPIURL, s.DefaultURL)
	assert.Equal(t, "local-model", s.DefaultModel)
	assert.Equal(t, 2*time.Second, s.ProgressInterval)
	assert.Equal(t, "working", s.StartMessage)
	require.NotNil(t, s.Prompt)
	assert.Equal(t, cfg.Relay.DocumentPreviewLimit, s.Prompt.PreviewLimit)
	require.NotNil(t, s.Fallback)
}

func TestUpstreamConfig(t *testing.T) {
	cfg := config.Default()
	u := UpstreamConfig(cfg.Upstream)
	assert.Equal(t, cfg.Upstream.ReadTimeout, u.ReadTimeout)
	assert.Equal(t, cfg.Upstream.MaxTokens, u.MaxTokens)
	assert.Equal(t, cfg.Upstream.MaxEventSize, u.MaxEventSize)
}

func TestNewServer_EndToEnd(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"{\"message\":\"ok\","}}]}`,
			`{"choices":[{"delta":{"content":"\"edits\":[]}"}}]}`,
		}
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstreamSrv.Close()

	cfg := config.Default()
	cfg.Upstream.DefaultAPIURL = upstreamSrv.URL
	r, _ := NewRelay(cfg, upstreamSrv.Client(), zerolog.Nop())
	s := NewServer(cfg, r, zerolog.Nop(), server.Options{})

	body := `{"user_request":"tidy up","document_content":"text","api_key":"sk-test"}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body)))

	out := rec.Body.String()
	assert.Contains(t, out, `"type":"start"`)
	assert.Contains(t, out, `{"type":"result","data":{"message":"ok","edits":[]}}`)
}

func TestReloader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstream:\n  default_model: first\n"), 0o644))

	store := relay.NewSettingsStore(relay.Settings{DefaultModel: "initial"})
	r := NewReloader(path, store, zerolog.Nop())

	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, "first", store.Load().DefaultModel)

	require.NoError(t, os.WriteFile(path, []byte("upstream:\n  default_model: [broken\n"), 0o644))
	assert.Error(t, r.Reload(context.Background()))
	assert.Equal(t, "first", store.Load().DefaultModel)

	r.load = func(string) (*config.Config, error) { return nil, errors.New("boom") }
	err := r.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Reload(ctx), context.Canceled)
}
