package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/edits"
	"github.com/wordassist/docedit-proxy/internal/relay"
)

type fakeRunner struct {
	events []relay.Event
	got    chan relay.Request
}

func newFakeRunner(events ...relay.Event) *fakeRunner {
	return &fakeRunner{events: events, got: make(chan relay.Request, 1)}
}

func (f *fakeRunner) Run(ctx context.Context, req relay.Request, sink relay.Sink) error {
	f.got <- req
	for _, e := range f.events {
		if err := sink.Send(e); err != nil {
			return err
		}
	}
	return nil
}

func newTestServer(t *testing.T, runner SessionRunner, mutate func(*config.ServerConfig, *Options)) *Server {
	t.Helper()
	cfg := config.Default().Server
	cfg.DistDir = filepath.Join(t.TempDir(), "dist")
	cfg.AssetsDir = filepath.Join(t.TempDir(), "assets")
	cfg.AdminAPIKey = "secret"
	opts := Options{}
	if mutate != nil {
		mutate(&cfg, &opts)
	}
	return New(zerolog.Nop(), runner, cfg, opts)
}

// readSSE splits an SSE body into the JSON payloads of its data lines.
func readSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestProcessHandler_StreamsEvents(t *testing.T) {
	runner := newFakeRunner(
		relay.NewStart("Processing request..."),
		relay.NewResult(edits.Response{Message: "done"}),
	)
	s := newTestServer(t, runner, nil)

	body := `{"user_request":"make it bold","document_content":"hello","api_key":"k","model_name":"m"}`
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	got := <-runner.got
	assert.Equal(t, "make it bold", got.UserRequest)
	assert.Equal(t, "k", got.APIKey)
	assert.Equal(t, "m", got.ModelName)

	assert.True(t, strings.HasPrefix(rec.Body.String(), `data: {"type":"start"`))
	events := readSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "start", events[0]["type"])
	assert.Equal(t, "result", events[1]["type"])
	data := events[1]["data"].(map[string]any)
	assert.Equal(t, "done", data["message"])
	assert.Equal(t, []any{}, data["edits"])
}

func TestProcessHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user_request", `{"document_content":"x"}`},
		{"blank user_request", `{"user_request":"   ","document_content":"x"}`},
		{"wrong type", `{"user_request":5,"document_content":"x"}`},
		{"not json", `user_request=hi`},
		{"missing document_content", `{"user_request":"make it bold"}`},
		{"null document_content", `{"user_request":"make it bold","document_content":null}`},
		{"document_content wrong type", `{"user_request":"make it bold","document_content":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			s := newTestServer(t, runner, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var v validationError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
			assert.NotEmpty(t, v.Detail)
			assert.Empty(t, runner.got)
		})
	}
}

func TestProcessHandler_EmptyDocumentAccepted(t *testing.T) {
	runner := newFakeRunner(relay.NewResult(edits.Response{Message: "done"}))
	s := newTestServer(t, runner, nil)

	body := `{"user_request":"write an intro","document_content":""}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := <-runner.got
	assert.Equal(t, "write an intro", got.UserRequest)
	assert.Empty(t, got.DocumentContent)
}

func TestProcessHandler_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, newFakeRunner(), nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/process", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProcessHandler_FallbackSession(t *testing.T) {
	r := relay.New(nil, relay.NewSettingsStore(relay.Settings{}), zerolog.Nop())
	s := newTestServer(t, r, nil)

	body := `{"user_request":"把第一段加粗","document_content":"hello"}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body)))

	events := readSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "start", events[0]["type"])
	assert.Equal(t, relay.DefaultStartMessage, events[0]["message"])
	assert.Equal(t, "result", events[1]["type"])
	data := events[1]["data"].(map[string]any)
	ops := data["edits"].([]any)
	require.Len(t, ops, 1)
	assert.Equal(t, "format", ops[0].(map[string]any)["type"])
}

func TestCORS(t *testing.T) {
	t.Run("wildcard preflight", func(t *testing.T) {
		s := newTestServer(t, newFakeRunner(), nil)
		req := httptest.NewRequest(http.MethodOptions, "/api/process", nil)
		req.Header.Set("Origin", "https://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("explicit origin list", func(t *testing.T) {
		s := newTestServer(t, newFakeRunner(), func(c *config.ServerConfig, _ *Options) {
			c.CORSOrigins = []string{"https://addin.example.com"}
		})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://addin.example.com")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		assert.Equal(t, "https://addin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec = httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHealthAndStatic(t *testing.T) {
	s := newTestServer(t, newFakeRunner(), nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var h healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, healthResponse{Status: "healthy"}, h)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var info serviceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "running", info.Status)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/taskpane.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.MkdirAll(s.cfg.DistDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.DistDir, taskpaneFile), []byte("<html>pane</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.DistDir, "taskpane.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.MkdirAll(s.cfg.AssetsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.AssetsDir, "icon.txt"), []byte("icon"), 0o644))

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, healthResponse{Status: "healthy", FrontendBuilt: true, TaskpaneAvailable: true}, h)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pane")

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/taskpane.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/icon.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "icon", rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/commands.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("docedit_sessions_total 1\n"))
	})
	s := newTestServer(t, newFakeRunner(), func(_ *config.ServerConfig, o *Options) {
		o.Metrics = metrics
		o.MetricsPath = "/metrics"
	})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docedit_sessions_total")
}

func TestAdminEndpoints(t *testing.T) {
	var gotLimit int
	reloads := 0
	s := newTestServer(t, newFakeRunner(), func(_ *config.ServerConfig, o *Options) {
		o.RecentSessions = func(ctx context.Context, limit int) (any, error) {
			gotLimit = limit
			return []map[string]string{{"id": "s1"}}, nil
		}
		o.Reload = func(ctx context.Context) error {
			reloads++
			if reloads > 1 {
				return errors.New("bad yaml")
			}
			return nil
		}
	})

	do := func(method, target string, header map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/admin/sessions", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/admin/sessions", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/admin/sessions", map[string]string{"Authorization": "secret"}).Code)

	rec := do(http.MethodGet, "/admin/sessions?limit=5", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gotLimit)
	assert.JSONEq(t, `{"sessions":[{"id":"s1"}]}`, rec.Body.String())

	rec = do(http.MethodGet, "/admin/sessions?limit=100000", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxSessionLimit, gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/admin/sessions?limit=-1", map[string]string{"X-API-Key": "secret"}).Code)

	rec = do(http.MethodPost, "/admin/config/reload", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPost, "/admin/config/reload", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad yaml")
}

func TestAdminEndpoints_NotConfigured(t *testing.T) {
	s := newTestServer(t, newFakeRunner(), func(c *config.ServerConfig, _ *Options) {
		c.AdminAPIKey = ""
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	req.Header.Set("X-API-Key", "anything")
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	s = newTestServer(t, newFakeRunner(), nil)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
