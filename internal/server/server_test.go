package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/observability"
	"github.com/leslieo2/go-template-reload/internal/templates"
)

var siteFiles = map[string]string{
	"index.html":      `<html><body>Hello, {{ query.name|default:"stranger" }}</body></html>`,
	"about.html":      `<html><body>About {{ path }}</body></html>`,
	"docs/index.html": `<html><body>Docs</body></html>`,
	"notes.jinja":     `Notes`,
	"partial.html":    `<p>fragment</p>`,
	"broken.html":     `{{ path|slice:"x" }}`,
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, siteFiles)
	cfg.Server.Port = "not-a-port"

	_, err := NewWithLogger(cfg, observability.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRun_MissingRootIsSetupError(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Templates.Root = filepath.Join(cfg.Templates.Root, "does-not-exist")
	s := newTestServer(t, cfg)

	err := s.Run(t.Context())

	var setupErr *templates.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "watch", setupErr.Op)
}

func TestRun_InitialCompileFailureIsSetupError(t *testing.T) {
	cfg := testConfig(t, map[string]string{"index.html": "{% if %}broken"})
	s := newTestServer(t, cfg)

	done := make(chan error, 1)
	go func() { done <- s.Run(t.Context()) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept serving with templates that do not compile")
	}

	var setupErr *templates.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "compile", setupErr.Op)
	assert.Nil(t, s.server, "nothing may listen after a failed initial compile")
	assert.False(t, s.manager.IsRunning())
}

func TestPageHandler_RendersIndexWithReconnectScript(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))

	w := get(t, s.Handler(), "/?name=World")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constants.ContentTypeHTML, w.Header().Get(constants.HeaderContentType))
	assert.Equal(t, "no-store", w.Header().Get(constants.HeaderCacheControl))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "<html><body>Hello, World<script data-live-reload>"), body)
	assert.True(t, strings.HasSuffix(body, "</script></body></html>"), body)
	assert.Contains(t, body, `new EventSource("/dev/reload")`)
	assert.Contains(t, body, "setTimeout(connect, 5000)")
	assert.Equal(t, 1, strings.Count(body, "data-live-reload"))
}

func TestPageHandler_NoScriptOutsideDevelopment(t *testing.T) {
	cfg := testConfig(t, siteFiles)
	cfg.Templates.Development = false
	s := newTestServer(t, cfg)

	w := get(t, s.Handler(), "/")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html><body>Hello, stranger</body></html>", w.Body.String())
	assert.Empty(t, w.Header().Get(constants.HeaderCacheControl))
}

func TestPageHandler_Routes(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))
	h := s.Handler()

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantBody string
	}{
		{name: "explicit extension", target: "/about.html", wantCode: http.StatusOK, wantBody: "About /about.html"},
		{name: "extension added", target: "/about", wantCode: http.StatusOK, wantBody: "About /about"},
		{name: "second extension", target: "/notes", wantCode: http.StatusOK, wantBody: "Notes"},
		{name: "directory index", target: "/docs/", wantCode: http.StatusOK, wantBody: "Docs"},
		{name: "fragment without body tag", target: "/partial", wantCode: http.StatusOK, wantBody: "<p>fragment</p><script data-live-reload>"},
		{name: "missing template", target: "/missing", wantCode: http.StatusInternalServerError, wantBody: "Template not found"},
		{name: "render failure", target: "/broken", wantCode: http.StatusInternalServerError, wantBody: "Template failed to render"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.target)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestPageHandler_RenderErrorPageReconnects(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))

	w := get(t, s.Handler(), "/missing")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, constants.ContentTypeHTML, w.Header().Get(constants.HeaderContentType))
	assert.Contains(t, w.Body.String(), "missing.html")
	assert.Contains(t, w.Body.String(), "<script data-live-reload>")
}

func TestPageHandler_RenderErrorOutsideDevelopment(t *testing.T) {
	cfg := testConfig(t, siteFiles)
	cfg.Templates.Development = false
	s := newTestServer(t, cfg)

	w := get(t, s.Handler(), "/missing")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, constants.ErrorCodeRenderFailed, body["error"])
	assert.NotContains(t, body["message"], "missing")
}

func TestPageHandler_RejectsParentSegments(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))

	// ServeMux cleans ".." out of paths, so call the page handler directly.
	w := httptest.NewRecorder()
	s.pageHandler(w, httptest.NewRequest(http.MethodGet, "/docs/../../etc/passwd", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, constants.ErrorCodeBadTemplateName, body["error"])
}

func TestPageHandler_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/about", strings.NewReader("x")))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
}

func TestPageHandler_CompileFailureKeepsServing(t *testing.T) {
	cfg := testConfig(t, map[string]string{"index.html": "v1"})
	s := newTestServer(t, cfg)
	h := s.Handler()

	w := get(t, h, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "v1"))

	writeTemplates(t, cfg.Templates.Root, map[string]string{"index.html": "{% if %}"})
	s.reloader.MarkStale()

	w = get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Templates failed to compile")

	w = get(t, h, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "v1"))
}

func TestPageHandler_ProxyWhileTemplatesBroken(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend "+r.URL.Path)
	}))
	defer backend.Close()

	cfg := testConfig(t, map[string]string{"index.html": "{% if %}"})
	cfg.Proxy.Enabled = true
	cfg.Proxy.Target = backend.URL
	s := newTestServer(t, cfg)
	h := s.Handler()

	// No snapshot has ever compiled: paths no template could answer still
	// reach the backend, while pages report the compile error.
	for i := 0; i < 2; i++ {
		w := get(t, h, "/api/users")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "backend /api/users", w.Body.String())

		w = get(t, h, "/")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "Templates failed to compile")
	}
}

func TestPageHandler_ProxyAfterBrokenEdit(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend "+r.URL.Path)
	}))
	defer backend.Close()

	cfg := testConfig(t, map[string]string{"index.html": "home", "about.html": "about"})
	cfg.Proxy.Enabled = true
	cfg.Proxy.Target = backend.URL
	s := newTestServer(t, cfg)
	h := s.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/about").Code)

	writeTemplates(t, cfg.Templates.Root, map[string]string{"about.html": "{% if %}"})
	s.reloader.MarkStale()

	// A failed rebuild is reported once, so the proxied request absorbs it.
	w := get(t, h, "/api/users")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "backend /api/users", w.Body.String())

	s.reloader.MarkStale()
	w = get(t, h, "/about")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Templates failed to compile")
}

func TestResolvePage(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"index.html":      "home",
		"about.html":      "about",
		"notes.jinja":     "notes",
		"docs/index.html": "docs",
	})
	s := newTestServer(t, cfg)
	env, err := templates.Compile(cfg.Templates.Root, 1)
	require.NoError(t, err)

	tests := []struct {
		name      string
		path      string
		env       *templates.Environment
		wantName  string
		wantFound bool
		wantErr   bool
	}{
		{name: "root", path: "/", env: env, wantName: "index.html", wantFound: true},
		{name: "directory", path: "/docs/", env: env, wantName: "docs/index.html", wantFound: true},
		{name: "exact", path: "/about.html", env: env, wantName: "about.html", wantFound: true},
		{name: "first extension", path: "/about", env: env, wantName: "about.html", wantFound: true},
		{name: "later extension", path: "/notes", env: env, wantName: "notes.jinja", wantFound: true},
		{name: "unknown falls back to first extension", path: "/nope", env: env, wantName: "nope.html"},
		{name: "asset", path: "/app.css", env: env, wantName: "app.css"},
		{name: "no snapshot", path: "/about", env: nil, wantName: "about.html"},
		{name: "index without snapshot", path: "/", env: nil, wantName: "index.html", wantFound: true},
		{name: "parent segment", path: "/../secret", env: env, wantErr: true},
		{name: "nested parent segment", path: "/docs/../../secret", env: env, wantErr: true},
		{name: "backslash", path: "/..\\secret", env: env, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, found, err := s.resolvePage(tt.path, tt.env)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadTemplateName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantFound, found)
		})
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))
	h := s.Handler()

	w := get(t, h, constants.PathReady)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, h, constants.PathHealth)
	require.Equal(t, http.StatusOK, w.Code)
	var health observability.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, observability.StatusUnhealthy, health.Status)
	assert.False(t, health.Checks["watcher"])

	require.NoError(t, s.manager.Start())
	_, err := s.reloader.Acquire(t.Context())
	require.NoError(t, err)

	w = get(t, h, constants.PathReady)
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, h, constants.PathHealth)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, observability.StatusHealthy, health.Status)
	assert.EqualValues(t, 1, health.Metrics["generation"])
	assert.EqualValues(t, 0, health.Metrics["open_streams"])
	assert.EqualValues(t, 1, health.Metrics["listeners"])

	builtAt, ok := health.Metrics["built_at"].(string)
	require.True(t, ok, "built_at is reported once a snapshot exists")
	_, err = time.Parse(time.RFC3339Nano, builtAt)
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t, siteFiles))
	h := s.Handler()

	get(t, h, "/about")
	get(t, h, "/missing")

	w := get(t, h, constants.PathMetrics)
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "template_renders_total")
	assert.Contains(t, string(body), "livereload_open_streams")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.RenderCount.WithLabelValues(observability.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.RenderCount.WithLabelValues(observability.OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.RequestCount.WithLabelValues("GET", "/", "500")))
}

func TestMetricsOnSeparatePort(t *testing.T) {
	cfg := testConfig(t, siteFiles)
	cfg.Server.MetricsPort = "9091"
	s := newTestServer(t, cfg)

	w := get(t, s.Handler(), constants.PathMetrics)

	// Served by the page handler instead, which has no such template.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPageHandler_LiveReloadAfterEdit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testConfig(t, map[string]string{"index.html": "<body>v1</body>"})
	ts, cleanup := startTestServer(t, cfg)
	defer cleanup()

	stream := openStream(t, ts.baseURL+cfg.LiveReload.Path)
	defer stream.close()

	writeTemplates(t, ts.root, map[string]string{"index.html": "<body>v2</body>"})

	frame := stream.next(t)
	assert.Contains(t, frame, "data: reload")

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.baseURL + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.HasPrefix(string(body), "<body>v2")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestPageHandler_NewFileInNewDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testConfig(t, map[string]string{"index.html": "home"})
	ts, cleanup := startTestServer(t, cfg)
	defer cleanup()

	stream := openStream(t, ts.baseURL+cfg.LiveReload.Path)
	defer stream.close()

	require.NoError(t, os.MkdirAll(filepath.Join(ts.root, "blog"), 0o755))
	stream.next(t)
	writeTemplates(t, ts.root, map[string]string{"blog/post.html": "post"})

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.baseURL + "/blog/post")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}
