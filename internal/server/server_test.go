package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagepack/internal/config"
	"github.com/conneroisu/pagepack/internal/hostapi"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/project"
)

const page = "export default function Page() { return null }\n"

func testConfig() *config.Config {
	return &config.Config{
		Project: config.ProjectConfig{RootPath: "/site"},
		Routes:  config.RoutesConfig{PageExtensions: []string{"tsx", "ts"}},
		Build:   config.BuildConfig{Mode: "development", DistDir: ".pagepack"},
		Server: config.ServerConfig{
			Host:           "localhost",
			Port:           0,
			AllowedOrigins: []string{"http://editor.test"},
		},
		Images: config.ImagesConfig{DefaultQuality: 75, MaxWidth: 3840},
	}
}

func newTestServer(t *testing.T, files map[string]string) (*DevServer, *httptest.Server) {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	cfg := testConfig()
	opts := []project.Option{project.WithFilesystem(fs), project.WithEnv(map[string]string{})}
	proj, err := project.New(context.Background(), cfg.ProjectOptions(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proj.Close() })

	srv := New(cfg, proj,
		WithMetrics(metrics.New(metrics.WithNamespace("pagepack"))),
		WithHostAPIOptions(hostapi.WithProjectOptions(opts...)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return srv, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{
		"pages/index.tsx": page,
		"pages/about.tsx": page,
	})

	resp, body := get(t, ts.URL+HealthPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health struct {
		Status string `json:"status"`
		Mode   string `json:"mode"`
		Checks struct {
			Routes struct {
				Count     int `json:"count"`
				Conflicts int `json:"conflicts"`
			} `json:"routes"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "development", health.Mode)
	assert.Equal(t, 2, health.Checks.Routes.Count)
	assert.Zero(t, health.Checks.Routes.Conflicts)
}

func TestServesPagesAndNotFound(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{"pages/about.tsx": page})

	resp, body := get(t, ts.URL+"/about")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, `"page":"/about"`)

	resp, _ = get(t, ts.URL+"/missing/page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{"pages/index.tsx": page})
	get(t, ts.URL+"/")

	resp, body := get(t, ts.URL+MetricsPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "pagepack_content_requests_total")
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{"pages/index.tsx": page})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://editor.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://editor.test", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.URL+HealthPath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.test")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"editor.test", "localhost:5173"},
		originPatterns([]string{"http://editor.test", "http://localhost:5173", "not a url"}))
}

func TestHostAPIMounted(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{"pages/index.tsx": page})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + HostAPIPath
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, c, hostapi.Request{
		ID:     1,
		Method: hostapi.MethodProjectNew,
		Params: json.RawMessage(`{"options":{"root_path":"/site"}}`),
	}))
	var resp struct {
		ID     uint64             `json:"id"`
		Result map[string]string  `json:"result"`
		Error  *hostapi.ErrorBody `json:"error"`
	}
	require.NoError(t, wsjson.Read(ctx, c, &resp))
	assert.Equal(t, uint64(1), resp.ID)
	require.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.Result["project"])
}

func TestShutdownBeforeStart(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"pages/index.tsx": page})
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, srv.Shutdown(context.Background()))
}
