//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagepack/internal/config"
	"github.com/conneroisu/pagepack/internal/project"
	"github.com/conneroisu/pagepack/internal/server"
)

const page = "export default function Page() { return null }\n"

// HealthResponse represents the structure of health check response
type HealthResponse struct {
	Status string `json:"status"`
	Checks struct {
		Routes struct {
			Count int `json:"count"`
		} `json:"routes"`
	} `json:"checks"`
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Project: config.ProjectConfig{RootPath: root, Watch: true},
		Routes:  config.RoutesConfig{PageExtensions: []string{"tsx", "ts"}},
		Build:   config.BuildConfig{Mode: "development", DistDir: ".pagepack", Workers: 2},
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Images:  config.ImagesConfig{DefaultQuality: 75, MaxWidth: 3840},
	}
}

// openWatched opens a watching project on the OS filesystem.
func openWatched(t *testing.T, cfg *config.Config) *project.Project {
	t.Helper()
	proj, err := project.New(context.Background(), cfg.ProjectOptions(),
		project.WithEnv(map[string]string{}),
		project.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = proj.Close() })
	return proj
}

// startServer runs a dev server on a random port and returns its base URL
// once the health check answers.
func startServer(t *testing.T, cfg *config.Config, proj *project.Project) string {
	t.Helper()
	srv := server.New(cfg, proj)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
	})

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	base := "http://" + srv.Addr()
	require.Eventually(t, func() bool {
		_, err := health(base)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	return base
}

func health(base string) (*HealthResponse, error) {
	resp, err := http.Get(base + server.HealthPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, err
	}
	return &h, nil
}
