//go:build integration
// +build integration

package integration_tests

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_ServerStartStop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pages/index.tsx", page)
	writeFile(t, dir, "public/robots.txt", "User-agent: *")

	cfg := testConfig(dir)
	base := startServer(t, cfg, openWatched(t, cfg))

	h, err := health(base)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.Checks.Routes.Count)

	resp, err := http.Get(base + "/robots.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User-agent: *", string(body))
}

func TestIntegration_ServerServesNewPages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pages/index.tsx", page)

	cfg := testConfig(dir)
	base := startServer(t, cfg, openWatched(t, cfg))

	resp, err := http.Get(base + "/about")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	writeFile(t, dir, "pages/about.tsx", page)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/about")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	h, err := health(base)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Checks.Routes.Count)
}
