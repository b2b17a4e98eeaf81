package source

import (
	"net/http"
	"strconv"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
)

// RootFunc returns the current root source. It is called per request so a
// handler always serves the latest source tree.
type RootFunc func(r *http.Request) (ContentSource, error)

// Handler serves resolved content over HTTP.
type Handler struct {
	Root    RootFunc
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	root, err := h.Root(r)
	if err != nil {
		h.Metrics.ContentRequest("error")
		logger.Error(ctx, err, "Failed to build content source", "path", r.URL.Path)
		writeOverlay(w, err)
		return
	}

	content, err := Resolve(ctx, root, RequestFromHTTP(r))
	switch {
	case pperrors.IsNotFound(err):
		h.Metrics.ContentRequest("not_found")
		http.NotFound(w, r)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		h.Metrics.ContentRequest("error")
		logger.Error(ctx, err, "Failed to resolve content", "path", r.URL.Path)
		writeOverlay(w, err)
		return
	}

	switch c := content.(type) {
	case Static:
		h.Metrics.ContentRequest("static")
		for k, v := range c.Headers {
			w.Header()[k] = v
		}
		if c.ContentType != "" {
			w.Header().Set("Content-Type", c.ContentType)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(c.Body)))
		status := c.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			_, _ = w.Write(c.Body)
		}
	case Proxy:
		h.Metrics.ContentRequest("proxy")
		for k, v := range c.Headers {
			w.Header()[k] = v
		}
		status := c.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if r.Method != http.MethodHead && len(c.Body) > 0 {
			_, _ = w.Write(c.Body)
		}
	default:
		h.Metrics.ContentRequest("error")
		http.Error(w, "unexpected content", http.StatusInternalServerError)
	}
}

func writeOverlay(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(pperrors.ErrorOverlay(err, nil)))
}
