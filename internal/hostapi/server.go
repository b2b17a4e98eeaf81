// Package hostapi exposes projects to a host process over a websocket. The
// host sends JSON requests naming a method and receives one response per
// request plus events for every running subscription.
//
// Objects the host can refer to (projects, endpoints, subscriptions) live in
// a per-connection HandleTable; closing the connection releases all of them.
package hostapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/project"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records project and subscription metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithProjectOptions are applied to every project the host opens.
func WithProjectOptions(opts ...project.Option) Option {
	return func(s *Server) { s.projectOptions = append(s.projectOptions, opts...) }
}

// WithOriginPatterns allows cross-origin connections from hosts matching
// the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

// OnProjectOpened is called for every project a host opens.
func OnProjectOpened(fn func(*project.Project)) Option {
	return func(s *Server) { s.onProject = fn }
}

// Server accepts host connections.
type Server struct {
	logger         logging.Logger
	metrics        *metrics.Metrics
	projectOptions []project.Option
	originPatterns []string
	onProject      func(*project.Project)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a host API server.
func New(opts ...Option) *Server {
	s := &Server{}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.WithComponent("hostapi")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	s.wg.Add(1)
	defer s.wg.Done()

	c := &conn{
		server:    s,
		ws:        ws,
		table:     NewHandleTable(),
		endpoints: make(map[string]string),
		logger:    s.logger.With("remote", r.RemoteAddr),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	c.serve(ctx)
}

// Close disconnects every host and waits for their handles to be released.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

type conn struct {
	server *Server
	ws     *websocket.Conn
	table  *HandleTable
	logger logging.Logger

	writeMu sync.Mutex

	mu sync.Mutex
	// endpoints maps project id + endpoint key to an endpoint handle so
	// repeated route deliveries hand out stable ids.
	endpoints map[string]string
}

func (c *conn) serve(ctx context.Context) {
	c.logger.Info(ctx, "Host connected")
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(ctx)
	}()

	for {
		var req Request
		if err := wsjson.Read(ctx, c.ws, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.logger.Warn(ctx, err, "Host connection failed")
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.handle(ctx, req)
		}()
	}

	cancel()
	wg.Wait()
	c.release()
	c.ws.Close(websocket.StatusNormalClosure, "")
	c.logger.Info(context.Background(), "Host disconnected")
}

func (c *conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// release closes every subscription and project the host left open.
func (c *conn) release() {
	for _, h := range c.table.Drain() {
		switch v := h.Value.(type) {
		case subscription:
			v.Close()
		case *project.Project:
			if err := v.Close(); err != nil {
				c.logger.Warn(context.Background(), err, "Failed to close project")
			}
		}
	}
}

func (c *conn) write(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

func (c *conn) handle(ctx context.Context, req Request) {
	result, err := c.dispatch(ctx, req)
	resp := Response{ID: req.ID, Result: result}
	if err != nil {
		resp.Result = nil
		resp.Error = errorBody(err)
		c.logger.Debug(ctx, "Request failed", "method", req.Method, "error", err.Error())
	}
	if err := c.write(ctx, resp); err != nil && ctx.Err() == nil {
		c.logger.Warn(ctx, err, "Failed to write response", "method", req.Method)
	}
}

func (c *conn) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodProjectNew:
		var p projectNewParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return c.projectNew(ctx, p)
	case MethodProjectClose:
		var p projectParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return c.projectClose(p)
	case MethodRoutesSubscribe:
		var p routesSubscribeParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return c.routesSubscribe(p)
	case MethodEndpointWriteToDisk:
		var p endpointParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return c.writeToDisk(ctx, p)
	case MethodEndpointChangedSubscribe:
		var p endpointParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return c.changedSubscribe(p)
	case MethodSubscriptionCancel:
		var p subscriptionParams
		if err := decode(req.Params, &p); err != nil {
			return nil, err
		}
		return c.subscriptionCancel(p)
	default:
		return nil, pperrors.NewNotFoundError("method " + req.Method)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "invalid params: "+err.Error())
	}
	return nil
}
