package hostapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/project"
	"github.com/conneroisu/pagepack/internal/route"
)

const page = "export default function Page() { return null }\n"

// message is either a Response or an Event.
type message struct {
	ID           uint64          `json:"id"`
	Result       json.RawMessage `json:"result"`
	Error        *ErrorBody      `json:"error"`
	Subscription string          `json:"subscription"`
	Routes       []RouteInfo     `json:"routes"`
	Changed      bool            `json:"changed"`
}

type client struct {
	t      *testing.T
	ws     *websocket.Conn
	nextID uint64

	mu        sync.Mutex
	responses map[uint64]chan message
	events    chan message
}

type harness struct {
	fs       billy.Filesystem
	server   *Server
	mu       sync.Mutex
	projects []*project.Project
}

func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	h := &harness{fs: memfs.New()}
	for name, content := range files {
		require.NoError(t, util.WriteFile(h.fs, name, []byte(content), 0o644))
	}
	h.server = New(
		WithProjectOptions(project.WithFilesystem(h.fs), project.WithEnv(map[string]string{})),
		OnProjectOpened(func(p *project.Project) {
			h.mu.Lock()
			h.projects = append(h.projects, p)
			h.mu.Unlock()
		}),
	)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) project(t *testing.T) *project.Project {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.projects)
	return h.projects[len(h.projects)-1]
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	c := &client{t: t, ws: ws, responses: make(map[uint64]chan message), events: make(chan message, 64)}
	go c.readLoop()
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return c
}

func (c *client) readLoop() {
	for {
		var m message
		if err := wsjson.Read(context.Background(), c.ws, &m); err != nil {
			close(c.events)
			return
		}
		if m.Subscription != "" {
			c.events <- m
			continue
		}
		c.mu.Lock()
		ch := c.responses[m.ID]
		c.mu.Unlock()
		if ch != nil {
			ch <- m
		}
	}
}

func (c *client) call(method string, params any) message {
	c.t.Helper()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan message, 1)
	c.responses[id] = ch
	c.mu.Unlock()

	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.ws, Request{ID: id, Method: method, Params: raw}))

	select {
	case m := <-ch:
		return m
	case <-time.After(10 * time.Second):
		c.t.Fatalf("no response to %s", method)
		return message{}
	}
}

func (c *client) result(method string, params any, v any) {
	c.t.Helper()
	m := c.call(method, params)
	require.Nil(c.t, m.Error, "%s failed: %+v", method, m.Error)
	if v != nil {
		require.NoError(c.t, json.Unmarshal(m.Result, v))
	}
}

func (c *client) event(subscription string) message {
	c.t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m, ok := <-c.events:
			require.True(c.t, ok, "connection closed")
			if m.Subscription == subscription {
				return m
			}
		case <-timeout:
			c.t.Fatalf("no event for %s", subscription)
			return message{}
		}
	}
}

func (c *client) openProject() string {
	c.t.Helper()
	var res projectResult
	c.result(MethodProjectNew, projectNewParams{Options: project.Options{RootPath: "/root", ProjectPath: "/root/proj"}}, &res)
	require.NotEmpty(c.t, res.Project)
	return res.Project
}

func TestRoutesSubscription(t *testing.T) {
	h := newHarness(t, map[string]string{
		"proj/pages/index.tsx":    page,
		"proj/pages/api/hello.ts": "export default function handler() {}\n",
	})
	c := h.dial(t)
	projectID := c.openProject()

	var sub subscriptionResult
	c.result(MethodRoutesSubscribe, routesSubscribeParams{Project: projectID}, &sub)
	ev := c.event(sub.Subscription)
	require.Nil(t, ev.Error)
	require.Len(t, ev.Routes, 2)
	assert.Equal(t, "/", ev.Routes[0].Pathname)
	assert.Equal(t, route.KindPage, ev.Routes[0].Type)
	assert.Contains(t, ev.Routes[0].Endpoints, "html")
	assert.Contains(t, ev.Routes[0].Endpoints, "data")
	assert.Equal(t, "/api/hello", ev.Routes[1].Pathname)
	assert.Equal(t, route.KindPageAPI, ev.Routes[1].Type)
	htmlHandle := ev.Routes[0].Endpoints["html"]

	require.NoError(t, util.WriteFile(h.fs, "proj/pages/about.tsx", []byte(page), 0o644))
	h.project(t).Engine().InvalidateListing("proj/pages")

	ev = c.event(sub.Subscription)
	require.Len(t, ev.Routes, 3)
	assert.Equal(t, "/about", ev.Routes[1].Pathname)
	// Unchanged endpoints keep their handles.
	assert.Equal(t, htmlHandle, ev.Routes[0].Endpoints["html"])

	c.result(MethodSubscriptionCancel, subscriptionParams{Subscription: sub.Subscription}, nil)
	m := c.call(MethodSubscriptionCancel, subscriptionParams{Subscription: sub.Subscription})
	require.NotNil(t, m.Error)
	assert.Equal(t, string(pperrors.ErrorTypeNotFound), m.Error.Type)
}

func TestRoutesSubscriptionReportsConflicts(t *testing.T) {
	h := newHarness(t, map[string]string{
		"proj/pages/about.tsx":    page,
		"proj/app/about/page.tsx": page,
	})
	c := h.dial(t)
	projectID := c.openProject()

	var sub subscriptionResult
	c.result(MethodRoutesSubscribe, routesSubscribeParams{Project: projectID}, &sub)
	ev := c.event(sub.Subscription)
	require.Len(t, ev.Routes, 1)
	assert.Equal(t, route.KindConflict, ev.Routes[0].Type)
	assert.Empty(t, ev.Routes[0].Endpoints)
	assert.ElementsMatch(t, []string{"proj/pages/about.tsx", "proj/app/about/page.tsx"}, ev.Routes[0].Sources)
}

func TestEndpointWriteToDiskAndChanged(t *testing.T) {
	h := newHarness(t, map[string]string{"proj/pages/api/hello.ts": "export default 1\n"})
	c := h.dial(t)
	projectID := c.openProject()

	var sub subscriptionResult
	c.result(MethodRoutesSubscribe, routesSubscribeParams{Project: projectID}, &sub)
	ev := c.event(sub.Subscription)
	require.Len(t, ev.Routes, 1)
	endpointID := ev.Routes[0].Endpoints["endpoint"]
	require.NotEmpty(t, endpointID)

	var written route.WrittenEndpoint
	c.result(MethodEndpointWriteToDisk, endpointParams{Endpoint: endpointID}, &written)
	assert.Contains(t, written.ServerEntryPath, "server/pages/api/hello")
	exists, err := util.ReadFile(h.fs, "proj/"+written.ServerEntryPath)
	require.NoError(t, err)
	assert.NotEmpty(t, exists)

	var changed subscriptionResult
	c.result(MethodEndpointChangedSubscribe, endpointParams{Endpoint: endpointID}, &changed)
	// Let the subscription take its baseline before editing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, util.WriteFile(h.fs, "proj/pages/api/hello.ts", []byte("export default 2\n"), 0o644))
	h.project(t).Engine().Invalidate("proj/pages/api/hello.ts")

	ev = c.event(changed.Subscription)
	assert.True(t, ev.Changed)
	assert.Nil(t, ev.Error)
}

func TestUnknownHandlesAndMethods(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t)

	m := c.call(MethodEndpointWriteToDisk, endpointParams{Endpoint: "endpoint-99"})
	require.NotNil(t, m.Error)
	assert.Equal(t, string(pperrors.ErrorTypeNotFound), m.Error.Type)

	m = c.call("project.explode", nil)
	require.NotNil(t, m.Error)
	assert.Contains(t, m.Error.Message, "project.explode")

	m = c.call(MethodProjectNew, projectNewParams{Options: project.Options{RootPath: "/root", ProjectPath: "/elsewhere"}})
	require.NotNil(t, m.Error)
	assert.Equal(t, string(pperrors.ErrorTypeConfig), m.Error.Type)
	assert.Equal(t, pperrors.ErrCodeInvalidPath, m.Error.Code)

	// A project handle is not an endpoint.
	projectID := c.openProject()
	m = c.call(MethodEndpointWriteToDisk, endpointParams{Endpoint: projectID})
	require.NotNil(t, m.Error)
}

func TestProjectClose(t *testing.T) {
	h := newHarness(t, map[string]string{
		"proj/pages/index.tsx":    page,
		"proj/pages/api/hello.ts": "export default 1\n",
	})
	c := h.dial(t)
	projectID := c.openProject()

	var sub subscriptionResult
	c.result(MethodRoutesSubscribe, routesSubscribeParams{Project: projectID}, &sub)
	ev := c.event(sub.Subscription)
	var endpointID string
	for _, r := range ev.Routes {
		if r.Pathname == "/api/hello" {
			endpointID = r.Endpoints["endpoint"]
		}
	}
	require.NotEmpty(t, endpointID)

	c.result(MethodProjectClose, projectParams{Project: projectID}, nil)
	assert.True(t, h.project(t).Engine().Closed())

	m := c.call(MethodRoutesSubscribe, routesSubscribeParams{Project: projectID})
	require.NotNil(t, m.Error)

	m = c.call(MethodEndpointWriteToDisk, endpointParams{Endpoint: endpointID})
	require.NotNil(t, m.Error)
	assert.Equal(t, string(pperrors.ErrorTypeNotFound), m.Error.Type)
	_, err := h.fs.Stat("proj/.pagepack/server/pages/api/hello.js")
	assert.Error(t, err)

	m = c.call(MethodSubscriptionCancel, subscriptionParams{Subscription: sub.Subscription})
	require.NotNil(t, m.Error, "subscription is released with its project")
}

func TestDisconnectReleasesHandles(t *testing.T) {
	h := newHarness(t, map[string]string{"proj/pages/index.tsx": page})
	c := h.dial(t)
	projectID := c.openProject()
	var sub subscriptionResult
	c.result(MethodRoutesSubscribe, routesSubscribeParams{Project: projectID}, &sub)
	c.event(sub.Subscription)

	require.NoError(t, c.ws.Close(websocket.StatusNormalClosure, ""))
	p := h.project(t)
	require.Eventually(t, p.Engine().Closed, 5*time.Second, 10*time.Millisecond)
}

func TestHandleTable(t *testing.T) {
	table := NewHandleTable()
	a := table.Insert("project", Handle{Value: "a"})
	b := table.Insert("subscription", Handle{Value: "b"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, table.Len())

	got, ok := table.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", got.Value)

	removed, ok := table.Remove(a)
	require.True(t, ok)
	assert.Equal(t, "a", removed.Value)
	_, ok = table.Get(a)
	assert.False(t, ok)

	table.Insert("endpoint", Handle{Value: "c"})

	closed := incremental.NewEngine(nil)
	closed.Close()
	d := table.Insert("endpoint", Handle{Engine: closed, Value: "d"})
	_, _, err := typed[string](table, d, "endpoint")
	assert.True(t, pperrors.IsNotFound(err))
	assert.Equal(t, []Handle{{Engine: closed, Value: "d"}}, table.RemoveEngine(closed))
	_, ok = table.Get(d)
	assert.False(t, ok)

	drained := table.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "c", drained[0].Value)
	assert.Equal(t, "b", drained[1].Value)
	assert.Zero(t, table.Len())
}

func TestErrorBody(t *testing.T) {
	body := errorBody(pperrors.NewNotFoundError("endpoint x"))
	assert.Equal(t, string(pperrors.ErrorTypeNotFound), body.Type)
	assert.Equal(t, pperrors.ErrCodeNotFound, body.Code)

	body = errorBody(assert.AnError)
	assert.Equal(t, string(pperrors.ErrorTypeInternal), body.Type)
}
