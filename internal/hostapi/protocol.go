package hostapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/project"
	"github.com/conneroisu/pagepack/internal/route"
)

// Methods understood by the host API.
const (
	MethodProjectNew               = "project.new"
	MethodProjectClose             = "project.close"
	MethodRoutesSubscribe          = "project.routes.subscribe"
	MethodEndpointWriteToDisk      = "endpoint.write_to_disk"
	MethodEndpointChangedSubscribe = "endpoint.changed.subscribe"
	MethodSubscriptionCancel       = "subscription.cancel"
)

// Request is a call from the host process.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ID     uint64     `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// Event is pushed for a running subscription.
type Event struct {
	Subscription string      `json:"subscription"`
	Routes       []RouteInfo `json:"routes,omitempty"`
	Changed      bool        `json:"changed,omitempty"`
	Error        *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the wire form of an error.
type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func errorBody(err error) *ErrorBody {
	var pe *pperrors.PagepackError
	if errors.As(err, &pe) {
		return &ErrorBody{Type: string(pe.Type), Code: pe.Code, Message: err.Error(), Path: pe.Path}
	}
	return &ErrorBody{Type: string(pperrors.ErrorTypeInternal), Message: err.Error()}
}

// RouteInfo describes one route; endpoint handles are keyed by role.
type RouteInfo struct {
	Pathname  string            `json:"pathname"`
	Type      route.Kind        `json:"type"`
	Endpoints map[string]string `json:"endpoints,omitempty"`
	Sources   []string          `json:"sources,omitempty"`
}

type projectNewParams struct {
	Options project.Options `json:"options"`
}

type projectParams struct {
	Project string `json:"project"`
}

type routesSubscribeParams struct {
	Project string                `json:"project"`
	Options project.RoutesOptions `json:"options"`
}

type endpointParams struct {
	Endpoint string `json:"endpoint"`
}

type subscriptionParams struct {
	Subscription string `json:"subscription"`
}

// Handle is an object handed out to the host by id.
type Handle struct {
	Engine *incremental.Engine
	Value  any
}

// HandleTable maps opaque ids to handles for one connection.
type HandleTable struct {
	mu      sync.Mutex
	next    uint64
	handles map[string]entry
}

type entry struct {
	seq    uint64
	handle Handle
}

// NewHandleTable returns an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{handles: make(map[string]entry)}
}

// Insert stores h under a fresh id with the given prefix.
func (t *HandleTable) Insert(prefix string, h Handle) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := fmt.Sprintf("%s-%d", prefix, t.next)
	t.handles[id] = entry{seq: t.next, handle: h}
	return id
}

// Get returns the handle for id.
func (t *HandleTable) Get(id string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.handles[id]
	return e.handle, ok
}

// Remove deletes id and returns what it held.
func (t *HandleTable) Remove(id string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.handles[id]
	delete(t.handles, id)
	return e.handle, ok
}

// RemoveEngine deletes every handle bound to e and returns them newest
// first.
func (t *HandleTable) RemoveEngine(e *incremental.Engine) []Handle {
	t.mu.Lock()
	var entries []entry
	for id, en := range t.handles {
		if en.handle.Engine == e {
			entries = append(entries, en)
			delete(t.handles, id)
		}
	}
	t.mu.Unlock()
	return newestFirst(entries)
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Drain empties the table and returns its handles, newest first, so that
// subscriptions go before the projects they read from.
func (t *HandleTable) Drain() []Handle {
	t.mu.Lock()
	entries := make([]entry, 0, len(t.handles))
	for _, e := range t.handles {
		entries = append(entries, e)
	}
	t.handles = make(map[string]entry)
	t.mu.Unlock()
	return newestFirst(entries)
}

func newestFirst(entries []entry) []Handle {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	out := make([]Handle, len(entries))
	for i, e := range entries {
		out[i] = e.handle
	}
	return out
}

func typed[T any](t *HandleTable, id, what string) (Handle, T, error) {
	var zero T
	h, ok := t.Get(id)
	if !ok {
		return Handle{}, zero, pperrors.NewNotFoundError(what + " " + id)
	}
	// Handles die with their engine.
	if h.Engine != nil && h.Engine.Closed() {
		return Handle{}, zero, pperrors.NewNotFoundError(what + " " + id + " (project closed)")
	}
	v, ok := h.Value.(T)
	if !ok {
		return Handle{}, zero, pperrors.NewNotFoundError(what + " " + id)
	}
	return h, v, nil
}
