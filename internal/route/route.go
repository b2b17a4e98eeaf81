// Package route maps scanned page and app structures to routes and defines
// the Endpoint contract every compiled route target satisfies.
package route

import (
	"context"
	"sort"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/specificity"
)

// Endpoint is a compilable unit addressable by the host process.
type Endpoint interface {
	// WriteToDisk compiles the endpoint and materializes its output. Writing
	// an unchanged endpoint again is a no-op returning the same paths.
	WriteToDisk(ctx context.Context) (*WrittenEndpoint, error)
	// Changed blocks until the compiled output differs from what it was when
	// Changed was called, or until ctx is done.
	Changed(ctx context.Context) error
	// Key identifies the endpoint; equal keys mean the same endpoint.
	Key() string
}

// WrittenEndpoint lists the files an endpoint wrote, relative to the root.
type WrittenEndpoint struct {
	ServerEntryPath string   `json:"server_entry_path" yaml:"server_entry_path"`
	ServerPaths     []string `json:"server_paths" yaml:"server_paths"`
	ClientPaths     []string `json:"client_paths" yaml:"client_paths"`
	// Issues are the non-fatal diagnostics raised while compiling.
	Issues []pperrors.Issue `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Kind names a Route variant.
type Kind string

const (
	KindPage     Kind = "page"
	KindPageAPI  Kind = "page-api"
	KindAppPage  Kind = "app-page"
	KindAppRoute Kind = "app-route"
	KindConflict Kind = "conflict"
)

// Route is one of PageRoute, PageAPIRoute, AppPageRoute, AppRouteRoute or
// ConflictRoute.
type Route interface {
	Kind() Kind
	// Endpoints returns the route's endpoints keyed by role ("html", "data",
	// "rsc", "endpoint"). A conflict has none.
	Endpoints() map[string]Endpoint
	isRoute()
}

// Meta describes where a non-conflict route came from.
type Meta struct {
	Source      string
	Specificity specificity.Specificity
}

// PageRoute is a pages/ page: an HTML endpoint and a data endpoint.
type PageRoute struct {
	Meta
	HTML Endpoint
	Data Endpoint
}

// PageAPIRoute is a pages/api handler.
type PageAPIRoute struct {
	Meta
	Endpoint Endpoint
}

// AppPageRoute is an app/ page with HTML and RSC variants.
type AppPageRoute struct {
	Meta
	HTML Endpoint
	RSC  Endpoint
}

// AppRouteRoute is an app/ route handler.
type AppRouteRoute struct {
	Meta
	Endpoint Endpoint
}

// ConflictRoute holds every route that claimed the same pathname.
type ConflictRoute struct {
	Routes []Route
}

func (PageRoute) Kind() Kind     { return KindPage }
func (PageAPIRoute) Kind() Kind  { return KindPageAPI }
func (AppPageRoute) Kind() Kind  { return KindAppPage }
func (AppRouteRoute) Kind() Kind { return KindAppRoute }
func (ConflictRoute) Kind() Kind { return KindConflict }

func (r PageRoute) Endpoints() map[string]Endpoint {
	return map[string]Endpoint{"html": r.HTML, "data": r.Data}
}
func (r PageAPIRoute) Endpoints() map[string]Endpoint {
	return map[string]Endpoint{"endpoint": r.Endpoint}
}
func (r AppPageRoute) Endpoints() map[string]Endpoint {
	return map[string]Endpoint{"html": r.HTML, "rsc": r.RSC}
}
func (r AppRouteRoute) Endpoints() map[string]Endpoint {
	return map[string]Endpoint{"endpoint": r.Endpoint}
}
func (ConflictRoute) Endpoints() map[string]Endpoint { return nil }

func (PageRoute) isRoute()     {}
func (PageAPIRoute) isRoute()  {}
func (AppPageRoute) isRoute()  {}
func (AppRouteRoute) isRoute() {}
func (ConflictRoute) isRoute() {}

// MetaOf returns the metadata of a non-conflict route.
func MetaOf(r Route) (Meta, bool) {
	switch v := r.(type) {
	case PageRoute:
		return v.Meta, true
	case PageAPIRoute:
		return v.Meta, true
	case AppPageRoute:
		return v.Meta, true
	case AppRouteRoute:
		return v.Meta, true
	}
	return Meta{}, false
}

// Sources lists the source files behind a route, flattening conflicts.
func Sources(r Route) []string {
	if c, ok := r.(ConflictRoute); ok {
		var out []string
		for _, inner := range c.Routes {
			out = append(out, Sources(inner)...)
		}
		return out
	}
	m, _ := MetaOf(r)
	return []string{m.Source}
}

// Routes is a pathname-keyed collection. Each pathname holds at most one
// non-conflict route.
type Routes struct {
	byPath map[string]Route
}

// NewRoutes returns an empty collection.
func NewRoutes() *Routes {
	return &Routes{byPath: make(map[string]Route)}
}

// Insert adds r at pathname. If the pathname is taken, both routes are kept
// inside a ConflictRoute.
func (rs *Routes) Insert(pathname string, r Route) {
	existing, ok := rs.byPath[pathname]
	if !ok {
		rs.byPath[pathname] = r
		return
	}
	var merged []Route
	if c, ok := existing.(ConflictRoute); ok {
		merged = append(merged, c.Routes...)
	} else {
		merged = append(merged, existing)
	}
	if c, ok := r.(ConflictRoute); ok {
		merged = append(merged, c.Routes...)
	} else {
		merged = append(merged, r)
	}
	rs.byPath[pathname] = ConflictRoute{Routes: merged}
}

// Get returns the route at pathname.
func (rs *Routes) Get(pathname string) (Route, bool) {
	r, ok := rs.byPath[pathname]
	return r, ok
}

// Len returns the number of pathnames.
func (rs *Routes) Len() int { return len(rs.byPath) }

// Pathnames returns every pathname in sorted order.
func (rs *Routes) Pathnames() []string {
	out := make([]string, 0, len(rs.byPath))
	for p := range rs.byPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Conflicts returns the pathnames holding a ConflictRoute, sorted.
func (rs *Routes) Conflicts() []string {
	var out []string
	for _, p := range rs.Pathnames() {
		if rs.byPath[p].Kind() == KindConflict {
			out = append(out, p)
		}
	}
	return out
}

// Merge inserts every route of other into rs.
func (rs *Routes) Merge(other *Routes) {
	if other == nil {
		return
	}
	for _, p := range other.Pathnames() {
		rs.Insert(p, other.byPath[p])
	}
}
