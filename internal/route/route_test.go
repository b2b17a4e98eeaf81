package route

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagepack/internal/structure"
)

type fakeEndpoint struct{ key string }

func (f *fakeEndpoint) WriteToDisk(context.Context) (*WrittenEndpoint, error) {
	return &WrittenEndpoint{ServerEntryPath: f.key}, nil
}
func (f *fakeEndpoint) Changed(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeEndpoint) Key() string                        { return f.key }

type fakeFactory struct{ made map[string]*fakeEndpoint }

func newFakeFactory() *fakeFactory { return &fakeFactory{made: map[string]*fakeEndpoint{}} }

func (f *fakeFactory) get(key string) Endpoint {
	if e, ok := f.made[key]; ok {
		return e
	}
	e := &fakeEndpoint{key: key}
	f.made[key] = e
	return e
}

func (f *fakeFactory) PageHTML(i *structure.Item) Endpoint { return f.get("html:" + i.ProjectPath) }
func (f *fakeFactory) PageData(i *structure.Item) Endpoint { return f.get("data:" + i.ProjectPath) }
func (f *fakeFactory) PageAPI(i *structure.Item) Endpoint  { return f.get("api:" + i.ProjectPath) }
func (f *fakeFactory) AppPage(ep structure.AppEntrypoint, v AppPageVariant) Endpoint {
	return f.get(string(v) + ":" + ep.ProjectPath)
}
func (f *fakeFactory) AppRoute(ep structure.AppEntrypoint) Endpoint {
	return f.get("route:" + ep.ProjectPath)
}

func scan(t *testing.T, files ...string) (*structure.PagesStructure, *structure.AppStructure) {
	t.Helper()
	fs := memfs.New()
	for _, f := range files {
		require.NoError(t, util.WriteFile(fs, f, nil, 0o644))
	}
	ps, err := structure.ScanPages(context.Background(), nil, fs, "", nil)
	require.NoError(t, err)
	app, err := structure.ScanApp(context.Background(), nil, fs, "", nil)
	require.NoError(t, err)
	return ps, app
}

func TestFromPages(t *testing.T) {
	ps, _ := scan(t, "pages/index.tsx", "pages/about.tsx", "pages/[slug].tsx", "pages/api/hello.ts")
	routes := FromPages(ps, newFakeFactory())

	assert.Equal(t, []string{"/", "/[slug]", "/about", "/api/hello"}, routes.Pathnames())

	r, ok := routes.Get("/about")
	require.True(t, ok)
	page, ok := r.(PageRoute)
	require.True(t, ok)
	assert.Equal(t, "html:pages/about.tsx", page.HTML.Key())
	assert.Equal(t, "data:pages/about.tsx", page.Data.Key())

	api, _ := routes.Get("/api/hello")
	assert.Equal(t, KindPageAPI, api.Kind())
	assert.Equal(t, "api:pages/api/hello.ts", api.Endpoints()["endpoint"].Key())
	assert.Empty(t, routes.Conflicts())
}

func TestDuplicateExtensionsConflict(t *testing.T) {
	ps, _ := scan(t, "pages/a.js", "pages/a.ts")
	routes := FromPages(ps, newFakeFactory())

	r, ok := routes.Get("/a")
	require.True(t, ok)
	conflict, ok := r.(ConflictRoute)
	require.True(t, ok)
	require.Len(t, conflict.Routes, 2)
	assert.Equal(t, []string{"pages/a.js", "pages/a.ts"}, Sources(r))
	assert.Equal(t, []string{"/a"}, routes.Conflicts())
	assert.Nil(t, r.Endpoints())
}

func TestPagesAndAppOverlapConflict(t *testing.T) {
	ps, app := scan(t, "pages/about.tsx", "app/about/page.tsx", "app/blog/page.tsx")
	routes := Resolve(ps, app, newFakeFactory())

	about, _ := routes.Get("/about")
	assert.Equal(t, KindConflict, about.Kind())
	assert.Equal(t, []string{"pages/about.tsx", "app/about/page.tsx"}, Sources(about))

	blog, _ := routes.Get("/blog")
	require.Equal(t, KindAppPage, blog.Kind())
	appPage := blog.(AppPageRoute)
	assert.Equal(t, "html:app/blog/page.tsx", appPage.HTML.Key())
	assert.Equal(t, "rsc:app/blog/page.tsx", appPage.RSC.Key())
}

func TestAppEntrypointToRoute(t *testing.T) {
	f := newFakeFactory()
	page := structure.AppEntrypoint{Kind: structure.AppPageKind, Pathname: "/x", ProjectPath: "app/x/page.tsx"}
	handler := structure.AppEntrypoint{Kind: structure.AppRouteKind, Pathname: "/x", ProjectPath: "app/x/route.ts"}

	assert.Equal(t, KindAppPage, AppEntrypointToRoute([]structure.AppEntrypoint{page}, f).Kind())
	assert.Equal(t, KindAppRoute, AppEntrypointToRoute([]structure.AppEntrypoint{handler}, f).Kind())

	both := AppEntrypointToRoute([]structure.AppEntrypoint{page, handler}, f)
	require.Equal(t, KindConflict, both.Kind())
	inner := both.(ConflictRoute).Routes
	require.Len(t, inner, 2)
	assert.Equal(t, KindAppPage, inner[0].Kind())
	assert.Equal(t, KindAppRoute, inner[1].Kind())
}

func TestRecomputationKeepsEndpointIdentity(t *testing.T) {
	f := newFakeFactory()
	ps, _ := scan(t, "pages/index.tsx")
	first := FromPages(ps, f)
	second := FromPages(ps, f)

	a, _ := first.Get("/")
	b, _ := second.Get("/")
	assert.Same(t, a.(PageRoute).HTML, b.(PageRoute).HTML)
}

func TestInsertConflictIntoConflict(t *testing.T) {
	rs := NewRoutes()
	rs.Insert("/x", PageRoute{Meta: Meta{Source: "a"}})
	rs.Insert("/x", PageRoute{Meta: Meta{Source: "b"}})
	rs.Insert("/x", ConflictRoute{Routes: []Route{PageRoute{Meta: Meta{Source: "c"}}}})

	r, _ := rs.Get("/x")
	assert.Equal(t, []string{"a", "b", "c"}, Sources(r))
	assert.Equal(t, 1, rs.Len())
}

func TestEmptyInputs(t *testing.T) {
	routes := Resolve(nil, nil, newFakeFactory())
	assert.Zero(t, routes.Len())
	routes.Merge(nil)
}
