package structure

import (
	"context"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagepack/internal/incremental"
)

func newFS(t *testing.T, files ...string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for _, f := range files {
		require.NoError(t, util.WriteFile(fs, f, []byte("export default function() {}"), 0o644))
	}
	return fs
}

func itemPaths(d *Directory) []string {
	var out []string
	d.Walk(func(i *Item) { out = append(out, i.RouterPath) })
	return out
}

func TestScanPagesBasic(t *testing.T) {
	fs := newFS(t,
		"proj/pages/index.tsx",
		"proj/pages/about.tsx",
		"proj/pages/[slug].tsx",
		"proj/pages/README.md",
	)

	ps, err := ScanPages(context.Background(), incremental.Untracked(), fs, "proj", nil)
	require.NoError(t, err)
	require.NotNil(t, ps.Pages)

	require.Len(t, ps.Pages.Items, 3)
	assert.Equal(t, "proj/pages/[slug].tsx", ps.Pages.Items[0].ProjectPath)
	assert.Equal(t, "/[slug]", ps.Pages.Items[0].RouterPath)
	assert.Equal(t, "d0", ps.Pages.Items[0].Specificity.String())
	assert.Equal(t, "/about", ps.Pages.Items[1].RouterPath)
	assert.True(t, ps.Pages.Items[1].Specificity.IsExact())
	assert.Equal(t, "/", ps.Pages.Items[2].RouterPath)
	assert.True(t, ps.Pages.Items[2].Specificity.IsExact())

	assert.True(t, ps.App.Builtin)
	assert.True(t, ps.Document.Builtin)
	assert.True(t, ps.Error.Builtin)
	assert.Nil(t, ps.API)
}

// reversedFS lists every directory backwards.
type reversedFS struct{ billy.Filesystem }

func (r reversedFS) ReadDir(p string) ([]os.FileInfo, error) {
	entries, err := r.Filesystem.ReadDir(p)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, err
}

func TestScanPagesIgnoresListingOrder(t *testing.T) {
	fs := newFS(t,
		"proj/pages/index.tsx",
		"proj/pages/about.tsx",
		"proj/pages/_app.tsx",
		"proj/pages/[slug].tsx",
		"proj/pages/blog/index.tsx",
		"proj/pages/blog/[...rest].tsx",
		"proj/pages/api/hello.ts",
		"proj/pages/api/users/[id].ts",
	)

	forward, err := ScanPages(context.Background(), incremental.Untracked(), fs, "proj", nil)
	require.NoError(t, err)
	backward, err := ScanPages(context.Background(), incremental.Untracked(), reversedFS{fs}, "proj", nil)
	require.NoError(t, err)
	assert.Equal(t, forward, backward)
}

func TestScanPagesSingletonsAndAPI(t *testing.T) {
	fs := newFS(t,
		"pages/_app.js",
		"pages/_app.tsx",
		"pages/_document.tsx",
		"pages/api/hello.ts",
		"pages/api/users/[id].ts",
		"pages/blog/index.tsx",
		"pages/blog/[slug].tsx",
		"pages/docs/[...path].tsx",
	)

	rc := incremental.Untracked()
	ps, err := ScanPages(context.Background(), rc, fs, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "pages/_app.js", ps.App.ProjectPath)
	assert.False(t, ps.App.Builtin)
	assert.Equal(t, "pages/_document.tsx", ps.Document.ProjectPath)
	assert.True(t, ps.Error.Builtin)
	require.Len(t, rc.Issues(), 1)
	assert.Contains(t, rc.Issues()[0].Title, "Duplicate _app")

	require.NotNil(t, ps.API)
	assert.Equal(t, []string{"/api/hello", "/api/users/[id]"}, itemPaths(ps.API))

	assert.Equal(t, []string{"/blog/[slug]", "/blog", "/docs/[...path]"}, itemPaths(ps.Pages))
	for _, child := range ps.Pages.Children {
		assert.NotEqual(t, "api", child.ProjectPath)
	}

	var slug, docs *Item
	ps.Pages.Walk(func(i *Item) {
		switch i.RouterPath {
		case "/blog/[slug]":
			slug = i
		case "/docs/[...path]":
			docs = i
		}
	})
	assert.Equal(t, "d1", slug.Specificity.String())
	assert.Equal(t, "c1", docs.Specificity.String())
}

func TestScanPagesSrcFallbackAndMissing(t *testing.T) {
	fs := newFS(t, "src/pages/index.js")
	ps, err := ScanPages(context.Background(), nil, fs, "", []string{"js"})
	require.NoError(t, err)
	require.NotNil(t, ps.Pages)
	assert.Equal(t, "src/pages", ps.Pages.ProjectPath)

	empty, err := ScanPages(context.Background(), nil, memfs.New(), "", nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Pages)
	assert.NotNil(t, empty.App)
}

func TestScanPagesDynamicDirectory(t *testing.T) {
	fs := newFS(t, "pages/[team]/settings.tsx", "pages/[team]/index.tsx")
	ps, err := ScanPages(context.Background(), nil, fs, "", nil)
	require.NoError(t, err)

	require.Len(t, ps.Pages.Children, 1)
	team := ps.Pages.Children[0]
	require.Len(t, team.Items, 2)
	assert.Equal(t, "/[team]", team.Items[0].RouterPath)
	assert.Equal(t, "d0", team.Items[0].Specificity.String())
	assert.Equal(t, "/[team]/settings", team.Items[1].RouterPath)
	assert.Equal(t, "d0", team.Items[1].Specificity.String())
}

func TestScanPagesTracksListing(t *testing.T) {
	fs := newFS(t, "pages/index.tsx")
	e := incremental.NewEngine(nil)
	defer e.Close()

	cell := incremental.NewCell(e, "pages", func(ctx context.Context, rc *incremental.ReadContext) (*PagesStructure, error) {
		return ScanPages(ctx, rc, fs, "", nil)
	})
	ps, err := cell.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, ps.Pages.Items, 1)

	require.NoError(t, util.WriteFile(fs, "pages/new.tsx", nil, 0o644))
	assert.Equal(t, 1, e.InvalidateListing("pages"))

	ps, err = cell.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, ps.Pages.Items, 2)
}

func TestScanApp(t *testing.T) {
	fs := newFS(t,
		"app/layout.tsx",
		"app/page.tsx",
		"app/not-found.tsx",
		"app/robots.txt",
		"app/sitemap.ts",
		"app/(marketing)/about/page.tsx",
		"app/(marketing)/layout.tsx",
		"app/blog/[slug]/page.tsx",
		"app/api/health/route.ts",
		"app/both/page.tsx",
		"app/both/route.ts",
		"app/@modal/photos/page.tsx",
		"app/_private/page.tsx",
	)

	rc := incremental.Untracked()
	app, err := ScanApp(context.Background(), rc, fs, "", nil)
	require.NoError(t, err)
	require.NotNil(t, app)

	assert.Equal(t, []string{"/", "/about", "/api/health", "/blog/[slug]", "/both", "/photos"}, app.Pathnames())

	root := app.Entrypoints["/"]
	require.Len(t, root, 1)
	assert.Equal(t, []string{"app/layout.tsx"}, root[0].Layouts)
	assert.Equal(t, "app/not-found.tsx", root[0].NotFound)

	about := app.Entrypoints["/about"][0]
	assert.Equal(t, []string{"app/layout.tsx", "app/(marketing)/layout.tsx"}, about.Layouts)
	assert.True(t, about.Specificity.IsExact())

	assert.Equal(t, "d1", app.Entrypoints["/blog/[slug]"][0].Specificity.String())
	assert.Equal(t, AppRouteKind, app.Entrypoints["/api/health"][0].Kind)
	assert.Len(t, app.Entrypoints["/both"], 2)

	assert.Equal(t, "app/robots.txt", app.Metadata.Robots)
	assert.Empty(t, app.Metadata.Sitemap)
	assert.Equal(t, map[string]string{"/robots.txt": "app/robots.txt"}, app.Metadata.Files())

	issues := rc.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "Dynamic metadata from filesystem is currently not supported", issues[0].Title)
	assert.Equal(t, "app/sitemap.ts", issues[0].Context)
}

func TestScanAppMissing(t *testing.T) {
	app, err := ScanApp(context.Background(), nil, memfs.New(), "", nil)
	require.NoError(t, err)
	assert.Nil(t, app)
}
