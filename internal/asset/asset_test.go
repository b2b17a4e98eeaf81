package asset

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

func TestBuiltinSources(t *testing.T) {
	for _, name := range []string{
		"pages/_app.tsx", "pages/_document.tsx", "pages/_error.tsx",
		"entry/page-loader.js", "entry/server-renderer.js", "entry/server-data.js",
		"entry/api.js", "entry/server-to-client.js", "entry/edge-bootstrap.js",
		"entry/app-page.js", "entry/app-route.js", "entry/app-client.js", "document.html",
	} {
		b, err := Builtin(name)
		require.NoError(t, err, name)
		assert.Equal(t, "builtin:"+name, b.Ident())
		content, err := b.Content(context.Background(), nil)
		require.NoError(t, err)
		assert.NotEmpty(t, content, name)
	}

	_, err := Builtin("entry/missing.js")
	assert.Error(t, err)
}

func TestSourceFor(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "pages/a.js", []byte("a"), 0o644))

	src, err := SourceFor(fs, "builtin:pages/_app.tsx")
	require.NoError(t, err)
	assert.Equal(t, "builtin:pages/_app.tsx", src.Ident())

	src, err = SourceFor(fs, "pages/a.js")
	require.NoError(t, err)
	content, err := src.Content(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", string(content))

	missing := &FileSource{FS: fs, Path: "pages/none.js"}
	_, err = missing.Content(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, pperrors.IsBuildError(err))
}

func TestContextValuesCopy(t *testing.T) {
	info := CompileTimeInfo{Environment: EnvNodeJs, Defines: map[string]string{"A": "1"}}
	browser := info.WithEnvironment(EnvBrowser)
	browser.Defines["B"] = "2"

	assert.Equal(t, EnvNodeJs, info.Environment)
	assert.Len(t, info.Defines, 1)
	assert.Equal(t, []string{"A", "B"}, browser.DefineKeys())

	ro := ResolveOptionsContext{Conditions: []string{"node"}}
	rsc := ro.WithCondition("react-server").WithCondition("react-server")
	assert.Equal(t, []string{"node", "react-server"}, rsc.Conditions)
	assert.Equal(t, []string{"node"}, ro.Conditions)
}
