package transition

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagepack/internal/asset"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

func environments() (browser, server, edge Environment) {
	exts := []string{"tsx", "ts", "jsx", "js"}
	browser = Environment{
		Info:           asset.CompileTimeInfo{Environment: asset.EnvBrowser, Defines: map[string]string{"process.browser": "true"}},
		ModuleOptions:  asset.ModuleOptionsContext{Layer: "client", EnableJSX: true},
		ResolveOptions: asset.ResolveOptionsContext{Extensions: exts, Conditions: []string{"browser"}},
	}
	server = Environment{
		Info:           asset.CompileTimeInfo{Environment: asset.EnvNodeJs},
		ModuleOptions:  asset.ModuleOptionsContext{Layer: "server", EnableJSX: true},
		ResolveOptions: asset.ResolveOptionsContext{Extensions: exts, Conditions: []string{"node"}},
	}
	edge = Environment{
		Info:           asset.CompileTimeInfo{Environment: asset.EnvEdge},
		ModuleOptions:  asset.ModuleOptionsContext{Layer: "edge"},
		ResolveOptions: asset.ResolveOptionsContext{Extensions: exts, Conditions: []string{"edge-light"}},
	}
	return
}

func serverContext() *Context {
	browser, server, edge := environments()
	return NewContext(Standard(browser, server, edge), server.Info, server.ModuleOptions, server.ResolveOptions)
}

func writeFiles(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func TestWithTransitionUnknown(t *testing.T) {
	_, err := serverContext().WithTransition("nope")
	require.Error(t, err)
	assert.True(t, pperrors.IsBuildError(err))
	assert.Contains(t, err.Error(), "client-chunks")
}

func TestDefaultProcessingKeepsContext(t *testing.T) {
	actx := serverContext()
	m, err := actx.Process(context.Background(), nil, &asset.VirtualSource{Name: "x"}, asset.RefEntry)
	require.NoError(t, err)
	assert.Equal(t, asset.EnvNodeJs, m.Info.Environment)
	assert.Equal(t, "virtual:x [nodejs/server]", m.Ident())
}

func TestClientTransitionSwitchesEnvironment(t *testing.T) {
	actx, err := serverContext().WithTransition(ClientName)
	require.NoError(t, err)
	assert.Equal(t, ClientName, actx.Active())

	m, err := actx.Process(context.Background(), nil, &asset.VirtualSource{Name: "x"}, asset.RefEntry)
	require.NoError(t, err)
	assert.Equal(t, asset.EnvBrowser, m.Info.Environment)
	assert.Equal(t, "true", m.Info.Defines["process.browser"])
	assert.Equal(t, []string{"browser"}, m.ResolveOptions.Conditions)
	assert.Empty(t, m.Context().Active())
}

func TestServerComponentTransition(t *testing.T) {
	actx, err := serverContext().WithTransition(ServerComponentName)
	require.NoError(t, err)

	m, err := actx.Process(context.Background(), nil, &asset.VirtualSource{Name: "p"}, asset.RefEntry)
	require.NoError(t, err)
	assert.True(t, m.ModuleOptions.ServerComponents)
	assert.Equal(t, "rsc", m.ModuleOptions.Layer)
	assert.Equal(t, []string{"node", "react-server"}, m.ResolveOptions.Conditions)
	assert.Equal(t, asset.EnvNodeJs, m.Info.Environment)
}

func TestEdgeRouteWrapsInBootstrap(t *testing.T) {
	actx, err := serverContext().WithTransition(EdgeRouteName)
	require.NoError(t, err)

	m, err := actx.Process(context.Background(), nil, &asset.VirtualSource{Name: "api/edge"}, asset.RefEntry)
	require.NoError(t, err)
	assert.Equal(t, "builtin:entry/edge-bootstrap.js", m.Source.Ident())
	require.Contains(t, m.Inner, "ENTRY")
	assert.Equal(t, asset.EnvEdge, m.Inner["ENTRY"].Info.Environment)
	assert.Equal(t, asset.EnvEdge, m.Info.Environment)
}

func TestUseClientBoundary(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"app/page.tsx":            "import Counter from './counter'\nimport React from 'react'\nexport default function Page() {}",
		"app/counter.tsx":         "'use client'\nimport { helper } from './lib/helper'\nexport default function Counter() {}",
		"app/lib/helper/index.ts": "export const helper = 1",
	})
	rsc, err := serverContext().WithTransition(ServerComponentName)
	require.NoError(t, err)

	page, err := rsc.Process(context.Background(), nil, &asset.FileSource{FS: fs, Path: "app/page.tsx"}, asset.RefEntry)
	require.NoError(t, err)

	refs, err := page.References(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "./counter", refs[0].Specifier)
	boundary := refs[0].Module
	require.NotNil(t, boundary)
	assert.Equal(t, "builtin:entry/server-to-client.js", boundary.Source.Ident())
	assert.Equal(t, []string{"CLIENT_CHUNKS", "CLIENT_MODULE"}, boundary.InnerNames())

	ssr := boundary.Inner["CLIENT_MODULE"]
	assert.Equal(t, asset.EnvNodeJs, ssr.Info.Environment)
	assert.False(t, ssr.ModuleOptions.ServerComponents)
	assert.Equal(t, "ssr", ssr.ModuleOptions.Layer)

	chunks := boundary.Inner["CLIENT_CHUNKS"]
	require.NotNil(t, chunks.ChunkGroup)
	assert.Equal(t, asset.EnvBrowser, chunks.ChunkGroup.Entry.Info.Environment)
	assert.Equal(t, "app/counter.tsx", chunks.ChunkGroup.Entry.Source.Ident())

	assert.Equal(t, "react", refs[1].Specifier)
	assert.True(t, refs[1].External)

	clientRefs, err := chunks.ChunkGroup.Entry.References(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, clientRefs, 1)
	assert.Equal(t, "app/lib/helper/index.ts", clientRefs[0].Module.Source.Ident())
	assert.Equal(t, asset.EnvBrowser, clientRefs[0].Module.Info.Environment)
}

func TestMissingRelativeImport(t *testing.T) {
	fs := writeFiles(t, map[string]string{"pages/index.js": "import x from './missing'"})
	m := serverContext().ProcessDefault(&asset.FileSource{FS: fs, Path: "pages/index.js"}, asset.RefEntry)

	_, err := m.References(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, pperrors.IsBuildError(err))
	assert.Contains(t, err.Error(), "Can't resolve './missing'")
}

func TestAliasResolution(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"pages/index.js":     "import Button from '@/components/button'",
		"src/components/button.js": "export default 1",
	})
	actx := serverContext()
	actx.ResolveOptions.Alias = map[string]string{"@/": "src/"}

	m := actx.ProcessDefault(&asset.FileSource{FS: fs, Path: "pages/index.js"}, asset.RefEntry)
	refs, err := m.References(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "src/components/button.js", refs[0].Module.Source.Ident())
}

func TestSpecifiersAndDirectives(t *testing.T) {
	content := []byte(`// header
"use client";
import a from "./a";
import {
  b,
  c,
} from '../b';
import "./side-effect.css";
export * from "./reexport";
const d = require("./d");
const e = import("./e");
import a2 from "./a";
`)
	assert.Equal(t, []string{"./a", "../b", "./side-effect.css", "./reexport", "./d", "./e"}, Specifiers(content))
	assert.True(t, HasDirective(content, "use client"))
	assert.False(t, HasDirective(content, "use server"))
	assert.False(t, HasDirective([]byte("const x = 'use client'"), "use client"))
}

func TestInnerAssetsAreReferences(t *testing.T) {
	actx := serverContext()
	page := actx.ProcessDefault(&asset.VirtualSource{Name: "page"}, asset.RefEntry)
	wrapper := actx.NewModule(asset.MustBuiltin("entry/server-data.js"), asset.RefEntry, map[string]*Module{"PAGE": page})

	refs, err := wrapper.References(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Same(t, page, refs[0].Module)

	broken := actx.NewModule(asset.MustBuiltin("entry/server-data.js"), asset.RefEntry, nil)
	_, err = broken.References(context.Background(), nil)
	require.Error(t, err)
}
