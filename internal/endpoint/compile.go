package endpoint

import (
	"context"
	"fmt"
	"path"
	"regexp"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/chunk"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/route"
	"github.com/conneroisu/pagepack/internal/structure"
	"github.com/conneroisu/pagepack/internal/transition"
)

// runtimeRe matches `export const runtime = "edge"` and
// `export const config = { runtime: "edge" }`.
var runtimeRe = regexp.MustCompile(`(?m)\bruntime\s*[:=]\s*['"]([A-Za-z-]+)['"]`)

// DetectRuntime reads the runtime a handler declares. An unknown value emits
// a warning and falls back to nodejs.
func DetectRuntime(rc *incremental.ReadContext, projectPath string, content []byte) Runtime {
	m := runtimeRe.FindSubmatch(content)
	if m == nil {
		return RuntimeNodeJs
	}
	switch v := string(m[1]); v {
	case "edge", "experimental-edge":
		return RuntimeEdge
	case "nodejs":
		return RuntimeNodeJs
	default:
		rc.Emit(pperrors.Issue{
			Severity:    pperrors.SeverityWarning,
			Category:    "config",
			Context:     projectPath,
			Title:       fmt.Sprintf("Unsupported runtime %q", v),
			Description: "Supported runtimes are nodejs and edge. Falling back to nodejs.",
		})
		return RuntimeNodeJs
	}
}

func (b *Builder) source(projectPath string) (asset.Source, error) {
	return asset.SourceFor(b.fs, projectPath)
}

func (b *Builder) process(ctx context.Context, rc *incremental.ReadContext, actx *transition.Context, projectPath string, ref asset.ReferenceType) (*transition.Module, error) {
	src, err := b.source(projectPath)
	if err != nil {
		return nil, err
	}
	return actx.Process(ctx, rc, src, ref)
}

func (b *Builder) compilePageHTML(ctx context.Context, rc *incremental.ReadContext, item *structure.Item, extensions []string) (*Compiled, error) {
	cx, err := b.Contexts(ctx, rc)
	if err != nil {
		return nil, err
	}
	ps, err := b.pages(ctx, rc, extensions)
	if err != nil {
		return nil, err
	}
	app, document := ps.App, ps.Document
	if app == nil {
		app = structure.BuiltinItem("_app")
	}
	if document == nil {
		document = structure.BuiltinItem("_document")
	}

	inner := map[string]*transition.Module{}
	for name, p := range map[string]string{"DOCUMENT": document.ProjectPath, "APP": app.ProjectPath, "PAGE": item.ProjectPath} {
		m, err := b.process(ctx, rc, cx.Server, p, asset.RefInternal)
		if err != nil {
			return nil, err
		}
		inner[name] = m
	}
	renderer := cx.Server.NewModule(asset.MustBuiltin("entry/server-renderer.js"), asset.RefEntry, inner)

	name := chunk.RouteName(item.RouterPath)
	server, err := b.emitter.Emit(ctx, rc, renderer, chunk.Target{Dir: b.distPath("server/pages")}, name)
	if err != nil {
		return nil, err
	}

	clientApp, err := b.process(ctx, rc, cx.Browser, app.ProjectPath, asset.RefInternal)
	if err != nil {
		return nil, err
	}
	clientPage, err := b.process(ctx, rc, cx.Browser, item.ProjectPath, asset.RefInternal)
	if err != nil {
		return nil, err
	}
	loader := cx.Browser.NewModule(asset.MustBuiltin("entry/page-loader.js"), asset.RefEntry, map[string]*transition.Module{
		"APP":  clientApp,
		"PAGE": clientPage,
	})
	client, err := b.emitter.EmitGroup(ctx, rc, loader, "pages/"+name)
	if err != nil {
		return nil, err
	}

	return b.assemble(RuntimeNodeJs, server, client), nil
}

func (b *Builder) compilePageData(ctx context.Context, rc *incremental.ReadContext, item *structure.Item) (*Compiled, error) {
	cx, err := b.Contexts(ctx, rc)
	if err != nil {
		return nil, err
	}
	page, err := b.process(ctx, rc, cx.Data, item.ProjectPath, asset.RefInternal)
	if err != nil {
		return nil, err
	}
	wrapper := cx.Data.NewModule(asset.MustBuiltin("entry/server-data.js"), asset.RefEntry, map[string]*transition.Module{"PAGE": page})
	server, err := b.emitter.Emit(ctx, rc, wrapper, chunk.Target{Dir: b.distPath("server/data")}, chunk.RouteName(item.RouterPath))
	if err != nil {
		return nil, err
	}
	return b.assemble(RuntimeNodeJs, server), nil
}

// compileHandler compiles an API or app route handler for the runtime it
// declares. wrapperName is the node bootstrap; edge handlers use the edge
// route transition.
func (b *Builder) compileHandler(ctx context.Context, rc *incremental.ReadContext, actx *transition.Context, projectPath, wrapperName, nodeDir, edgeDir, name string) (*Compiled, error) {
	src, err := b.source(projectPath)
	if err != nil {
		return nil, err
	}
	content, err := src.Content(ctx, rc)
	if err != nil {
		return nil, err
	}

	var (
		entry  *transition.Module
		target chunk.Target
	)
	runtime := DetectRuntime(rc, projectPath, content)
	if runtime == RuntimeEdge {
		edgeCtx, err := actx.WithTransition(transition.EdgeRouteName)
		if err != nil {
			return nil, err
		}
		entry, err = edgeCtx.Process(ctx, rc, src, asset.RefEntry)
		if err != nil {
			return nil, err
		}
		target = chunk.Target{Dir: b.distPath(edgeDir)}
	} else {
		handler, err := actx.Process(ctx, rc, src, asset.RefInternal)
		if err != nil {
			return nil, err
		}
		entry = actx.NewModule(asset.MustBuiltin(wrapperName), asset.RefEntry, map[string]*transition.Module{"ENTRY": handler})
		target = chunk.Target{Dir: b.distPath(nodeDir)}
	}

	server, err := b.emitter.Emit(ctx, rc, entry, target, name)
	if err != nil {
		return nil, err
	}
	return b.assemble(runtime, server), nil
}

func (b *Builder) compileAPI(ctx context.Context, rc *incremental.ReadContext, item *structure.Item) (*Compiled, error) {
	cx, err := b.Contexts(ctx, rc)
	if err != nil {
		return nil, err
	}
	return b.compileHandler(ctx, rc, cx.Server, item.ProjectPath, "entry/api.js",
		"server/pages", "server/edge/pages", chunk.RouteName(item.RouterPath))
}

func (b *Builder) compileAppRoute(ctx context.Context, rc *incremental.ReadContext, ep structure.AppEntrypoint) (*Compiled, error) {
	cx, err := b.Contexts(ctx, rc)
	if err != nil {
		return nil, err
	}
	rsc, err := cx.Server.WithTransition(transition.ServerComponentName)
	if err != nil {
		return nil, err
	}
	name := path.Join(chunk.RouteName(ep.Pathname), "route")
	return b.compileHandler(ctx, rc, rsc, ep.ProjectPath, "entry/app-route.js",
		"server/app", "server/edge/app", name)
}

func (b *Builder) compileAppPage(ctx context.Context, rc *incremental.ReadContext, ep structure.AppEntrypoint, variant route.AppPageVariant) (*Compiled, error) {
	cx, err := b.Contexts(ctx, rc)
	if err != nil {
		return nil, err
	}
	rsc, err := cx.Server.WithTransition(transition.ServerComponentName)
	if err != nil {
		return nil, err
	}

	inner := map[string]*transition.Module{}
	page, err := b.process(ctx, rc, rsc, ep.ProjectPath, asset.RefInternal)
	if err != nil {
		return nil, err
	}
	inner["PAGE"] = page
	for i, layout := range ep.Layouts {
		m, err := b.process(ctx, rc, rsc, layout, asset.RefInternal)
		if err != nil {
			return nil, err
		}
		inner[fmt.Sprintf("LAYOUT_%d", i)] = m
	}
	if ep.NotFound != "" {
		m, err := b.process(ctx, rc, rsc, ep.NotFound, asset.RefInternal)
		if err != nil {
			return nil, err
		}
		inner["NOT_FOUND"] = m
	}

	bootstrap, err := rsc.Process(ctx, rc, asset.MustBuiltin("entry/app-page.js"), asset.RefEntry)
	if err != nil {
		return nil, err
	}
	bootstrap.Inner = inner

	file := "page"
	if variant == route.AppPageRSC {
		file = "page.rsc"
	}
	name := path.Join(chunk.RouteName(ep.Pathname), file)
	server, err := b.emitter.Emit(ctx, rc, bootstrap, chunk.Target{Dir: b.distPath("server/app")}, name)
	if err != nil {
		return nil, err
	}

	if variant == route.AppPageRSC {
		return b.assemble(RuntimeNodeJs, server), nil
	}

	hydrate := cx.Browser.NewModule(asset.MustBuiltin("entry/app-client.js"), asset.RefEntry, nil)
	client, err := b.emitter.EmitGroup(ctx, rc, hydrate, "app/"+chunk.RouteName(ep.Pathname))
	if err != nil {
		return nil, err
	}
	return b.assemble(RuntimeNodeJs, server, client), nil
}
