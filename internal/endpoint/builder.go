// Package endpoint compiles routes into runtime-specific output. Every
// endpoint owns a compile cell; WriteToDisk materializes the cell's value and
// Changed waits for the value to differ.
package endpoint

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/chunk"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/route"
	"github.com/conneroisu/pagepack/internal/structure"
)

// DefaultDistDir is the output directory inside the project.
const DefaultDistDir = ".pagepack"

// PagesFunc returns the pages structure for a set of page extensions. Page
// endpoints read the _app and _document shells through it.
type PagesFunc func(ctx context.Context, rc *incremental.ReadContext, extensions []string) (*structure.PagesStructure, error)

// Options configure a Builder.
type Options struct {
	Engine *incremental.Engine
	FS     billy.Filesystem
	// ProjectDir is the project directory relative to the filesystem root.
	ProjectDir string
	// DistDir is the output directory relative to ProjectDir.
	DistDir string
	Mode    asset.Mode
	// Env holds environment variables defined at compile time. Optional.
	Env     *incremental.Cell[map[string]string]
	Pages   PagesFunc
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// Builder creates the endpoints of one project and keeps them by key so a
// route recomputed after a change hands out the same endpoint.
type Builder struct {
	engine     *incremental.Engine
	fs         billy.Filesystem
	projectDir string
	distDir    string
	mode       asset.Mode
	env        *incremental.Cell[map[string]string]
	pages      PagesFunc
	metrics    *metrics.Metrics
	logger     logging.Logger

	contexts *incremental.Cell[*Contexts]
	emitter  *chunk.Emitter

	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	if opts.DistDir == "" {
		opts.DistDir = DefaultDistDir
	}
	if opts.Mode == "" {
		opts.Mode = asset.ModeDevelopment
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Pages == nil {
		opts.Pages = func(ctx context.Context, rc *incremental.ReadContext, extensions []string) (*structure.PagesStructure, error) {
			return structure.ScanPages(ctx, rc, opts.FS, opts.ProjectDir, extensions)
		}
	}
	projectDir := strings.Trim(path.Clean("/"+opts.ProjectDir), "/")

	b := &Builder{
		engine:     opts.Engine,
		fs:         opts.FS,
		projectDir: projectDir,
		distDir:    opts.DistDir,
		mode:       opts.Mode,
		env:        opts.Env,
		pages:      opts.Pages,
		metrics:    opts.Metrics,
		logger:     opts.Logger.WithComponent("endpoint"),
		endpoints:  make(map[string]*Endpoint),
	}
	b.contexts = b.contextsCell()
	b.emitter = &chunk.Emitter{Client: chunk.Target{
		Dir:    b.distPath("static/chunks"),
		Hashed: opts.Mode == asset.ModeBuild,
	}}
	return b
}

// Contexts returns the project's module asset contexts.
func (b *Builder) Contexts(ctx context.Context, rc *incremental.ReadContext) (*Contexts, error) {
	return incremental.Read(ctx, rc, b.contexts)
}

// DistDir returns the output directory relative to the filesystem root.
func (b *Builder) DistDir() string { return b.distPath("") }

// StaticDir returns the directory holding browser chunks, relative to the
// filesystem root.
func (b *Builder) StaticDir() string { return b.distPath("static") }

func (b *Builder) distPath(sub string) string {
	return path.Join(b.projectDir, b.distDir, sub)
}

// projectRelative turns a root-relative output path into a project-relative
// one.
func (b *Builder) projectRelative(p string) string {
	if b.projectDir == "" {
		return p
	}
	return strings.TrimPrefix(p, b.projectDir+"/")
}

// Len returns the number of endpoints created so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.endpoints)
}

// Lookup returns a previously created endpoint.
func (b *Builder) Lookup(key string) (*Endpoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.endpoints[key]
	return e, ok
}

func (b *Builder) endpoint(kind Kind, key string, compile compileFunc) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.endpoints[key]; ok {
		return e
	}
	e := &Endpoint{builder: b, kind: kind, key: key}
	e.cell = incremental.NewCell(b.engine, "endpoint "+key, func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error) {
		return compile(ctx, rc)
	})
	b.endpoints[key] = e
	return e
}

// Factory returns a route factory whose page endpoints read the shells
// scanned with extensions.
func (b *Builder) Factory(extensions []string) route.Factory {
	if len(extensions) == 0 {
		extensions = structure.DefaultPageExtensions
	}
	return &factory{builder: b, extensions: append([]string(nil), extensions...)}
}

type factory struct {
	builder    *Builder
	extensions []string
}

func (f *factory) extKey() string { return strings.Join(f.extensions, ",") }

func (f *factory) PageHTML(item *structure.Item) route.Endpoint {
	key := string(KindPageHTML) + ":" + item.ProjectPath + "#" + f.extKey()
	return f.builder.endpoint(KindPageHTML, key, func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error) {
		return f.builder.compilePageHTML(ctx, rc, item, f.extensions)
	})
}

func (f *factory) PageData(item *structure.Item) route.Endpoint {
	key := string(KindPageData) + ":" + item.ProjectPath
	return f.builder.endpoint(KindPageData, key, func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error) {
		return f.builder.compilePageData(ctx, rc, item)
	})
}

func (f *factory) PageAPI(item *structure.Item) route.Endpoint {
	key := string(KindPageAPI) + ":" + item.ProjectPath
	return f.builder.endpoint(KindPageAPI, key, func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error) {
		return f.builder.compileAPI(ctx, rc, item)
	})
}

func (f *factory) AppPage(ep structure.AppEntrypoint, variant route.AppPageVariant) route.Endpoint {
	kind := KindAppPageHTML
	if variant == route.AppPageRSC {
		kind = KindAppPageRSC
	}
	key := appKey(kind, ep)
	return f.builder.endpoint(kind, key, func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error) {
		return f.builder.compileAppPage(ctx, rc, ep, variant)
	})
}

func (f *factory) AppRoute(ep structure.AppEntrypoint) route.Endpoint {
	key := appKey(KindAppRoute, ep)
	return f.builder.endpoint(KindAppRoute, key, func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error) {
		return f.builder.compileAppRoute(ctx, rc, ep)
	})
}

// appKey covers everything an app endpoint compiles from, so a changed
// layout chain yields a new endpoint.
func appKey(kind Kind, ep structure.AppEntrypoint) string {
	key := string(kind) + ":" + ep.ProjectPath + "@" + ep.Pathname
	if len(ep.Layouts) > 0 {
		key += "|" + strings.Join(ep.Layouts, ",")
	}
	if ep.NotFound != "" {
		key += "|" + ep.NotFound
	}
	return key
}
