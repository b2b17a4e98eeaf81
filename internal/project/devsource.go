package project

import (
	"context"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/conneroisu/pagepack/internal/asset"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/route"
	"github.com/conneroisu/pagepack/internal/source"
	"github.com/conneroisu/pagepack/internal/specificity"
)

// Reserved URL paths of the dev server.
const (
	URLPrefix    = "/_pagepack/"
	StaticPrefix = "/_pagepack/static/"
	DataPrefix   = "/_pagepack/data"
	NotFoundPath = "/_pagepack/404"
	// RSCHeader selects the RSC variant of an app page.
	RSCHeader = "RSC"
)

// DevSource returns the cell holding the dev content source for opts. The
// source is rebuilt whenever the routes change.
func (p *Project) DevSource(opts RoutesOptions) *incremental.Cell[source.ContentSource] {
	return p.dev.Cell(opts.key())
}

func (p *Project) computeDevSource(ctx context.Context, rc *incremental.ReadContext, key string) (source.ContentSource, error) {
	routes, err := p.routes.Get(ctx, rc, key)
	if err != nil {
		return nil, err
	}
	app, err := p.app.Get(ctx, rc, key)
	if err != nil {
		return nil, err
	}

	var pageSources, dataSources []*source.RouteSource
	for _, pathname := range routes.Pathnames() {
		r, _ := routes.Get(pathname)
		ps, ds := p.routeSources(pathname, r)
		pageSources = append(pageSources, ps)
		if ds != nil {
			dataSources = append(dataSources, ds)
		}
	}
	bySpecificity(pageSources)
	bySpecificity(dataSources)

	public := &source.StaticSource{FS: p.fs, Dir: path.Join(p.projectDir, "public")}
	static := &source.StaticSource{FS: p.fs, Dir: p.builder.StaticDir(), Prefix: StaticPrefix}
	notFound := p.notFoundSource()

	// Exact routes win over files; files win over dynamic routes.
	sources := []source.ContentSource{source.ExactSource{Path: NotFoundPath, Source: notFound}}
	var dynamic []source.ContentSource
	for _, s := range pageSources {
		if s.Specificity.IsExact() {
			sources = append(sources, s)
		} else {
			dynamic = append(dynamic, s)
		}
	}
	for _, s := range dataSources {
		sources = append(sources, s)
	}
	sources = append(sources,
		static,
		public,
		&source.ImageSource{
			Assets:         source.NewCombined(public, static),
			Processor:      p.images,
			DefaultQuality: p.opts.ImageQuality,
		},
	)
	if app != nil {
		files := app.Metadata.Files()
		urls := make([]string, 0, len(files))
		for u := range files {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			sources = append(sources, source.ExactSource{Path: u, Source: p.fileSource(files[u])})
		}
	}
	sources = append(sources, dynamic...)
	sources = append(sources, notFound)

	return source.NewCombined(sources...), nil
}

// bySpecificity orders sources most specific first.
func bySpecificity(sources []*source.RouteSource) {
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[j].Specificity.Less(sources[i].Specificity)
	})
}

func (p *Project) routeSources(pathname string, r route.Route) (page, data *source.RouteSource) {
	spec := specificity.Exact()
	if meta, ok := route.MetaOf(r); ok {
		spec = meta.Specificity
	} else if c, ok := r.(route.ConflictRoute); ok && len(c.Routes) > 0 {
		if meta, ok := route.MetaOf(c.Routes[0]); ok {
			spec = meta.Specificity
		}
	}
	page = &source.RouteSource{Pattern: pathname, Specificity: spec}

	switch v := r.(type) {
	case route.PageRoute:
		page.Handler = p.pageHandler(pathname, v.HTML)
		data = &source.RouteSource{
			Pattern:     DataPath(pathname),
			Specificity: spec,
			Handler:     p.executeHandler(pathname, r.Kind(), RoleData, v.Data, nil),
		}
	case route.PageAPIRoute:
		page.Handler = p.executeHandler(pathname, r.Kind(), RoleHandler, v.Endpoint, &requestVary)
	case route.AppRouteRoute:
		page.Handler = p.executeHandler(pathname, r.Kind(), RoleHandler, v.Endpoint, &requestVary)
	case route.AppPageRoute:
		page.Handler = p.appPageHandler(pathname, v)
	case route.ConflictRoute:
		conflict := pperrors.NewConflictError(pathname, route.Sources(v))
		page.Handler = func(context.Context, string, source.Params, source.Data) (source.Result, error) {
			return overlay(conflict, nil), nil
		}
	}
	return page, data
}

// DataPath is the URL of a page's data route.
func DataPath(pathname string) string {
	if pathname == "/" {
		return DataPrefix + "/index"
	}
	return DataPrefix + pathname
}

// rscVary asks whether the request wants the RSC payload.
var rscVary = source.Vary{Headers: &source.Filter{Keys: []string{RSCHeader}}}

// requestVary is what a server handler sees of a request.
var requestVary = source.Vary{
	Method:  true,
	URL:     true,
	Headers: &source.Filter{All: true},
	Cookies: &source.Filter{All: true},
}

func (p *Project) pageHandler(pathname string, html route.Endpoint) source.RouteHandler {
	return func(ctx context.Context, _ string, params source.Params, _ source.Data) (source.Result, error) {
		written, err := html.WriteToDisk(ctx)
		if err != nil {
			return p.buildFailure(ctx, err)
		}
		return p.renderShell(ctx, pathname, params, written)
	}
}

func (p *Project) appPageHandler(pathname string, r route.AppPageRoute) source.RouteHandler {
	rsc := p.executeHandler(pathname, r.Kind(), RoleRSC, r.RSC, nil)
	return func(ctx context.Context, reqPath string, params source.Params, data source.Data) (source.Result, error) {
		if !data.Has(rscVary) {
			return source.NeedData{Vary: rscVary}, nil
		}
		if data.Headers.Get(RSCHeader) == "1" {
			return rsc(ctx, reqPath, params, data)
		}
		written, err := r.HTML.WriteToDisk(ctx)
		if err != nil {
			return p.buildFailure(ctx, err)
		}
		return p.renderShell(ctx, pathname, params, written)
	}
}

// executeHandler writes ep and hands it to the executor. vary, when set, is
// requested before running.
func (p *Project) executeHandler(pathname string, kind route.Kind, role Role, ep route.Endpoint, vary *source.Vary) source.RouteHandler {
	return func(ctx context.Context, _ string, params source.Params, data source.Data) (source.Result, error) {
		if vary != nil && !data.Has(*vary) {
			return source.NeedData{Vary: *vary}, nil
		}
		written, err := ep.WriteToDisk(ctx)
		if err != nil {
			return p.buildFailure(ctx, err)
		}
		content, err := p.executor.Execute(ctx, Invocation{
			Pathname: pathname,
			Kind:     kind,
			Role:     role,
			Params:   params,
			Data:     data,
			Written:  written,
		})
		if err != nil {
			return nil, err
		}
		return source.Found{Content: content}, nil
	}
}

func (p *Project) renderShell(ctx context.Context, pathname string, params source.Params, written *route.WrittenEndpoint) (source.Result, error) {
	doc, err := asset.MustBuiltin("document.html").Content(ctx, nil)
	if err != nil {
		return nil, err
	}
	scripts := make([]string, 0, len(written.ClientPaths))
	for _, cp := range written.ClientPaths {
		if u, ok := p.ClientURL(cp); ok && strings.HasSuffix(u, ".js") {
			scripts = append(scripts, u)
		}
	}
	if params == nil {
		params = source.Params{}
	}
	body, err := source.RenderPageHTML(doc, map[string]any{
		"page":  pathname,
		"query": params,
		"mode":  p.opts.Mode,
	}, scripts)
	if err != nil {
		return nil, err
	}
	for _, issue := range written.Issues {
		p.logger.Warn(ctx, nil, issue.Title, "context", issue.Context, "severity", issue.Severity.String())
	}
	return source.Found{Content: source.Static{
		Status:      http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        body,
	}}, nil
}

// ClientURL maps a project-relative client output path to the URL it is
// served at.
func (p *Project) ClientURL(projectRelative string) (string, bool) {
	prefix := path.Join(p.opts.DistDir, "static") + "/"
	if !strings.HasPrefix(projectRelative, prefix) {
		return "", false
	}
	return StaticPrefix + strings.TrimPrefix(projectRelative, prefix), true
}

// buildFailure turns a compile error into an error page; cancellation is
// passed through.
func (p *Project) buildFailure(ctx context.Context, err error) (source.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.logger.Error(ctx, err, "Endpoint failed to build")
	return overlay(err, nil), nil
}

func overlay(err error, issues []pperrors.Issue) source.Result {
	return source.Found{Content: source.Static{
		Status:      http.StatusInternalServerError,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(pperrors.ErrorOverlay(err, issues)),
	}}
}

func (p *Project) notFoundSource() source.ContentSource {
	return source.SourceFunc(func(ctx context.Context, _ string, _ source.Data) (source.Result, error) {
		doc, err := asset.MustBuiltin("document.html").Content(ctx, nil)
		if err != nil {
			return nil, err
		}
		body, err := source.RenderPageHTML(doc, map[string]any{"page": "/_error", "statusCode": http.StatusNotFound}, nil)
		if err != nil {
			return nil, err
		}
		return source.Found{
			Specificity: specificity.NotFound(),
			Content: source.Static{
				Status:      http.StatusNotFound,
				ContentType: "text/html; charset=utf-8",
				Body:        body,
			},
		}, nil
	})
}

// fileSource serves one root-relative file.
func (p *Project) fileSource(file string) source.ContentSource {
	return source.SourceFunc(func(context.Context, string, source.Data) (source.Result, error) {
		body, err := util.ReadFile(p.fs, file)
		if err != nil {
			return source.NotFound{}, nil
		}
		return source.Found{
			Specificity: specificity.Exact(),
			Content: source.Static{
				Status:      http.StatusOK,
				ContentType: source.ContentTypeFor(file),
				Body:        body,
			},
		}, nil
	})
}
