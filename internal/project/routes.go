package project

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/route"
	"github.com/conneroisu/pagepack/internal/structure"
)

// RoutesOptions select how routes are discovered.
type RoutesOptions struct {
	// PageExtensions are the file extensions, without dots, that make a file
	// a page. Empty means structure.DefaultPageExtensions.
	PageExtensions []string `json:"page_extensions,omitempty" yaml:"page_extensions,omitempty"`
}

func (o RoutesOptions) key() string { return extensionsKey(o.PageExtensions) }

func extensionsKey(extensions []string) string {
	if len(extensions) == 0 {
		extensions = structure.DefaultPageExtensions
	}
	return strings.Join(extensions, ",")
}

func splitKey(key string) []string { return strings.Split(key, ",") }

// Routes returns the project's routes. The read is strongly consistent: the
// result reflects every invalidation that happened before it returned.
func (p *Project) Routes(ctx context.Context, opts RoutesOptions) (routes *route.Routes, err error) {
	ctx, span := metrics.StartSpan(ctx, "project.routes",
		attribute.String("pagepack.project", p.projectDir),
		attribute.String("pagepack.page_extensions", opts.key()))
	defer func() { metrics.EndSpan(span, err) }()

	return p.routes.Cell(opts.key()).Get(ctx)
}

// RoutesCell returns the cell holding the routes for opts, for subscribers
// that wait on its invalidation.
func (p *Project) RoutesCell(opts RoutesOptions) *incremental.Cell[*route.Routes] {
	return p.routes.Cell(opts.key())
}

func (p *Project) computeRoutes(ctx context.Context, rc *incremental.ReadContext, key string) (*route.Routes, error) {
	pages, err := p.pages.Get(ctx, rc, key)
	if err != nil {
		p.metrics.RoutesComputed(err)
		return nil, err
	}
	app, err := p.app.Get(ctx, rc, key)
	if err != nil {
		p.metrics.RoutesComputed(err)
		return nil, err
	}

	routes := route.Resolve(pages, app, p.builder.Factory(splitKey(key)))
	p.metrics.RoutesComputed(nil)
	if conflicts := routes.Conflicts(); len(conflicts) > 0 {
		p.logger.Warn(ctx, nil, "Conflicting routes", "pathnames", conflicts)
	}
	p.logger.Debug(ctx, "Routes computed", "routes", routes.Len())
	return routes, nil
}
