package route

import (
	"github.com/conneroisu/pagepack/internal/structure"
)

// AppPageVariant selects the HTML or RSC flavor of an app page endpoint.
type AppPageVariant string

const (
	AppPageHTML AppPageVariant = "html"
	AppPageRSC  AppPageVariant = "rsc"
)

// Factory creates endpoints. Implementations return the same endpoint for
// the same input so routes recomputed after a change keep their identity.
type Factory interface {
	PageHTML(item *structure.Item) Endpoint
	PageData(item *structure.Item) Endpoint
	PageAPI(item *structure.Item) Endpoint
	AppPage(ep structure.AppEntrypoint, variant AppPageVariant) Endpoint
	AppRoute(ep structure.AppEntrypoint) Endpoint
}

type pendingDir struct {
	dir *structure.Directory
	api bool
}

// FromPages converts a pages structure into routes, walking the directory
// tree with an explicit queue.
func FromPages(ps *structure.PagesStructure, f Factory) *Routes {
	routes := NewRoutes()
	if ps == nil {
		return routes
	}

	var queue []pendingDir
	if ps.Pages != nil {
		queue = append(queue, pendingDir{dir: ps.Pages})
	}
	if ps.API != nil {
		queue = append(queue, pendingDir{dir: ps.API, api: true})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, item := range cur.dir.Items {
			meta := Meta{Source: item.ProjectPath, Specificity: item.Specificity}
			if cur.api {
				routes.Insert(item.RouterPath, PageAPIRoute{Meta: meta, Endpoint: f.PageAPI(item)})
				continue
			}
			routes.Insert(item.RouterPath, PageRoute{
				Meta: meta,
				HTML: f.PageHTML(item),
				Data: f.PageData(item),
			})
		}
		for _, child := range cur.dir.Children {
			queue = append(queue, pendingDir{dir: child, api: cur.api})
		}
	}
	return routes
}

// AppEntrypointToRoute maps the entrypoints claiming one pathname to a route.
// More than one entrypoint yields a ConflictRoute of each mapped entrypoint.
func AppEntrypointToRoute(eps []structure.AppEntrypoint, f Factory) Route {
	if len(eps) == 1 {
		return appRoute(eps[0], f)
	}
	conflict := ConflictRoute{Routes: make([]Route, 0, len(eps))}
	for _, ep := range eps {
		conflict.Routes = append(conflict.Routes, appRoute(ep, f))
	}
	return conflict
}

func appRoute(ep structure.AppEntrypoint, f Factory) Route {
	meta := Meta{Source: ep.ProjectPath, Specificity: ep.Specificity}
	if ep.Kind == structure.AppRouteKind {
		return AppRouteRoute{Meta: meta, Endpoint: f.AppRoute(ep)}
	}
	return AppPageRoute{
		Meta: meta,
		HTML: f.AppPage(ep, AppPageHTML),
		RSC:  f.AppPage(ep, AppPageRSC),
	}
}

// FromApp converts an app structure into routes.
func FromApp(app *structure.AppStructure, f Factory) *Routes {
	routes := NewRoutes()
	if app == nil {
		return routes
	}
	for _, pathname := range app.Pathnames() {
		eps := app.Entrypoints[pathname]
		if len(eps) == 0 {
			continue
		}
		routes.Insert(pathname, AppEntrypointToRoute(eps, f))
	}
	return routes
}

// Resolve merges pages and app routes. A pathname claimed by both trees
// becomes a conflict.
func Resolve(ps *structure.PagesStructure, app *structure.AppStructure, f Factory) *Routes {
	routes := FromPages(ps, f)
	routes.Merge(FromApp(app, f))
	return routes
}
