package hostapi

import (
	"context"
	"sort"

	"github.com/conneroisu/pagepack/internal/bridge"
	"github.com/conneroisu/pagepack/internal/project"
	"github.com/conneroisu/pagepack/internal/route"
)

// subscription is what the table holds for a running stream.
type subscription interface {
	Close()
	Err() error
}

type projectResult struct {
	Project string `json:"project"`
}

type subscriptionResult struct {
	Subscription string `json:"subscription"`
}

func (c *conn) projectNew(ctx context.Context, p projectNewParams) (any, error) {
	opts := append([]project.Option{
		project.WithLogger(c.logger),
		project.WithMetrics(c.server.metrics),
	}, c.server.projectOptions...)
	proj, err := project.New(ctx, p.Options, opts...)
	if err != nil {
		return nil, err
	}
	id := c.table.Insert("project", Handle{Engine: proj.Engine(), Value: proj})
	if c.server.onProject != nil {
		c.server.onProject(proj)
	}
	c.logger.Info(ctx, "Project opened", "project", id, "path", proj.ProjectDir())
	return projectResult{Project: id}, nil
}

func (c *conn) projectClose(p projectParams) (any, error) {
	if _, _, err := typed[*project.Project](c.table, p.Project, "project"); err != nil {
		return nil, err
	}
	h, _ := c.table.Remove(p.Project)
	// Subscriptions, endpoints and the project itself share the engine.
	for _, dep := range c.table.RemoveEngine(h.Engine) {
		if sub, ok := dep.Value.(subscription); ok {
			sub.Close()
		}
	}
	if err := h.Value.(*project.Project).Close(); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (c *conn) routesSubscribe(p routesSubscribeParams) (any, error) {
	h, proj, err := typed[*project.Project](c.table, p.Project, "project")
	if err != nil {
		return nil, err
	}

	var id string
	ready := make(chan struct{})
	mapper := func(routes *route.Routes) ([]RouteInfo, error) {
		return c.describeRoutes(p.Project, h, routes), nil
	}
	callback := func(routes []RouteInfo, err error) error {
		<-ready
		ev := Event{Subscription: id, Routes: routes}
		if err != nil {
			ev.Routes = nil
			ev.Error = errorBody(err)
		}
		return c.write(context.Background(), ev)
	}
	sub, err := bridge.Subscribe(h.Engine, "routes "+p.Project, proj.RoutesCell(p.Options), mapper, callback,
		bridge.WithLogger(c.logger), bridge.WithMetrics(c.server.metrics))
	if err != nil {
		return nil, err
	}
	id = c.table.Insert("subscription", Handle{Engine: h.Engine, Value: subscription(sub)})
	close(ready)
	return subscriptionResult{Subscription: id}, nil
}

// describeRoutes lists routes by pathname, handing out one endpoint handle
// per distinct endpoint.
func (c *conn) describeRoutes(projectID string, h Handle, routes *route.Routes) []RouteInfo {
	infos := make([]RouteInfo, 0, routes.Len())
	for _, pathname := range routes.Pathnames() {
		r, _ := routes.Get(pathname)
		info := RouteInfo{Pathname: pathname, Type: r.Kind()}
		if r.Kind() == route.KindConflict {
			info.Sources = route.Sources(r)
		}
		eps := r.Endpoints()
		roles := make([]string, 0, len(eps))
		for role := range eps {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			if info.Endpoints == nil {
				info.Endpoints = make(map[string]string, len(eps))
			}
			info.Endpoints[role] = c.endpointHandle(projectID, h, eps[role])
		}
		infos = append(infos, info)
	}
	return infos
}

func (c *conn) endpointHandle(projectID string, h Handle, ep route.Endpoint) string {
	key := projectID + "\x00" + ep.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.endpoints[key]; ok {
		if _, live := c.table.Get(id); live {
			return id
		}
	}
	id := c.table.Insert("endpoint", Handle{Engine: h.Engine, Value: ep})
	c.endpoints[key] = id
	return id
}

func (c *conn) writeToDisk(ctx context.Context, p endpointParams) (any, error) {
	_, ep, err := typed[route.Endpoint](c.table, p.Endpoint, "endpoint")
	if err != nil {
		return nil, err
	}
	return ep.WriteToDisk(ctx)
}

func (c *conn) changedSubscribe(p endpointParams) (any, error) {
	h, ep, err := typed[route.Endpoint](c.table, p.Endpoint, "endpoint")
	if err != nil {
		return nil, err
	}

	var id string
	ready := make(chan struct{})
	callback := func(err error) error {
		<-ready
		ev := Event{Subscription: id, Changed: err == nil}
		if err != nil {
			ev.Error = errorBody(err)
		}
		return c.write(context.Background(), ev)
	}
	sub, err := bridge.SubscribeSignal(h.Engine, "changed "+p.Endpoint, ep.Changed, callback,
		bridge.WithLogger(c.logger), bridge.WithMetrics(c.server.metrics))
	if err != nil {
		return nil, err
	}
	id = c.table.Insert("subscription", Handle{Engine: h.Engine, Value: subscription(sub)})
	close(ready)
	return subscriptionResult{Subscription: id}, nil
}

func (c *conn) subscriptionCancel(p subscriptionParams) (any, error) {
	if _, _, err := typed[subscription](c.table, p.Subscription, "subscription"); err != nil {
		return nil, err
	}
	h, _ := c.table.Remove(p.Subscription)
	h.Value.(subscription).Close()
	return struct{}{}, nil
}
