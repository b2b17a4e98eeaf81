package transition

import (
	"context"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/incremental"
)

// Names under which the standard transitions are registered.
const (
	ClientName          = "client"
	ServerComponentName = "server-component"
	SSRClientModuleName = "ssr-client-module"
	ClientChunksName    = "client-chunks"
	ServerToClientName  = "server-to-client"
	EdgeRouteName       = "edge-route"
)

// Environment is a complete set of context values for one runtime.
type Environment struct {
	Info           asset.CompileTimeInfo
	ModuleOptions  asset.ModuleOptionsContext
	ResolveOptions asset.ResolveOptionsContext
}

// replacing swaps every context value for a fixed environment.
type replacing struct {
	Base
	env Environment
}

func (r replacing) ProcessCompileTimeInfo(asset.CompileTimeInfo) asset.CompileTimeInfo {
	return r.env.Info.Clone()
}
func (r replacing) ProcessModuleOptions(asset.ModuleOptionsContext) asset.ModuleOptionsContext {
	return r.env.ModuleOptions
}
func (r replacing) ProcessResolveOptions(asset.ResolveOptionsContext) asset.ResolveOptionsContext {
	return r.env.ResolveOptions.Clone()
}

// ClientTransition compiles for the browser.
type ClientTransition struct{ replacing }

// NewClientTransition creates a transition into the browser environment.
func NewClientTransition(browser Environment) *ClientTransition {
	return &ClientTransition{replacing{env: browser}}
}

// ServerComponentTransition enables server components on a server context.
type ServerComponentTransition struct{ Base }

func (ServerComponentTransition) ProcessModuleOptions(opts asset.ModuleOptionsContext) asset.ModuleOptionsContext {
	opts.ServerComponents = true
	opts.Layer = "rsc"
	return opts
}

func (ServerComponentTransition) ProcessResolveOptions(opts asset.ResolveOptionsContext) asset.ResolveOptionsContext {
	return opts.WithCondition("react-server")
}

// SSRClientModuleTransition compiles a client component for server-side
// rendering: server environment, server components off.
type SSRClientModuleTransition struct{ replacing }

// NewSSRClientModuleTransition creates the transition from the given server
// environment.
func NewSSRClientModuleTransition(ssr Environment) *SSRClientModuleTransition {
	ssr.ModuleOptions.ServerComponents = false
	ssr.ModuleOptions.Layer = "ssr"
	return &SSRClientModuleTransition{replacing{env: ssr}}
}

// ClientChunksTransition compiles for the browser and wraps the module so
// that its chunk group is emitted as client output of whatever references it.
type ClientChunksTransition struct{ replacing }

// NewClientChunksTransition creates the transition into browser chunks.
func NewClientChunksTransition(browser Environment) *ClientChunksTransition {
	return &ClientChunksTransition{replacing{env: browser}}
}

func (ClientChunksTransition) ProcessModule(_ context.Context, _ *incremental.ReadContext, src asset.Source, actx *Context, ref asset.ReferenceType) (*Module, error) {
	entry := actx.ProcessDefault(src, asset.RefEntry)
	wrapper := actx.ProcessDefault(&asset.VirtualSource{Name: "with-chunks/" + src.Ident()}, ref)
	wrapper.ChunkGroup = &ChunkGroup{Entry: entry}
	return wrapper, nil
}

// ServerToClientTransition is applied to "use client" modules imported from
// server components. The result is a server bootstrap whose inner assets are
// the SSR build of the module (CLIENT_MODULE) and its browser chunk group
// (CLIENT_CHUNKS).
type ServerToClientTransition struct {
	Base
	SSRTransition    string
	ChunksTransition string
}

// NewServerToClientTransition uses the standard SSR and client-chunks
// transitions.
func NewServerToClientTransition() *ServerToClientTransition {
	return &ServerToClientTransition{SSRTransition: SSRClientModuleName, ChunksTransition: ClientChunksName}
}

func (t ServerToClientTransition) ProcessModule(ctx context.Context, rc *incremental.ReadContext, src asset.Source, actx *Context, ref asset.ReferenceType) (*Module, error) {
	ssrCtx, err := actx.WithTransition(t.SSRTransition)
	if err != nil {
		return nil, err
	}
	clientModule, err := ssrCtx.Process(ctx, rc, src, asset.RefInternal)
	if err != nil {
		return nil, err
	}

	chunksCtx, err := actx.WithTransition(t.ChunksTransition)
	if err != nil {
		return nil, err
	}
	clientChunks, err := chunksCtx.Process(ctx, rc, src, asset.RefInternal)
	if err != nil {
		return nil, err
	}

	bootstrap := asset.MustBuiltin("entry/server-to-client.js")
	return actx.NewModule(bootstrap, ref, map[string]*Module{
		"CLIENT_MODULE": clientModule,
		"CLIENT_CHUNKS": clientChunks,
	}), nil
}

// EdgeRouteTransition compiles a handler for the edge runtime and wraps it
// in the edge bootstrap (inner asset ENTRY).
type EdgeRouteTransition struct{ replacing }

// NewEdgeRouteTransition creates the transition into the edge environment.
func NewEdgeRouteTransition(edge Environment) *EdgeRouteTransition {
	return &EdgeRouteTransition{replacing{env: edge}}
}

func (EdgeRouteTransition) ProcessModule(_ context.Context, _ *incremental.ReadContext, src asset.Source, actx *Context, ref asset.ReferenceType) (*Module, error) {
	entry := actx.ProcessDefault(src, asset.RefEntry)
	bootstrap := asset.MustBuiltin("entry/edge-bootstrap.js")
	return actx.NewModule(bootstrap, ref, map[string]*Module{"ENTRY": entry}), nil
}

// Standard returns the transition table shared by every context of a
// project.
func Standard(browser, server, edge Environment) ByName {
	return ByName{
		ClientName:          NewClientTransition(browser),
		ServerComponentName: ServerComponentTransition{},
		SSRClientModuleName: NewSSRClientModuleTransition(server),
		ClientChunksName:    NewClientChunksTransition(browser),
		ServerToClientName:  NewServerToClientTransition(),
		EdgeRouteName:       NewEdgeRouteTransition(edge),
	}
}
