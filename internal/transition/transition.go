// Package transition switches compilation between runtime environments. A
// Context carries the compile-time info, module options and resolve options
// a source is compiled with. Selecting a named Transition derives a new
// Context through the transition's three context operations and lets the
// transition wrap the processed module, which is how a server module that
// imports browser code gets both a server-side reference and a browser chunk
// group.
package transition

import (
	"context"
	"sort"
	"strings"

	"github.com/conneroisu/pagepack/internal/asset"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
)

// Transition adapts a context and the module processed in it.
type Transition interface {
	ProcessCompileTimeInfo(info asset.CompileTimeInfo) asset.CompileTimeInfo
	ProcessModuleOptions(opts asset.ModuleOptionsContext) asset.ModuleOptionsContext
	ProcessResolveOptions(opts asset.ResolveOptionsContext) asset.ResolveOptionsContext
	// ProcessModule turns src into a module. actx already has this
	// transition's context operations applied.
	ProcessModule(ctx context.Context, rc *incremental.ReadContext, src asset.Source, actx *Context, ref asset.ReferenceType) (*Module, error)
}

// Base implements every Transition method as the identity; transitions embed
// it and override what they change.
type Base struct{}

func (Base) ProcessCompileTimeInfo(info asset.CompileTimeInfo) asset.CompileTimeInfo { return info }
func (Base) ProcessModuleOptions(opts asset.ModuleOptionsContext) asset.ModuleOptionsContext {
	return opts
}
func (Base) ProcessResolveOptions(opts asset.ResolveOptionsContext) asset.ResolveOptionsContext {
	return opts
}
func (Base) ProcessModule(_ context.Context, _ *incremental.ReadContext, src asset.Source, actx *Context, ref asset.ReferenceType) (*Module, error) {
	return actx.ProcessDefault(src, ref), nil
}

// ByName is the shared table of transitions selectable from a Context.
type ByName map[string]Transition

// Context is the module asset context.
type Context struct {
	transitions    ByName
	Info           asset.CompileTimeInfo
	ModuleOptions  asset.ModuleOptionsContext
	ResolveOptions asset.ResolveOptionsContext

	active     Transition
	activeName string
}

// NewContext creates a context with no active transition.
func NewContext(transitions ByName, info asset.CompileTimeInfo, mo asset.ModuleOptionsContext, ro asset.ResolveOptionsContext) *Context {
	if transitions == nil {
		transitions = ByName{}
	}
	return &Context{
		transitions:    transitions,
		Info:           info,
		ModuleOptions:  mo,
		ResolveOptions: ro,
	}
}

// Transitions returns the names of the registered transitions, sorted.
func (c *Context) Transitions() []string {
	names := make([]string, 0, len(c.transitions))
	for n := range c.transitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Active returns the name of the active transition, if any.
func (c *Context) Active() string { return c.activeName }

// WithTransition returns a context whose Process delegates to the named
// transition.
func (c *Context) WithTransition(name string) (*Context, error) {
	t, ok := c.transitions[name]
	if !ok {
		return nil, pperrors.NewBuildError(pperrors.ErrCodeUnknownTransition,
			"unknown transition "+name+" (available: "+strings.Join(c.Transitions(), ", ")+")", nil)
	}
	out := *c
	out.active = t
	out.activeName = name
	return &out, nil
}

// Process compiles src in this context.
func (c *Context) Process(ctx context.Context, rc *incremental.ReadContext, src asset.Source, ref asset.ReferenceType) (*Module, error) {
	if c.active == nil {
		return c.ProcessDefault(src, ref), nil
	}
	t := c.active
	derived := &Context{
		transitions:    c.transitions,
		Info:           t.ProcessCompileTimeInfo(c.Info),
		ModuleOptions:  t.ProcessModuleOptions(c.ModuleOptions),
		ResolveOptions: t.ProcessResolveOptions(c.ResolveOptions),
	}
	return t.ProcessModule(ctx, rc, src, derived, ref)
}

// ProcessDefault creates a module for src without any transition.
func (c *Context) ProcessDefault(src asset.Source, ref asset.ReferenceType) *Module {
	plain := *c
	plain.active = nil
	plain.activeName = ""
	return &Module{
		Source:         src,
		Info:           c.Info,
		ModuleOptions:  c.ModuleOptions,
		ResolveOptions: c.ResolveOptions,
		Reference:      ref,
		context:        &plain,
	}
}

// NewModule creates a module processed in c with the given inner assets.
// Transitions use it to build wrapper modules.
func (c *Context) NewModule(src asset.Source, ref asset.ReferenceType, inner map[string]*Module) *Module {
	m := c.ProcessDefault(src, ref)
	m.Inner = inner
	return m
}
