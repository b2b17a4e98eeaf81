package transition

import (
	"bytes"
	"context"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/conneroisu/pagepack/internal/asset"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
)

// Module is a source processed in a context.
type Module struct {
	Source         asset.Source
	Info           asset.CompileTimeInfo
	ModuleOptions  asset.ModuleOptionsContext
	ResolveOptions asset.ResolveOptionsContext
	Reference      asset.ReferenceType
	// Inner holds named assets referenced through "@pagepack/inner/<NAME>".
	Inner map[string]*Module
	// ChunkGroup is set on modules that stand for a browser chunk group
	// emitted next to the output that references them.
	ChunkGroup *ChunkGroup

	context *Context
}

// ChunkGroup is a browser entry whose chunks are emitted as client output.
type ChunkGroup struct {
	Entry *Module
}

// Ident identifies the module: its source plus the context it was processed
// in, plus its inner assets.
func (m *Module) Ident() string {
	var b strings.Builder
	b.WriteString(m.Source.Ident())
	b.WriteString(" [")
	b.WriteString(string(m.Info.Environment))
	if m.ModuleOptions.Layer != "" {
		b.WriteString("/")
		b.WriteString(m.ModuleOptions.Layer)
	}
	b.WriteString("]")
	if len(m.Inner) > 0 {
		b.WriteString(" {")
		for i, name := range m.InnerNames() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			b.WriteString("=")
			b.WriteString(m.Inner[name].Ident())
		}
		b.WriteString("}")
	}
	if m.ChunkGroup != nil {
		b.WriteString(" chunks(")
		b.WriteString(m.ChunkGroup.Entry.Ident())
		b.WriteString(")")
	}
	return b.String()
}

// InnerNames returns the inner asset names, sorted.
func (m *Module) InnerNames() []string {
	names := make([]string, 0, len(m.Inner))
	for n := range m.Inner {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Context returns the context the module was processed in.
func (m *Module) Context() *Context { return m.context }

// Reference is an edge of the module graph.
type Reference struct {
	Specifier string
	// Module is nil for externals.
	Module   *Module
	External bool
}

var (
	importFromRe = regexp.MustCompile(`(?m)^\s*(?:import|export)\s[^'";]*?\sfrom\s*['"]([^'"]+)['"]`)
	bareImportRe = regexp.MustCompile(`(?m)^\s*import\s*['"]([^'"]+)['"]`)
	requireRe    = regexp.MustCompile(`(?:require|import)\(\s*['"]([^'"]+)['"]\s*\)`)
	directiveRe  = regexp.MustCompile(`^\s*(?:(?://[^\n]*\n|/\*(?s:.*?)\*/)\s*)*['"](use [a-z]+)['"]`)
)

// Specifiers extracts import specifiers from module content in order of
// appearance, without duplicates.
func Specifiers(content []byte) []string {
	type hit struct {
		pos  int
		spec string
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{importFromRe, bareImportRe, requireRe} {
		for _, m := range re.FindAllSubmatchIndex(content, -1) {
			hits = append(hits, hit{pos: m[2], spec: string(content[m[2]:m[3]])})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		if seen[h.spec] {
			continue
		}
		seen[h.spec] = true
		out = append(out, h.spec)
	}
	return out
}

// HasDirective reports whether content starts with the directive, e.g.
// "use client".
func HasDirective(content []byte, directive string) bool {
	m := directiveRe.FindSubmatch(content)
	return m != nil && bytes.Equal(m[1], []byte(directive))
}

// References resolves the module's imports. Relative specifiers must resolve
// to a file; bare specifiers are externals. In a server components layer a
// "use client" module is processed through the server-to-client transition.
func (m *Module) References(ctx context.Context, rc *incremental.ReadContext) ([]Reference, error) {
	var refs []Reference
	for _, name := range m.InnerNames() {
		refs = append(refs, Reference{Specifier: asset.InnerPrefix + name, Module: m.Inner[name]})
	}
	if m.ChunkGroup != nil {
		return refs, nil
	}

	content, err := m.Source.Content(ctx, rc)
	if err != nil {
		return nil, err
	}

	file, _ := m.Source.(*asset.FileSource)
	for _, spec := range Specifiers(content) {
		if strings.HasPrefix(spec, asset.InnerPrefix) {
			name := strings.TrimPrefix(spec, asset.InnerPrefix)
			if _, ok := m.Inner[name]; !ok {
				return nil, pperrors.NewBuildError(pperrors.ErrCodeModuleNotFound,
					"missing inner asset "+name, nil).WithPath(m.Source.Ident())
			}
			continue
		}

		target, ok := m.resolveTarget(spec, file)
		if !ok {
			refs = append(refs, Reference{Specifier: spec, External: true})
			continue
		}
		resolved, found := m.resolveFile(rc, file, target)
		if !found {
			return nil, pperrors.NewBuildError(pperrors.ErrCodeModuleNotFound,
				"Module not found: Can't resolve '"+spec+"'", nil).WithPath(m.Source.Ident())
		}

		dep, err := m.processImport(ctx, rc, resolved)
		if err != nil {
			return nil, pperrors.WrapBuild(err, pperrors.ErrCodeBuildFailed, "failed to process "+spec, m.Source.Ident())
		}
		refs = append(refs, Reference{Specifier: spec, Module: dep})
	}
	return refs, nil
}

// resolveTarget maps a specifier to a root-relative path candidate. It
// returns false for externals.
func (m *Module) resolveTarget(spec string, file *asset.FileSource) (string, bool) {
	for _, prefix := range sortedAliasKeys(m.ResolveOptions.Alias) {
		if spec == prefix || strings.HasPrefix(spec, strings.TrimSuffix(prefix, "/")+"/") {
			return path.Join(m.ResolveOptions.Alias[prefix], strings.TrimPrefix(spec, prefix)), true
		}
	}
	if file == nil {
		return "", false
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		return path.Join(file.Dir(), spec), true
	}
	return "", false
}

func sortedAliasKeys(alias map[string]string) []string {
	keys := make([]string, 0, len(alias))
	for k := range alias {
		keys = append(keys, k)
	}
	// Longest prefix first.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func (m *Module) resolveFile(rc *incremental.ReadContext, file *asset.FileSource, target string) (*asset.FileSource, bool) {
	if file == nil {
		return nil, false
	}
	candidates := []string{target}
	for _, ext := range m.ResolveOptions.Extensions {
		candidates = append(candidates, target+"."+ext)
	}
	for _, ext := range m.ResolveOptions.Extensions {
		candidates = append(candidates, path.Join(target, "index."+ext))
	}
	for _, c := range candidates {
		if info, err := rc.Stat(file.FS, c); err == nil && !info.IsDir() {
			return &asset.FileSource{FS: file.FS, Path: c}, true
		}
	}
	return nil, false
}

func (m *Module) processImport(ctx context.Context, rc *incremental.ReadContext, src *asset.FileSource) (*Module, error) {
	actx := m.context
	if m.ModuleOptions.ServerComponents {
		content, err := src.Content(ctx, rc)
		if err != nil {
			return nil, err
		}
		if HasDirective(content, "use client") {
			boundary, err := actx.WithTransition(ServerToClientName)
			if err != nil {
				return nil, err
			}
			return boundary.Process(ctx, rc, src, asset.RefImport)
		}
	}
	return actx.Process(ctx, rc, src, asset.RefImport)
}
