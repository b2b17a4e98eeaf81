// Package chunk turns a processed module graph into output files. The output
// is a deterministic module registry rather than optimized code: one chunk per
// entry holding every reachable module, plus a hashed browser chunk for every
// client chunk group the graph references.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/transition"
)

// Target says where and how a chunk is written.
type Target struct {
	// Dir is the root-relative output directory.
	Dir string
	// Hashed appends a content hash to file names.
	Hashed bool
}

// Output is a file to write, relative to the root.
type Output struct {
	Path    string
	Content []byte
}

// Result is the outcome of emitting an entry.
type Result struct {
	EntryPath string
	// Outputs are written to the entry's target.
	Outputs []Output
	// Client holds browser chunks for chunk groups reached from the entry.
	Client []Output
}

// Emitter emits entries; Client is where browser chunk groups go.
type Emitter struct {
	Client Target
}

// Emit walks the graph from entry and renders it into a single chunk at
// target.Dir/name.js (with a hash suffix when target.Hashed).
func (e *Emitter) Emit(ctx context.Context, rc *incremental.ReadContext, entry *transition.Module, target Target, name string) (*Result, error) {
	res := &Result{}
	seenClient := map[string]bool{}

	out, err := e.render(ctx, rc, entry, target, name, res, seenClient)
	if err != nil {
		return nil, err
	}
	res.EntryPath = out.Path
	res.Outputs = append(res.Outputs, out)
	sort.Slice(res.Client, func(i, j int) bool { return res.Client[i].Path < res.Client[j].Path })
	return res, nil
}

type moduleRecord struct {
	ident   string
	content []byte
	deps    map[string]string
}

func (e *Emitter) render(ctx context.Context, rc *incremental.ReadContext, entry *transition.Module, target Target, name string, res *Result, seenClient map[string]bool) (Output, error) {
	var (
		records   []moduleRecord
		externals = map[string]bool{}
		groups    = map[string][]string{}
	)

	visited := map[string]bool{entry.Ident(): true}
	queue := []*transition.Module{entry}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		m := queue[0]
		queue = queue[1:]

		rec := moduleRecord{ident: m.Ident(), deps: map[string]string{}}

		if m.ChunkGroup != nil {
			paths, err := e.emitGroup(ctx, rc, m.ChunkGroup, res, seenClient)
			if err != nil {
				return Output{}, err
			}
			groups[rec.ident] = paths
			records = append(records, rec)
			continue
		}

		content, err := m.Source.Content(ctx, rc)
		if err != nil {
			return Output{}, err
		}
		rec.content = content

		refs, err := m.References(ctx, rc)
		if err != nil {
			return Output{}, err
		}
		for _, ref := range refs {
			if ref.External {
				externals[ref.Specifier] = true
				rec.deps[ref.Specifier] = "external:" + ref.Specifier
				continue
			}
			ident := ref.Module.Ident()
			rec.deps[ref.Specifier] = ident
			if !visited[ident] {
				visited[ident] = true
				queue = append(queue, ref.Module)
			}
		}
		records = append(records, rec)
	}

	body := renderChunk(name, entry, records, externals, groups)
	return Output{Path: outputPath(target, name, body), Content: body}, nil
}

// emitGroup renders a browser chunk group and returns its client paths.
func (e *Emitter) emitGroup(ctx context.Context, rc *incremental.ReadContext, group *transition.ChunkGroup, res *Result, seenClient map[string]bool) ([]string, error) {
	name := "client/" + SanitizeName(group.Entry.Source.Ident())
	out, err := e.render(ctx, rc, group.Entry, e.Client, name, res, seenClient)
	if err != nil {
		return nil, err
	}
	if !seenClient[out.Path] {
		seenClient[out.Path] = true
		res.Client = append(res.Client, out)
	}
	return []string{out.Path}, nil
}

// EmitGroup renders entry as a standalone browser chunk group.
func (e *Emitter) EmitGroup(ctx context.Context, rc *incremental.ReadContext, entry *transition.Module, name string) (*Result, error) {
	res := &Result{}
	seen := map[string]bool{}
	out, err := e.render(ctx, rc, entry, e.Client, name, res, seen)
	if err != nil {
		return nil, err
	}
	res.EntryPath = out.Path
	res.Client = append(res.Client, out)
	sort.Slice(res.Client, func(i, j int) bool { return res.Client[i].Path < res.Client[j].Path })
	return res, nil
}

func renderChunk(name string, entry *transition.Module, records []moduleRecord, externals map[string]bool, groups map[string][]string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "// pagepack chunk %s (%s)\n", name, entry.Info.Environment)

	if keys := entry.Info.DefineKeys(); len(keys) > 0 {
		b.WriteString("__pagepack_define({")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", quote(k), entry.Info.Defines[k])
		}
		b.WriteString("});\n")
	}

	if len(externals) > 0 {
		names := make([]string, 0, len(externals))
		for n := range externals {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("__pagepack_externals([")
		for i, n := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(n))
		}
		b.WriteString("]);\n")
	}

	sorted := append([]moduleRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ident < sorted[j].ident })
	for _, rec := range sorted {
		if paths, ok := groups[rec.ident]; ok {
			fmt.Fprintf(&b, "__pagepack_chunks(%s, %s);\n", quote(rec.ident), quoteList(paths))
			continue
		}
		depNames := make([]string, 0, len(rec.deps))
		for spec := range rec.deps {
			depNames = append(depNames, spec)
		}
		sort.Strings(depNames)
		b.WriteString("__pagepack_register(")
		b.WriteString(quote(rec.ident))
		b.WriteString(", {")
		for i, spec := range depNames {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", quote(spec), quote(rec.deps[spec]))
		}
		b.WriteString("}, ")
		b.WriteString(quote(string(rec.content)))
		b.WriteString(");\n")
	}

	fmt.Fprintf(&b, "__pagepack_entry(%s);\n", quote(entry.Ident()))
	return []byte(b.String())
}

func outputPath(target Target, name string, body []byte) string {
	file := name
	if target.Hashed {
		file += "-" + ContentHash(body)
	}
	return path.Join(target.Dir, file+".js")
}

// ContentHash returns a short hex digest of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:8]
}

// Digest returns a digest over a set of outputs, stable under reordering.
func Digest(outputs ...[]Output) string {
	var all []Output
	for _, o := range outputs {
		all = append(all, o...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })
	h := sha256.New()
	for _, o := range all {
		h.Write([]byte(o.Path))
		h.Write([]byte{0})
		h.Write(o.Content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SanitizeName turns a source ident into a file-name-safe chunk name.
func SanitizeName(ident string) string {
	ident = strings.TrimPrefix(ident, asset.BuiltinPrefix)
	var b strings.Builder
	for _, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '[', r == ']':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// RouteName turns a route pathname into a chunk name: "/" is "index".
func RouteName(pathname string) string {
	trimmed := strings.Trim(pathname, "/")
	if trimmed == "" {
		return "index"
	}
	return trimmed
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func quoteList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}
