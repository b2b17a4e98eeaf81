// Package structure scans a project's pages/ and app/ directories into the
// trees that route resolution consumes. Scans run inside incremental cells
// so adding, removing, or renaming a file invalidates exactly the scans that
// listed its directory.
package structure

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/specificity"
)

// BuiltinPrefix marks project paths that refer to embedded fallback sources.
const BuiltinPrefix = "builtin:"

// DefaultPageExtensions are used when no extensions are configured.
var DefaultPageExtensions = []string{"tsx", "ts", "jsx", "js"}

// Item is a single page file.
type Item struct {
	ProjectPath string                  `json:"project_path" yaml:"project_path"`
	RouterPath  string                  `json:"router_path" yaml:"router_path"`
	Specificity specificity.Specificity `json:"specificity" yaml:"specificity"`
	Builtin     bool                    `json:"builtin,omitempty" yaml:"builtin,omitempty"`
}

// Directory is a scanned directory. Items and Children are sorted by name.
type Directory struct {
	ProjectPath string       `json:"project_path" yaml:"project_path"`
	RouterPath  string       `json:"router_path" yaml:"router_path"`
	Items       []*Item      `json:"items" yaml:"items"`
	Children    []*Directory `json:"children" yaml:"children"`
}

// PagesStructure is the result of scanning a pages directory. App, Document
// and Error are always set, falling back to builtin shells.
type PagesStructure struct {
	App      *Item      `json:"app" yaml:"app"`
	Document *Item      `json:"document" yaml:"document"`
	Error    *Item      `json:"error" yaml:"error"`
	API      *Directory `json:"api,omitempty" yaml:"api,omitempty"`
	Pages    *Directory `json:"pages,omitempty" yaml:"pages,omitempty"`
}

// BuiltinItem returns the fallback item for one of the singleton pages
// ("_app", "_document" or "_error").
func BuiltinItem(name string) *Item {
	return &Item{
		ProjectPath: BuiltinPrefix + "pages/" + name + ".tsx",
		RouterPath:  "/" + name,
		Specificity: specificity.Exact(),
		Builtin:     true,
	}
}

// FindPagesDir returns the pages directory of a project: pages/ or src/pages/.
func FindPagesDir(ctx context.Context, rc *incremental.ReadContext, fs billy.Filesystem, projectDir string) (string, bool) {
	return findDir(rc, fs, projectDir, "pages")
}

func findDir(rc *incremental.ReadContext, fs billy.Filesystem, projectDir, name string) (string, bool) {
	for _, candidate := range []string{path.Join(projectDir, name), path.Join(projectDir, "src", name)} {
		if rc.IsDir(fs, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// ScanPages scans the project's pages directory. A project without one yields
// a structure holding only the builtin singletons.
func ScanPages(ctx context.Context, rc *incremental.ReadContext, fs billy.Filesystem, projectDir string, extensions []string) (*PagesStructure, error) {
	if len(extensions) == 0 {
		extensions = DefaultPageExtensions
	}
	ps := &PagesStructure{}

	pagesDir, ok := FindPagesDir(ctx, rc, fs, projectDir)
	if ok {
		root := &Directory{ProjectPath: pagesDir, RouterPath: "/"}
		entries, err := listSorted(rc, fs, pagesDir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				dirPath := path.Join(pagesDir, name)
				if name == "api" {
					api, err := scanPagesDir(ctx, rc, fs, dirPath, "/api", 1, specificity.Exact(), extensions)
					if err != nil {
						return nil, err
					}
					ps.API = api
					continue
				}
				child, err := scanPagesDir(ctx, rc, fs, dirPath, routerJoin("/", name), 1, segmentSpecificity(specificity.Exact(), name, 0), extensions)
				if err != nil {
					return nil, err
				}
				root.Children = append(root.Children, child)
				continue
			}

			base, ok := matchExtension(name, extensions)
			if !ok {
				continue
			}
			filePath := path.Join(pagesDir, name)
			switch base {
			case "_app":
				ps.App = singleton(rc, ps.App, filePath, base)
			case "_document":
				ps.Document = singleton(rc, ps.Document, filePath, base)
			case "_error":
				ps.Error = singleton(rc, ps.Error, filePath, base)
			default:
				root.Items = append(root.Items, pageItem(filePath, "/", base, specificity.Exact(), 0))
			}
		}
		ps.Pages = root
	}

	if ps.App == nil {
		ps.App = BuiltinItem("_app")
	}
	if ps.Document == nil {
		ps.Document = BuiltinItem("_document")
	}
	if ps.Error == nil {
		ps.Error = BuiltinItem("_error")
	}
	return ps, nil
}

func singleton(rc *incremental.ReadContext, existing *Item, filePath, base string) *Item {
	if existing != nil {
		rc.Emit(pperrors.Issue{
			Severity:    pperrors.SeverityWarning,
			Category:    "structure",
			Context:     filePath,
			Title:       "Duplicate " + base + " page ignored",
			Description: existing.ProjectPath + " is used instead",
		})
		return existing
	}
	return &Item{
		ProjectPath: filePath,
		RouterPath:  "/" + base,
		Specificity: specificity.Exact(),
	}
}

func scanPagesDir(ctx context.Context, rc *incremental.ReadContext, fs billy.Filesystem, dir, routerPath string, position uint32, spec specificity.Specificity, extensions []string) (*Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := listSorted(rc, fs, dir)
	if err != nil {
		return nil, err
	}

	d := &Directory{ProjectPath: dir, RouterPath: routerPath}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			child, err := scanPagesDir(ctx, rc, fs, path.Join(dir, name), routerJoin(routerPath, name), position+1, segmentSpecificity(spec, name, position), extensions)
			if err != nil {
				return nil, err
			}
			d.Children = append(d.Children, child)
			continue
		}
		base, ok := matchExtension(name, extensions)
		if !ok {
			continue
		}
		d.Items = append(d.Items, pageItem(path.Join(dir, name), routerPath, base, spec, position))
	}
	return d, nil
}

func pageItem(filePath, dirRouterPath, base string, dirSpec specificity.Specificity, position uint32) *Item {
	if base == "index" {
		return &Item{ProjectPath: filePath, RouterPath: dirRouterPath, Specificity: dirSpec}
	}
	return &Item{
		ProjectPath: filePath,
		RouterPath:  routerJoin(dirRouterPath, base),
		Specificity: segmentSpecificity(dirSpec, base, position),
	}
}

func segmentSpecificity(spec specificity.Specificity, segment string, position uint32) specificity.Specificity {
	t, ok := specificity.SegmentMarker(segment)
	if !ok {
		return spec
	}
	if t == specificity.CatchAll {
		return spec.WithCatchAll(position)
	}
	return spec.WithDynamicSegment(position)
}

func routerJoin(base, segment string) string {
	if base == "/" || base == "" {
		return "/" + segment
	}
	return base + "/" + segment
}

// matchExtension strips a recognized extension from name.
func matchExtension(name string, extensions []string) (string, bool) {
	for _, ext := range extensions {
		suffix := "." + ext
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

func listSorted(rc *incremental.ReadContext, fs billy.Filesystem, dir string) ([]os.FileInfo, error) {
	entries, err := rc.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pperrors.WrapIO(err, pperrors.ErrCodeReadFailed, "failed to list directory").WithPath(dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Walk visits every item under d in depth-first order, items before children.
func (d *Directory) Walk(fn func(*Item)) {
	if d == nil {
		return
	}
	stack := []*Directory{d}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, item := range cur.Items {
			fn(item)
		}
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}
