package structure

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/specificity"
)

// AppEntrypointKind distinguishes the two kinds of app directory entrypoints.
type AppEntrypointKind string

const (
	AppPageKind  AppEntrypointKind = "app-page"
	AppRouteKind AppEntrypointKind = "app-route"
)

// AppEntrypoint is a page.<ext> or route.<ext> file in the app directory.
type AppEntrypoint struct {
	Kind        AppEntrypointKind       `json:"kind" yaml:"kind"`
	Pathname    string                  `json:"pathname" yaml:"pathname"`
	ProjectPath string                  `json:"project_path" yaml:"project_path"`
	Layouts     []string                `json:"layouts,omitempty" yaml:"layouts,omitempty"`
	NotFound    string                  `json:"not_found,omitempty" yaml:"not_found,omitempty"`
	Specificity specificity.Specificity `json:"specificity" yaml:"specificity"`
}

// GlobalMetadata holds the static metadata files found at the app root.
type GlobalMetadata struct {
	Robots  string `json:"robots,omitempty" yaml:"robots,omitempty"`
	Favicon string `json:"favicon,omitempty" yaml:"favicon,omitempty"`
	Sitemap string `json:"sitemap,omitempty" yaml:"sitemap,omitempty"`
}

// Files maps the public URL of each metadata file to its project path.
func (m GlobalMetadata) Files() map[string]string {
	out := map[string]string{}
	if m.Robots != "" {
		out["/robots.txt"] = m.Robots
	}
	if m.Favicon != "" {
		out["/favicon.ico"] = m.Favicon
	}
	if m.Sitemap != "" {
		out["/sitemap.xml"] = m.Sitemap
	}
	return out
}

// AppStructure is the result of scanning an app directory. Entrypoints maps
// a pathname to every entrypoint claiming it; more than one is a conflict.
type AppStructure struct {
	Dir         string                     `json:"dir" yaml:"dir"`
	Entrypoints map[string][]AppEntrypoint `json:"entrypoints" yaml:"entrypoints"`
	Metadata    GlobalMetadata             `json:"metadata" yaml:"metadata"`
}

// Pathnames returns the entrypoint pathnames in sorted order.
func (a *AppStructure) Pathnames() []string {
	out := make([]string, 0, len(a.Entrypoints))
	for p := range a.Entrypoints {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// FindAppDir returns the app directory of a project: app/ or src/app/.
func FindAppDir(ctx context.Context, rc *incremental.ReadContext, fs billy.Filesystem, projectDir string) (string, bool) {
	return findDir(rc, fs, projectDir, "app")
}

type appDir struct {
	dir      string
	segments []string
	layouts  []string
}

// ScanApp scans the app directory breadth first. It returns nil when the
// project has no app directory.
func ScanApp(ctx context.Context, rc *incremental.ReadContext, fs billy.Filesystem, projectDir string, extensions []string) (*AppStructure, error) {
	if len(extensions) == 0 {
		extensions = DefaultPageExtensions
	}
	appRoot, ok := FindAppDir(ctx, rc, fs, projectDir)
	if !ok {
		return nil, nil
	}

	out := &AppStructure{Dir: appRoot, Entrypoints: map[string][]AppEntrypoint{}}
	var rootNotFound string

	queue := []appDir{{dir: appRoot}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		entries, err := listSorted(rc, fs, cur.dir)
		if err != nil {
			return nil, err
		}

		components := map[string]string{}
		var subdirs []string
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				if !strings.HasPrefix(name, "_") {
					subdirs = append(subdirs, name)
				}
				continue
			}
			if cur.dir == appRoot {
				scanGlobalMetadata(rc, &out.Metadata, appRoot, name, extensions)
			}
			base, ok := matchExtension(name, extensions)
			if !ok {
				continue
			}
			switch base {
			case "page", "route", "layout", "not-found":
				if _, seen := components[base]; !seen {
					components[base] = path.Join(cur.dir, name)
				}
			}
		}

		layouts := cur.layouts
		if layout, ok := components["layout"]; ok {
			layouts = append(append([]string(nil), cur.layouts...), layout)
		}
		if cur.dir == appRoot {
			rootNotFound = components["not-found"]
		}

		pathname := "/" + strings.Join(cur.segments, "/")
		spec := specificity.FromPathname(pathname)
		if page, ok := components["page"]; ok {
			out.Entrypoints[pathname] = append(out.Entrypoints[pathname], AppEntrypoint{
				Kind:        AppPageKind,
				Pathname:    pathname,
				ProjectPath: page,
				Layouts:     layouts,
				NotFound:    rootNotFound,
				Specificity: spec,
			})
		}
		if route, ok := components["route"]; ok {
			out.Entrypoints[pathname] = append(out.Entrypoints[pathname], AppEntrypoint{
				Kind:        AppRouteKind,
				Pathname:    pathname,
				ProjectPath: route,
				Specificity: spec,
			})
		}

		for _, name := range subdirs {
			segments := cur.segments
			if !specificity.IsGroup(name) && !specificity.IsSlot(name) {
				segments = append(append([]string(nil), cur.segments...), name)
			}
			queue = append(queue, appDir{dir: path.Join(cur.dir, name), segments: segments, layouts: layouts})
		}
	}

	for pathname, eps := range out.Entrypoints {
		sort.Slice(eps, func(i, j int) bool { return eps[i].ProjectPath < eps[j].ProjectPath })
		out.Entrypoints[pathname] = eps
	}
	return out, nil
}

func scanGlobalMetadata(rc *incremental.ReadContext, m *GlobalMetadata, appRoot, name string, extensions []string) {
	filePath := path.Join(appRoot, name)
	switch name {
	case "robots.txt":
		m.Robots = filePath
		return
	case "favicon.ico":
		m.Favicon = filePath
		return
	case "sitemap.xml":
		m.Sitemap = filePath
		return
	}
	if base, ok := matchExtension(name, extensions); ok && (base == "robots" || base == "sitemap") {
		rc.Emit(pperrors.Issue{
			Severity:    pperrors.SeverityWarning,
			Category:    "unsupported",
			Context:     filePath,
			Title:       "Dynamic metadata from filesystem is currently not supported",
			Description: "Only static " + base + " files are served; " + name + " is ignored",
		})
	}
}
