// Package asset defines the sources compiled by the build and the context
// values that describe how they are compiled.
package asset

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
)

//go:embed all:builtin
var builtinFS embed.FS

// BuiltinPrefix marks idents of embedded sources.
const BuiltinPrefix = "builtin:"

// InnerPrefix is the import specifier prefix that refers to a named inner
// asset of the importing module.
const InnerPrefix = "@pagepack/inner/"

// Environment is the runtime a module is compiled for.
type Environment string

const (
	EnvBrowser Environment = "browser"
	EnvNodeJs  Environment = "nodejs"
	EnvEdge    Environment = "edge"
)

// Mode is the build mode.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeBuild       Mode = "build"
)

// CompileTimeInfo describes the target environment and the values substituted
// at compile time.
type CompileTimeInfo struct {
	Environment Environment
	Mode        Mode
	// Defines maps a free identifier to a JSON literal.
	Defines map[string]string
}

// WithEnvironment returns a copy targeting env.
func (c CompileTimeInfo) WithEnvironment(env Environment) CompileTimeInfo {
	out := c.Clone()
	out.Environment = env
	return out
}

// Clone returns a deep copy.
func (c CompileTimeInfo) Clone() CompileTimeInfo {
	out := c
	out.Defines = make(map[string]string, len(c.Defines))
	for k, v := range c.Defines {
		out.Defines[k] = v
	}
	return out
}

// DefineKeys returns the define names in sorted order.
func (c CompileTimeInfo) DefineKeys() []string {
	keys := make([]string, 0, len(c.Defines))
	for k := range c.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ModuleOptionsContext configures how modules are transformed.
type ModuleOptionsContext struct {
	Layer            string
	ServerComponents bool
	DataOnly         bool
	EnableTypeScript bool
	EnableJSX        bool
}

// ResolveOptionsContext configures how import specifiers are resolved.
type ResolveOptionsContext struct {
	Extensions []string
	Conditions []string
	// Alias maps a specifier prefix to a root-relative path.
	Alias map[string]string
}

// Clone returns a deep copy.
func (r ResolveOptionsContext) Clone() ResolveOptionsContext {
	out := ResolveOptionsContext{
		Extensions: append([]string(nil), r.Extensions...),
		Conditions: append([]string(nil), r.Conditions...),
		Alias:      make(map[string]string, len(r.Alias)),
	}
	for k, v := range r.Alias {
		out.Alias[k] = v
	}
	return out
}

// WithCondition returns a copy with cond appended if missing.
func (r ResolveOptionsContext) WithCondition(cond string) ResolveOptionsContext {
	out := r.Clone()
	for _, c := range out.Conditions {
		if c == cond {
			return out
		}
	}
	out.Conditions = append(out.Conditions, cond)
	return out
}

// ReferenceType says why a module is being processed.
type ReferenceType string

const (
	RefEntry    ReferenceType = "entry"
	RefImport   ReferenceType = "import"
	RefInternal ReferenceType = "internal"
)

// Source is raw module content before any context is applied.
type Source interface {
	Ident() string
	Content(ctx context.Context, rc *incremental.ReadContext) ([]byte, error)
}

// FileSource is a file on the project filesystem.
type FileSource struct {
	FS   billy.Filesystem
	Path string
}

// Ident returns the root-relative path.
func (f *FileSource) Ident() string { return f.Path }

// Dir returns the directory containing the file.
func (f *FileSource) Dir() string { return path.Dir(f.Path) }

// Content reads the file, depending on it.
func (f *FileSource) Content(ctx context.Context, rc *incremental.ReadContext) ([]byte, error) {
	b, err := rc.ReadFile(f.FS, f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pperrors.NewBuildError(pperrors.ErrCodeModuleNotFound, "source file does not exist", err).WithPath(f.Path)
		}
		return nil, pperrors.WrapIO(err, pperrors.ErrCodeReadFailed, "failed to read source").WithPath(f.Path)
	}
	return b, nil
}

// VirtualSource is content generated in memory.
type VirtualSource struct {
	Name string
	Body []byte
}

// Ident returns "virtual:<name>".
func (v *VirtualSource) Ident() string { return "virtual:" + v.Name }

// Content returns the body.
func (v *VirtualSource) Content(context.Context, *incremental.ReadContext) ([]byte, error) {
	return v.Body, nil
}

// BuiltinSource is an embedded source.
type BuiltinSource struct {
	name string
	body []byte
}

// Ident returns "builtin:<name>".
func (b *BuiltinSource) Ident() string { return BuiltinPrefix + b.name }

// Content returns the embedded bytes.
func (b *BuiltinSource) Content(context.Context, *incremental.ReadContext) ([]byte, error) {
	return b.body, nil
}

// Builtin returns the embedded source called name, e.g. "entry/api.js".
func Builtin(name string) (*BuiltinSource, error) {
	body, err := fs.ReadFile(builtinFS, "builtin/"+name)
	if err != nil {
		return nil, pperrors.NewInternalError(pperrors.ErrCodeInternalError, "unknown builtin source "+name, err)
	}
	return &BuiltinSource{name: name, body: body}, nil
}

// MustBuiltin is Builtin for names known at compile time.
func MustBuiltin(name string) *BuiltinSource {
	b, err := Builtin(name)
	if err != nil {
		panic(err)
	}
	return b
}

// SourceFor returns the source behind a project path, which may name a
// builtin ("builtin:pages/_app.tsx").
func SourceFor(fsys billy.Filesystem, projectPath string) (Source, error) {
	if name, ok := strings.CutPrefix(projectPath, BuiltinPrefix); ok {
		return Builtin(name)
	}
	return &FileSource{FS: fsys, Path: projectPath}, nil
}
