// Package project is the entry point of a build: it binds a project
// directory to an incremental engine, computes its routes and serves its dev
// content source.
package project

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/joho/godotenv"

	"github.com/conneroisu/pagepack/internal/asset"
	"github.com/conneroisu/pagepack/internal/endpoint"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/route"
	"github.com/conneroisu/pagepack/internal/source"
	"github.com/conneroisu/pagepack/internal/structure"
	"github.com/conneroisu/pagepack/internal/watcher"
)

// Options configure a project.
type Options struct {
	// RootPath bounds every file access. Absolute or relative to the working
	// directory.
	RootPath string `json:"root_path" yaml:"root_path"`
	// ProjectPath is the project directory; it must lie within RootPath.
	ProjectPath string `json:"project_path" yaml:"project_path"`
	Watch       bool   `json:"watch" yaml:"watch"`
	// MemoryLimit sizes in-memory caches, in bytes. Zero picks defaults.
	MemoryLimit uint64     `json:"memory_limit,omitempty" yaml:"memory_limit,omitempty"`
	Mode        asset.Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	DistDir     string     `json:"dist_dir,omitempty" yaml:"dist_dir,omitempty"`
	// ImageQuality is the default image optimizer quality.
	ImageQuality int `json:"image_quality,omitempty" yaml:"image_quality,omitempty"`
	// ImageMaxWidth caps optimized image widths.
	ImageMaxWidth int `json:"image_max_width,omitempty" yaml:"image_max_width,omitempty"`
}

// Option customizes how a project is constructed.
type Option func(*settings)

type settings struct {
	fs       billy.Filesystem
	logger   logging.Logger
	metrics  *metrics.Metrics
	executor Executor
	env      map[string]string
	debounce time.Duration
}

// WithFilesystem uses fs, rooted at RootPath, instead of the OS filesystem.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(s *settings) { s.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records project metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithExecutor runs compiled server handlers in the dev content source.
func WithExecutor(e Executor) Option {
	return func(s *settings) { s.executor = e }
}

// WithEnv replaces the process environment layered over the .env files.
func WithEnv(env map[string]string) Option {
	return func(s *settings) { s.env = env }
}

// WithDebounce sets the watcher debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(s *settings) { s.debounce = d }
}

// Project is an opened project.
type Project struct {
	opts       Options
	rootAbs    string
	projectDir string

	fs       billy.Filesystem
	engine   *incremental.Engine
	builder  *endpoint.Builder
	logger   logging.Logger
	metrics  *metrics.Metrics
	executor Executor
	images   *source.ImageProcessor
	watcher  *watcher.FileWatcher

	env    *incremental.Cell[map[string]string]
	pages  *incremental.Memo[string, *structure.PagesStructure]
	app    *incremental.Memo[string, *structure.AppStructure]
	routes *incremental.Memo[string, *route.Routes]
	dev    *incremental.Memo[string, source.ContentSource]
}

// New opens a project. It fails with an invalid path error when the project
// directory is not inside the root.
func New(ctx context.Context, opts Options, options ...Option) (*Project, error) {
	s := settings{executor: NotImplementedExecutor{}}
	for _, o := range options {
		o(&s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.env == nil {
		s.env = processEnv()
	}

	if opts.Mode == "" {
		opts.Mode = asset.ModeDevelopment
	}
	if opts.Mode != asset.ModeDevelopment && opts.Mode != asset.ModeBuild {
		return nil, pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "unknown mode "+string(opts.Mode))
	}
	if opts.DistDir == "" {
		opts.DistDir = endpoint.DefaultDistDir
	}

	rootAbs, projectDir, err := resolvePaths(opts.RootPath, opts.ProjectPath)
	if err != nil {
		return nil, err
	}

	fs := s.fs
	if fs == nil {
		fs = osfs.New(rootAbs, osfs.WithBoundOS())
	}

	logger := s.logger.WithComponent("project").With("project", projectDir)
	p := &Project{
		opts:       opts,
		rootAbs:    rootAbs,
		projectDir: projectDir,
		fs:         fs,
		logger:     logger,
		metrics:    s.metrics,
		executor:   s.executor,
	}
	p.engine = incremental.NewEngine(s.logger, incremental.WithInvalidationHook(func(n int) {
		p.metrics.Invalidated(n)
	}))

	p.images, err = source.NewImageProcessor(imageCacheSize(opts.MemoryLimit), opts.ImageMaxWidth, s.metrics,
		source.WithMaxPixels(imageMaxPixels(opts.MemoryLimit)))
	if err != nil {
		return nil, err
	}

	p.env = incremental.NewCell(p.engine, "env", func(ctx context.Context, rc *incremental.ReadContext) (map[string]string, error) {
		return p.loadEnv(rc, s.env), nil
	})
	p.pages = incremental.NewMemo(p.engine, "pages structure", func(ctx context.Context, rc *incremental.ReadContext, key string) (*structure.PagesStructure, error) {
		return structure.ScanPages(ctx, rc, p.fs, p.projectDir, splitKey(key))
	})
	p.app = incremental.NewMemo(p.engine, "app structure", func(ctx context.Context, rc *incremental.ReadContext, key string) (*structure.AppStructure, error) {
		return structure.ScanApp(ctx, rc, p.fs, p.projectDir, splitKey(key))
	})
	p.builder = endpoint.NewBuilder(endpoint.Options{
		Engine:     p.engine,
		FS:         p.fs,
		ProjectDir: p.projectDir,
		DistDir:    opts.DistDir,
		Mode:       opts.Mode,
		Env:        p.env,
		Pages: func(ctx context.Context, rc *incremental.ReadContext, extensions []string) (*structure.PagesStructure, error) {
			return p.pages.Get(ctx, rc, extensionsKey(extensions))
		},
		Metrics: s.metrics,
		Logger:  s.logger,
	})
	p.routes = incremental.NewMemo(p.engine, "routes", p.computeRoutes)
	p.dev = incremental.NewMemo(p.engine, "dev source", p.computeDevSource)

	if opts.Watch {
		if err := p.startWatcher(ctx, s.debounce); err != nil {
			p.engine.Close()
			return nil, err
		}
	}

	logger.Info(ctx, "Project opened", "root", rootAbs, "mode", string(opts.Mode), "watch", opts.Watch)
	return p, nil
}

// resolvePaths returns the absolute root and the project directory relative
// to it in slash form ("" when they are the same).
func resolvePaths(root, project string) (string, string, error) {
	if strings.TrimSpace(root) == "" {
		return "", "", pperrors.NewInvalidPathError(root, "root path is empty")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", "", pperrors.NewInvalidPathError(root, err.Error())
	}
	if project == "" {
		project = rootAbs
	}
	if !filepath.IsAbs(project) {
		project = filepath.Join(rootAbs, project)
	}
	rel, err := filepath.Rel(rootAbs, filepath.Clean(project))
	if err != nil {
		return "", "", pperrors.NewInvalidPathError(project, err.Error())
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", pperrors.NewInvalidPathError(project, "project path is not inside the root path "+rootAbs)
	}
	if rel == "." {
		rel = ""
	}
	return rootAbs, rel, nil
}

func (p *Project) startWatcher(ctx context.Context, debounce time.Duration) error {
	fw, err := watcher.NewFileWatcher(debounce, p.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.IgnoreDirs(path.Base(p.opts.DistDir)))
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddHandler(watcher.InvalidateHandler(p.rootAbs, p.engine))

	if err := fw.AddRecursive(filepath.Join(p.rootAbs, filepath.FromSlash(p.projectDir))); err != nil {
		_ = fw.Stop()
		return err
	}
	if err := fw.Start(context.WithoutCancel(ctx)); err != nil {
		_ = fw.Stop()
		return err
	}
	p.watcher = fw
	return nil
}

// Close stops watching and closes the engine. Every subscription on the
// project's engine ends.
func (p *Project) Close() error {
	var err error
	if p.watcher != nil {
		err = p.watcher.Stop()
	}
	p.engine.Close()
	p.logger.Info(context.Background(), "Project closed")
	return err
}

// Engine returns the project's incremental engine.
func (p *Project) Engine() *incremental.Engine { return p.engine }

// FS returns the root-bound filesystem.
func (p *Project) FS() billy.Filesystem { return p.fs }

// Builder returns the project's endpoint builder.
func (p *Project) Builder() *endpoint.Builder { return p.builder }

// Options returns the options the project was opened with, defaults applied.
func (p *Project) Options() Options { return p.opts }

// RootPath returns the absolute root path.
func (p *Project) RootPath() string { return p.rootAbs }

// ProjectDir returns the project directory relative to the root.
func (p *Project) ProjectDir() string { return p.projectDir }

// Env returns the compile-time environment: the project's .env files
// overlaid with the process environment.
func (p *Project) Env(ctx context.Context, rc *incremental.ReadContext) (map[string]string, error) {
	return incremental.Read(ctx, rc, p.env)
}

// envFiles lists the dotenv files in increasing precedence.
func envFiles(mode asset.Mode) []string {
	name := "development"
	if mode == asset.ModeBuild {
		name = "production"
	}
	return []string{".env", ".env." + name, ".env.local", ".env." + name + ".local"}
}

func (p *Project) loadEnv(rc *incremental.ReadContext, process map[string]string) map[string]string {
	env := map[string]string{}
	for _, name := range envFiles(p.opts.Mode) {
		file := path.Join(p.projectDir, name)
		if !rc.Exists(p.fs, file) {
			continue
		}
		data, err := rc.ReadFile(p.fs, file)
		if err == nil {
			var vals map[string]string
			vals, err = godotenv.Unmarshal(string(data))
			for k, v := range vals {
				env[k] = v
			}
		}
		if err != nil {
			rc.Emit(pperrors.Issue{
				Severity:    pperrors.SeverityWarning,
				Category:    "env",
				Context:     file,
				Title:       "Failed to load environment file",
				Description: err.Error(),
			})
		}
	}
	for k, v := range process {
		env[k] = v
	}
	return env
}

func processEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// imageMaxPixels bounds decoded images to a quarter of the memory limit at
// four bytes per pixel. Zero keeps the processor default.
func imageMaxPixels(limit uint64) int64 {
	if limit == 0 {
		return 0
	}
	n := int64(limit / 16)
	if n < 1<<20 {
		n = 1 << 20
	}
	if n > source.DefaultMaxPixels {
		n = source.DefaultMaxPixels
	}
	return n
}

// imageCacheSize derives the number of cached optimized images from a
// memory limit, assuming 256KiB per image.
func imageCacheSize(limit uint64) int {
	if limit == 0 {
		return 256
	}
	n := limit / (256 << 10)
	switch {
	case n < 16:
		return 16
	case n > 4096:
		return 4096
	}
	return int(n)
}
