// Package build writes every endpoint of a project's routes to disk for a
// production build. Writes run on a bounded worker pool; each completed
// write is reported to the registered callbacks and folded into the build
// metrics.
package build

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/route"
)

// DefaultWorkers is used when a pipeline is created with fewer than one
// worker.
const DefaultWorkers = 4

// BuildTask is one endpoint to write.
type BuildTask struct {
	Pathname string
	Role     string
	Kind     route.Kind
	Endpoint route.Endpoint
}

// BuildResult represents the result of a build operation
type BuildResult struct {
	Task     BuildTask
	Written  *route.WrittenEndpoint
	Error    error
	Duration time.Duration
}

// BuildCallback is called when a build completes
type BuildCallback func(result BuildResult)

// Report summarizes a finished build.
type Report struct {
	Results  []BuildResult
	Failed   int
	Issues   []pperrors.Issue
	Duration time.Duration
}

// Written returns the number of endpoints written without error.
func (r *Report) Written() int { return len(r.Results) - r.Failed }

// Option configures a BuildPipeline.
type Option func(*BuildPipeline)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *BuildPipeline) { p.logger = l }
}

// WithCallback registers cb for every completed write.
func WithCallback(cb BuildCallback) Option {
	return func(p *BuildPipeline) { p.callbacks = append(p.callbacks, cb) }
}

// BuildPipeline writes endpoints concurrently.
type BuildPipeline struct {
	workers   int
	logger    logging.Logger
	metrics   *BuildMetrics
	callbacks []BuildCallback
	mutex     sync.Mutex // Serializes callbacks and result collection
}

// NewBuildPipeline creates a new build pipeline
func NewBuildPipeline(workers int, opts ...Option) *BuildPipeline {
	if workers < 1 {
		workers = DefaultWorkers
	}
	p := &BuildPipeline{
		workers: workers,
		metrics: NewBuildMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	p.logger = p.logger.WithComponent("build")
	return p
}

// Metrics returns the pipeline's build metrics.
func (p *BuildPipeline) Metrics() *BuildMetrics { return p.metrics }

// Plan lists one task per distinct endpoint of routes, ordered by pathname
// and role. Conflicting pathnames cannot be built; they are returned as
// joined conflict errors alongside the tasks for every other route.
func Plan(routes *route.Routes) ([]BuildTask, error) {
	var (
		tasks     []BuildTask
		conflicts []error
		seen      = map[string]bool{}
	)
	for _, pathname := range routes.Pathnames() {
		r, _ := routes.Get(pathname)
		if r.Kind() == route.KindConflict {
			conflicts = append(conflicts, pperrors.NewConflictError(pathname, route.Sources(r)))
			continue
		}
		endpoints := r.Endpoints()
		roles := make([]string, 0, len(endpoints))
		for role := range endpoints {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			ep := endpoints[role]
			if seen[ep.Key()] {
				continue
			}
			seen[ep.Key()] = true
			tasks = append(tasks, BuildTask{Pathname: pathname, Role: role, Kind: r.Kind(), Endpoint: ep})
		}
	}
	return tasks, pperrors.Join(conflicts...)
}

// Run writes every task and waits for all of them. A failed write does not
// stop the others; the returned error joins every failure. Cancelling ctx
// skips the writes that have not started.
func (p *BuildPipeline) Run(ctx context.Context, tasks []BuildTask) (*Report, error) {
	start := time.Now()
	report := &Report{Results: make([]BuildResult, 0, len(tasks))}
	var failures []error

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := task
		g.Go(func() error {
			result := p.write(ctx, task)

			p.mutex.Lock()
			defer p.mutex.Unlock()
			report.Results = append(report.Results, result)
			if result.Error != nil {
				report.Failed++
				failures = append(failures, result.Error)
			} else {
				report.Issues = append(report.Issues, result.Written.Issues...)
			}
			p.metrics.RecordBuild(result)
			for _, cb := range p.callbacks {
				cb(result)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Results, func(i, j int) bool {
		a, b := report.Results[i].Task, report.Results[j].Task
		if a.Pathname != b.Pathname {
			return a.Pathname < b.Pathname
		}
		return a.Role < b.Role
	})
	pperrors.SortIssues(report.Issues)
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		failures = append(failures, err)
	}
	p.logger.Info(ctx, "Build finished",
		"endpoints", len(report.Results),
		"failed", report.Failed,
		"issues", len(report.Issues),
		"duration", report.Duration)
	return report, pperrors.Join(failures...)
}

func (p *BuildPipeline) write(ctx context.Context, task BuildTask) BuildResult {
	start := time.Now()
	written, err := task.Endpoint.WriteToDisk(ctx)
	result := BuildResult{Task: task, Written: written, Duration: time.Since(start)}
	if err != nil {
		result.Error = pperrors.WrapBuild(err, pperrors.ErrCodeBuildFailed, "writing "+task.Role+" endpoint", task.Pathname)
		p.logger.Warn(ctx, err, "Endpoint write failed", "pathname", task.Pathname, "role", task.Role)
		return result
	}
	if written == nil {
		result.Written = &route.WrittenEndpoint{}
	}
	p.logger.Debug(ctx, "Endpoint written",
		"pathname", task.Pathname,
		"role", task.Role,
		"entry", result.Written.ServerEntryPath,
		"duration", result.Duration)
	return result
}
