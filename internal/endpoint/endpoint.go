package endpoint

import (
	"bytes"
	"context"
	"path"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"go.opentelemetry.io/otel/attribute"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/chunk"
	"github.com/conneroisu/pagepack/internal/incremental"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/route"
)

// Kind names an endpoint variant.
type Kind string

const (
	KindPageHTML    Kind = "page-html"
	KindPageData    Kind = "page-data"
	KindPageAPI     Kind = "page-api"
	KindAppPageHTML Kind = "app-page-html"
	KindAppPageRSC  Kind = "app-page-rsc"
	KindAppRoute    Kind = "app-route"
)

// Runtime is the runtime a handler declares through its route config.
type Runtime string

const (
	RuntimeNodeJs Runtime = "nodejs"
	RuntimeEdge   Runtime = "edge"
)

// Compiled is the value of an endpoint's compile cell.
type Compiled struct {
	Written route.WrittenEndpoint
	// Files are the outputs to write, with root-relative paths.
	Files   []chunk.Output
	Runtime Runtime
	// Digest identifies the output set.
	Digest string
}

type compileFunc func(ctx context.Context, rc *incremental.ReadContext) (*Compiled, error)

// Endpoint is a compiled route target.
type Endpoint struct {
	builder *Builder
	kind    Kind
	key     string
	cell    *incremental.Cell[*Compiled]
}

var _ route.Endpoint = (*Endpoint)(nil)

// Key identifies the endpoint within its builder.
func (e *Endpoint) Key() string { return e.key }

// Kind returns the endpoint variant.
func (e *Endpoint) Kind() Kind { return e.kind }

// Compile returns a strongly consistent compile result without writing it.
func (e *Endpoint) Compile(ctx context.Context) (incremental.Snapshot[*Compiled], error) {
	return e.cell.Read(ctx)
}

// WriteToDisk compiles the endpoint and writes its outputs. Files whose
// content is already on disk are left alone, so repeating the call without
// input changes writes nothing.
func (e *Endpoint) WriteToDisk(ctx context.Context) (written *route.WrittenEndpoint, err error) {
	start := time.Now()
	ctx, span := metrics.StartSpan(ctx, "endpoint.write_to_disk",
		attribute.String("pagepack.endpoint.key", e.key),
		attribute.String("pagepack.endpoint.kind", string(e.kind)),
	)
	defer func() {
		e.builder.metrics.ObserveEndpointWrite(string(e.kind), time.Since(start), err)
		metrics.EndSpan(span, err)
	}()

	snap, err := e.cell.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		buildErr := pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to build endpoint", err).WithPath(e.key)
		chain := pperrors.FormatCauseChain(buildErr)
		e.builder.logger.Error(ctx, err, "Endpoint build failed", "endpoint", e.key, "cause_chain", chain)
		return nil, buildErr.WithContext("cause_chain", chain)
	}

	compiled := snap.Value
	for _, f := range compiled.Files {
		if err := e.builder.writeFile(f); err != nil {
			return nil, err
		}
	}

	out := compiled.Written
	out.ServerPaths = append([]string(nil), out.ServerPaths...)
	out.ClientPaths = append([]string(nil), out.ClientPaths...)
	out.Issues = snap.Issues
	e.builder.logger.Debug(ctx, "Endpoint written", "endpoint", e.key, "files", len(compiled.Files))
	return &out, nil
}

// Changed blocks until the compile result differs from the one current when
// Changed was called. Invalidations that recompute to the same output are
// absorbed.
func (e *Endpoint) Changed(ctx context.Context) error {
	snap, err := e.cell.Read(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	baseline := digestOf(snap.Value, err)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-snap.Invalidated:
		}
		snap, err = e.cell.Read(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if digestOf(snap.Value, err) != baseline {
			return nil
		}
	}
}

func digestOf(c *Compiled, err error) string {
	if err != nil {
		return "error:" + err.Error()
	}
	if c == nil {
		return ""
	}
	return c.Digest
}

func (b *Builder) writeFile(f chunk.Output) error {
	if existing, err := util.ReadFile(b.fs, f.Path); err == nil && bytes.Equal(existing, f.Content) {
		return nil
	}
	if err := b.fs.MkdirAll(path.Dir(f.Path), 0o755); err != nil {
		return pperrors.WrapIO(err, pperrors.ErrCodeWriteFailed, "failed to create output directory").WithPath(f.Path)
	}
	if err := util.WriteFile(b.fs, f.Path, f.Content, 0o644); err != nil {
		return pperrors.WrapIO(err, pperrors.ErrCodeWriteFailed, "failed to write output").WithPath(f.Path)
	}
	return nil
}

// assemble builds a Compiled from the server and client results of one
// endpoint.
func (b *Builder) assemble(runtime Runtime, server *chunk.Result, client ...*chunk.Result) *Compiled {
	c := &Compiled{Runtime: runtime}

	serverPaths := map[string]bool{}
	clientPaths := map[string]bool{}
	files := map[string]chunk.Output{}

	if server != nil {
		c.Written.ServerEntryPath = b.projectRelative(server.EntryPath)
		for _, o := range server.Outputs {
			serverPaths[b.projectRelative(o.Path)] = true
			files[o.Path] = o
		}
		for _, o := range server.Client {
			clientPaths[b.projectRelative(o.Path)] = true
			files[o.Path] = o
		}
	}
	for _, r := range client {
		if r == nil {
			continue
		}
		for _, o := range r.Client {
			clientPaths[b.projectRelative(o.Path)] = true
			files[o.Path] = o
		}
	}

	c.Written.ServerPaths = sortedKeys(serverPaths)
	c.Written.ClientPaths = sortedKeys(clientPaths)
	for _, p := range sortedKeys(filesKeys(files)) {
		c.Files = append(c.Files, files[p])
	}
	c.Digest = chunk.Digest(c.Files)
	return c
}

func filesKeys(files map[string]chunk.Output) map[string]bool {
	out := make(map[string]bool, len(files))
	for k := range files {
		out[k] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
