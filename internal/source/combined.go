package source

import (
	"context"

	"github.com/conneroisu/pagepack/internal/specificity"
)

// Combined tries its sources in order and returns the first result that is
// not NotFound. Order is precedence: most specific sources first.
type Combined struct {
	Sources []ContentSource
}

// NewCombined flattens nested Combined sources.
func NewCombined(sources ...ContentSource) *Combined {
	c := &Combined{}
	for _, s := range sources {
		if s == nil {
			continue
		}
		if inner, ok := s.(*Combined); ok {
			c.Sources = append(c.Sources, inner.Sources...)
			continue
		}
		c.Sources = append(c.Sources, s)
	}
	return c
}

// Get implements ContentSource.
func (c *Combined) Get(ctx context.Context, path string, data Data) (Result, error) {
	return getFrom(ctx, c.Sources, path, data)
}

func getFrom(ctx context.Context, sources []ContentSource, path string, data Data) (Result, error) {
	for i, s := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Get(ctx, path, data)
		if err != nil {
			return nil, err
		}
		switch r := res.(type) {
		case NotFound:
			continue
		case NeedData:
			// Keep the remaining sources so a later NotFound from the asking
			// source still falls through in order.
			asker := r.Source
			if asker == nil {
				asker = s
			}
			r.Source = &resume{first: asker, rest: sources[i+1:], path: path}
			if r.Path == "" {
				r.Path = path
			}
			return r, nil
		default:
			return res, nil
		}
	}
	return NotFound{}, nil
}

// resume re-asks the source that needed data and then continues with the
// sources after it.
type resume struct {
	first ContentSource
	rest  []ContentSource
	path  string
}

func (r *resume) Get(ctx context.Context, path string, data Data) (Result, error) {
	res, err := r.first.Get(ctx, path, data)
	if err != nil {
		return nil, err
	}
	switch v := res.(type) {
	case NotFound:
		return getFrom(ctx, r.rest, r.path, data)
	case NeedData:
		asker := v.Source
		if asker == nil {
			asker = r.first
		}
		v.Source = &resume{first: asker, rest: r.rest, path: r.path}
		if v.Path == "" {
			v.Path = path
		}
		return v, nil
	}
	return res, nil
}

// Processor transforms resolved content.
type Processor interface {
	Process(ctx context.Context, content Content, data Data) (Content, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, content Content, data Data) (Content, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, content Content, data Data) (Content, error) {
	return f(ctx, content, data)
}

// Wrapped passes the content its source resolves through Processor. Data
// requests and rewrites stay wrapped so the processor sees the final
// content.
type Wrapped struct {
	Source    ContentSource
	Processor Processor
}

// Get implements ContentSource.
func (w *Wrapped) Get(ctx context.Context, path string, data Data) (Result, error) {
	res, err := w.Source.Get(ctx, path, data)
	if err != nil {
		return nil, err
	}
	switch r := res.(type) {
	case NeedData:
		inner := r.Source
		if inner == nil {
			inner = w.Source
		}
		r.Source = &Wrapped{Source: inner, Processor: w.Processor}
		return r, nil
	case Found:
		if rw, ok := r.Content.(Rewrite); ok {
			if rw.Source != nil {
				rw.Source = &Wrapped{Source: rw.Source, Processor: w.Processor}
			}
			r.Content = rw
			return r, nil
		}
		out, err := w.Processor.Process(ctx, r.Content, data)
		if err != nil {
			return nil, err
		}
		r.Content = out
		return r, nil
	}
	return res, nil
}

// FallbackSource answers every path with the same content at the lowest
// specificity, e.g. a 404 page.
type FallbackSource struct {
	Content Content
}

// Get implements ContentSource.
func (f FallbackSource) Get(context.Context, string, Data) (Result, error) {
	return Found{Specificity: specificity.NotFound(), Content: f.Content}, nil
}

// ExactSource answers one path with Source and nothing else.
type ExactSource struct {
	Path   string
	Source ContentSource
}

// Get implements ContentSource.
func (e ExactSource) Get(ctx context.Context, path string, data Data) (Result, error) {
	if path != e.Path {
		return NotFound{}, nil
	}
	res, err := e.Source.Get(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if f, ok := res.(Found); ok {
		f.Specificity = specificity.Exact()
		return f, nil
	}
	return res, nil
}
