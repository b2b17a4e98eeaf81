package source

import (
	"context"
	"strings"

	"github.com/conneroisu/pagepack/internal/specificity"
)

// Params are the dynamic segments captured by a pathname pattern. A
// catch-all captures the remaining segments joined by "/".
type Params map[string]string

// RouteHandler produces the content of a matched route.
type RouteHandler func(ctx context.Context, path string, params Params, data Data) (Result, error)

// RouteSource answers the paths matching a route pathname such as
// "/blog/[slug]" or "/docs/[...path]".
type RouteSource struct {
	Pattern     string
	Specificity specificity.Specificity
	Handler     RouteHandler
}

// Get implements ContentSource.
func (r *RouteSource) Get(ctx context.Context, path string, data Data) (Result, error) {
	params, ok := Match(r.Pattern, path)
	if !ok {
		return NotFound{}, nil
	}
	res, err := r.Handler(ctx, path, params, data)
	if err != nil {
		return nil, err
	}
	if f, ok := res.(Found); ok {
		f.Specificity = r.Specificity
		return f, nil
	}
	return res, nil
}

// Match matches path against a route pattern.
func Match(pattern, path string) (Params, bool) {
	pat := splitPath(pattern)
	segs := splitPath(path)
	params := Params{}

	for i, p := range pat {
		switch {
		case strings.HasPrefix(p, "[[...") && strings.HasSuffix(p, "]]"):
			if i != len(pat)-1 {
				return nil, false
			}
			if i < len(segs) {
				params[p[5:len(p)-2]] = strings.Join(segs[i:], "/")
			}
			return params, true

		case strings.HasPrefix(p, "[...") && strings.HasSuffix(p, "]"):
			if i != len(pat)-1 || i >= len(segs) {
				return nil, false
			}
			params[p[4:len(p)-1]] = strings.Join(segs[i:], "/")
			return params, true

		case strings.HasPrefix(p, "[[") && strings.HasSuffix(p, "]]"):
			// Optional segment, only valid last.
			if i >= len(segs) {
				return params, i == len(pat)-1
			}
			params[p[2:len(p)-2]] = segs[i]

		case strings.HasPrefix(p, "[") && strings.HasSuffix(p, "]"):
			if i >= len(segs) {
				return nil, false
			}
			params[p[1:len(p)-1]] = segs[i]

		default:
			if i >= len(segs) || segs[i] != p {
				return nil, false
			}
		}
	}
	if len(segs) != len(pat) {
		return nil, false
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
