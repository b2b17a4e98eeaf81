// Package source routes requests to content. A ContentSource answers a path
// with a Result; when it needs part of the request (query, headers, cookies)
// it says so, and Resolve asks again with exactly that data supplied.
package source

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/conneroisu/pagepack/internal/specificity"
)

// ContentSource resolves a path. Get must be idempotent for the same path and
// data.
type ContentSource interface {
	Get(ctx context.Context, path string, data Data) (Result, error)
}

// SourceFunc adapts a function to ContentSource.
type SourceFunc func(ctx context.Context, path string, data Data) (Result, error)

// Get calls f.
func (f SourceFunc) Get(ctx context.Context, path string, data Data) (Result, error) {
	return f(ctx, path, data)
}

// Data is the part of a request handed to a source. A nil field was not
// supplied; Supplied says what was asked for.
type Data struct {
	Method  *string
	URL     *string
	Query   url.Values
	Headers http.Header
	Cookies map[string]string

	// Supplied is everything handed over so far, including keys the
	// request did not carry.
	Supplied Vary
}

// Has reports whether every field and key v selects was supplied.
func (d Data) Has(v Vary) bool { return d.Supplied.Covers(v) }

// Filter selects keys of a map-like request field.
type Filter struct {
	All  bool
	Keys []string
}

// Covers reports whether every key selected by other is selected by f.
func (f *Filter) Covers(other *Filter) bool {
	if other == nil {
		return true
	}
	if f == nil {
		return false
	}
	if f.All {
		return true
	}
	if other.All {
		return false
	}
	have := map[string]bool{}
	for _, k := range f.Keys {
		have[k] = true
	}
	for _, k := range other.Keys {
		if !have[k] {
			return false
		}
	}
	return true
}

func (f *Filter) union(other *Filter) *Filter {
	switch {
	case f == nil:
		return other
	case other == nil:
		return f
	case f.All || other.All:
		return &Filter{All: true}
	}
	seen := map[string]bool{}
	out := &Filter{}
	for _, k := range append(append([]string(nil), f.Keys...), other.Keys...) {
		if !seen[k] {
			seen[k] = true
			out.Keys = append(out.Keys, k)
		}
	}
	sort.Strings(out.Keys)
	return out
}

// Vary names the request fields a source needs.
type Vary struct {
	Method  bool
	URL     bool
	Query   *Filter
	Headers *Filter
	Cookies *Filter
}

// IsEmpty reports whether nothing is requested.
func (v Vary) IsEmpty() bool {
	return !v.Method && !v.URL && v.Query == nil && v.Headers == nil && v.Cookies == nil
}

// Covers reports whether v requests everything other requests.
func (v Vary) Covers(other Vary) bool {
	return (v.Method || !other.Method) &&
		(v.URL || !other.URL) &&
		v.Query.Covers(other.Query) &&
		v.Headers.Covers(other.Headers) &&
		v.Cookies.Covers(other.Cookies)
}

// Union merges two requests for data.
func (v Vary) Union(other Vary) Vary {
	return Vary{
		Method:  v.Method || other.Method,
		URL:     v.URL || other.URL,
		Query:   v.Query.union(other.Query),
		Headers: v.Headers.union(other.Headers),
		Cookies: v.Cookies.union(other.Cookies),
	}
}

// Result is NotFound, NeedData or Found.
type Result interface {
	isResult()
}

// NotFound means the source has nothing for the path.
type NotFound struct{}

// NeedData asks to be called again with more of the request. Source and Path
// say where to ask; a nil Source means the source that answered.
type NeedData struct {
	Source ContentSource
	Path   string
	Vary   Vary
}

// Found is resolved content.
type Found struct {
	Specificity specificity.Specificity
	Content     Content
}

func (NotFound) isResult() {}
func (NeedData) isResult() {}
func (Found) isResult()    {}

// Content is Static, Rewrite or Proxy.
type Content interface {
	isContent()
}

// Static is a complete response body.
type Static struct {
	Status      int
	ContentType string
	Headers     http.Header
	Body        []byte
}

// Rewrite restarts resolution at Path. A nil Source means the root source.
type Rewrite struct {
	Path     string
	RawQuery string
	Source   ContentSource
}

// Proxy is a response produced by something other than a static file, such
// as a redirect or a handler invocation.
type Proxy struct {
	Status  int
	Headers http.Header
	Body    []byte
}

func (Static) isContent()  {}
func (Rewrite) isContent() {}
func (Proxy) isContent()   {}

// NotFoundSource answers nothing.
type NotFoundSource struct{}

// Get returns NotFound.
func (NotFoundSource) Get(context.Context, string, Data) (Result, error) {
	return NotFound{}, nil
}
