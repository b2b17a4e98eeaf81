package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/metrics"
)

// MaxRewrites bounds the rewrites followed by one resolution.
const MaxRewrites = 16

// Request is everything Resolve may hand to a source.
type Request struct {
	Method  string
	URL     *url.URL
	Headers http.Header
	Cookies map[string]string
}

// RequestFromHTTP captures an incoming request.
func RequestFromHTTP(r *http.Request) *Request {
	cookies := map[string]string{}
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	u := *r.URL
	return &Request{
		Method:  r.Method,
		URL:     &u,
		Headers: r.Header.Clone(),
		Cookies: cookies,
	}
}

// Path returns the request path, without the leading slash collapsing.
func (r *Request) Path() string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// fill returns data with the fields selected by vary added from r.
func (r *Request) fill(data Data, vary Vary) Data {
	if vary.Method {
		m := r.Method
		data.Method = &m
	}
	if vary.URL && r.URL != nil {
		u := r.URL.String()
		data.URL = &u
	}
	if vary.Query != nil {
		var q url.Values
		if r.URL != nil {
			q = r.URL.Query()
		}
		data.Query = mergeValues(data.Query, selectValues(q, vary.Query))
	}
	if vary.Headers != nil {
		h := http.Header{}
		for k, v := range data.Headers {
			h[k] = v
		}
		for k, v := range r.Headers {
			if vary.Headers.All || containsFold(vary.Headers.Keys, k) {
				h[k] = append([]string(nil), v...)
			}
		}
		data.Headers = h
	}
	if vary.Cookies != nil {
		c := map[string]string{}
		for k, v := range data.Cookies {
			c[k] = v
		}
		for k, v := range r.Cookies {
			if vary.Cookies.All || contains(vary.Cookies.Keys, k) {
				c[k] = v
			}
		}
		data.Cookies = c
	}
	return data
}

func selectValues(q url.Values, f *Filter) url.Values {
	out := url.Values{}
	for k, v := range q {
		if f.All || contains(f.Keys, k) {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

func mergeValues(a, b url.Values) url.Values {
	out := url.Values{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func contains(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func containsFold(keys []string, k string) bool {
	for _, key := range keys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}

// Resolve runs the negotiation loop: ask the source, supply exactly the data
// it asks for, follow rewrites, until content is found. A path nothing
// answers is a NotFoundError. A source asking again for data it was given is
// a BuildError, as is a rewrite chain longer than MaxRewrites.
func Resolve(ctx context.Context, root ContentSource, req *Request) (content Content, err error) {
	ctx, span := metrics.StartSpan(ctx, "content.resolve", attribute.String("pagepack.path", req.Path()))
	defer func() { metrics.EndSpan(span, err) }()

	var (
		src      = root
		path     = req.Path()
		data     Data
		supplied Vary
	)
	for rewrites := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := src.Get(ctx, path, data)
		if err != nil {
			return nil, err
		}

		switch r := res.(type) {
		case NotFound:
			return nil, pperrors.NewNotFoundError(path)

		case NeedData:
			if r.Vary.IsEmpty() || supplied.Covers(r.Vary) {
				return nil, pperrors.NewBuildError(pperrors.ErrCodeNegotiation,
					fmt.Sprintf("content source for %s asked again for data it already received (%s)", path, describe(r.Vary)), nil)
			}
			supplied = supplied.Union(r.Vary)
			data = req.fill(data, supplied)
			data.Supplied = supplied
			if r.Source != nil {
				src = r.Source
			}
			if r.Path != "" {
				path = r.Path
			}

		case Found:
			rw, ok := r.Content.(Rewrite)
			if !ok {
				return r.Content, nil
			}
			rewrites++
			if rewrites > MaxRewrites {
				return nil, pperrors.NewBuildError(pperrors.ErrCodeNegotiation,
					fmt.Sprintf("too many rewrites resolving %s", req.Path()), nil)
			}
			src = root
			if rw.Source != nil {
				src = rw.Source
			}
			req = req.rewritten(rw.Path, rw.RawQuery)
			path = req.Path()
			data = Data{}
			supplied = Vary{}
		}
	}
}

func (r *Request) rewritten(p, rawQuery string) *Request {
	out := *r
	u := url.URL{Path: p, RawQuery: rawQuery}
	if r.URL != nil {
		u.Scheme, u.Host = r.URL.Scheme, r.URL.Host
	}
	out.URL = &u
	return &out
}

func describe(v Vary) string {
	var parts []string
	if v.Method {
		parts = append(parts, "method")
	}
	if v.URL {
		parts = append(parts, "url")
	}
	for name, f := range map[string]*Filter{"query": v.Query, "headers": v.Headers, "cookies": v.Cookies} {
		if f == nil {
			continue
		}
		if f.All {
			parts = append(parts, name+"[*]")
		} else {
			parts = append(parts, name+"["+strings.Join(f.Keys, ",")+"]")
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
