// Package specificity orders route patterns by how precisely they match a
// path. A static path is the most specific; each dynamic segment or
// catch-all lowers it, and earlier markers lower it more than later ones.
package specificity

import (
	"strconv"
	"strings"
)

// ElementType is the kind of marker a route segment contributes.
type ElementType uint8

const (
	// CatchAll ranks below DynamicSegment at the same depth.
	CatchAll ElementType = iota
	DynamicSegment
)

// Element is one marker at a segment depth.
type Element struct {
	Position uint32
	Type     ElementType
}

// Specificity is an immutable value with a total order. The zero value is
// Exact.
type Specificity struct {
	elements []Element
	notFound bool
}

// Exact returns the specificity of a fully static route.
func Exact() Specificity { return Specificity{} }

// NotFound returns the sentinel that ranks below every other value.
func NotFound() Specificity { return Specificity{notFound: true} }

// WithDynamicSegment returns a copy with a dynamic segment marker at pos.
func (s Specificity) WithDynamicSegment(pos uint32) Specificity {
	return s.with(Element{Position: pos, Type: DynamicSegment})
}

// WithCatchAll returns a copy with a catch-all marker at pos.
func (s Specificity) WithCatchAll(pos uint32) Specificity {
	return s.with(Element{Position: pos, Type: CatchAll})
}

func (s Specificity) with(e Element) Specificity {
	elements := make([]Element, 0, len(s.elements)+1)
	inserted := false
	for _, existing := range s.elements {
		if !inserted && e.Position < existing.Position {
			elements = append(elements, e)
			inserted = true
		}
		elements = append(elements, existing)
	}
	if !inserted {
		elements = append(elements, e)
	}
	return Specificity{elements: elements, notFound: s.notFound}
}

// Elements returns a copy of the markers in position order.
func (s Specificity) Elements() []Element {
	out := make([]Element, len(s.elements))
	copy(out, s.elements)
	return out
}

// IsExact reports whether s has no markers.
func (s Specificity) IsExact() bool { return !s.notFound && len(s.elements) == 0 }

// IsNotFound reports whether s is the not-found sentinel.
func (s Specificity) IsNotFound() bool { return s.notFound }

// Compare returns -1 if s is less specific than o, +1 if more, 0 if equal.
//
// Markers are walked in position order. At the first position where only
// one side has a marker that side is less specific; at a shared position a
// catch-all is less specific than a dynamic segment. When one side runs out
// of markers first it is the more specific one.
func (s Specificity) Compare(o Specificity) int {
	switch {
	case s.notFound && o.notFound:
		return 0
	case s.notFound:
		return -1
	case o.notFound:
		return 1
	}

	n := len(s.elements)
	if len(o.elements) < n {
		n = len(o.elements)
	}
	for i := 0; i < n; i++ {
		a, b := s.elements[i], o.elements[i]
		if a.Position != b.Position {
			if a.Position < b.Position {
				return -1
			}
			return 1
		}
		if a.Type != b.Type {
			if a.Type < b.Type {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(s.elements) > len(o.elements):
		return -1
	case len(s.elements) < len(o.elements):
		return 1
	}
	return 0
}

// Less reports whether s is strictly less specific than o.
func (s Specificity) Less(o Specificity) bool { return s.Compare(o) < 0 }

// Equal reports whether s and o rank the same.
func (s Specificity) Equal(o Specificity) bool { return s.Compare(o) == 0 }

// String renders s as "exact", "not-found", or a marker list like "d1,c2".
func (s Specificity) String() string {
	if s.notFound {
		return "not-found"
	}
	if len(s.elements) == 0 {
		return "exact"
	}
	parts := make([]string, len(s.elements))
	for i, e := range s.elements {
		prefix := "d"
		if e.Type == CatchAll {
			prefix = "c"
		}
		parts[i] = prefix + strconv.FormatUint(uint64(e.Position), 10)
	}
	return strings.Join(parts, ",")
}

// MarshalText renders the specificity with String.
func (s Specificity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SegmentMarker classifies a single route segment such as "[id]" or
// "[...rest]". It returns ok=false for static segments.
func SegmentMarker(segment string) (t ElementType, ok bool) {
	if !strings.HasPrefix(segment, "[") || !strings.HasSuffix(segment, "]") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(segment, "["), "]")
	inner = strings.TrimSuffix(strings.TrimPrefix(inner, "["), "]")
	if strings.HasPrefix(inner, "...") {
		return CatchAll, true
	}
	return DynamicSegment, true
}

// FromPathname computes the specificity of a slash-separated route pattern.
// Route groups "(name)" and parallel slots "@name" do not count as depth.
func FromPathname(pathname string) Specificity {
	s := Exact()
	var pos uint32
	for _, seg := range strings.Split(strings.Trim(pathname, "/"), "/") {
		if seg == "" || IsGroup(seg) || IsSlot(seg) {
			continue
		}
		if t, ok := SegmentMarker(seg); ok {
			if t == CatchAll {
				s = s.WithCatchAll(pos)
			} else {
				s = s.WithDynamicSegment(pos)
			}
		}
		pos++
	}
	return s
}

// IsGroup reports whether seg is a route group like "(marketing)".
func IsGroup(seg string) bool {
	return len(seg) > 2 && strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")")
}

// IsSlot reports whether seg is a parallel route slot like "@modal".
func IsSlot(seg string) bool {
	return len(seg) > 1 && strings.HasPrefix(seg, "@")
}
