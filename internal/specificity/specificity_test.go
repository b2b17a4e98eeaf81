package specificity

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinels(t *testing.T) {
	assert.True(t, NotFound().Less(Exact()))
	assert.True(t, NotFound().Less(Exact().WithCatchAll(0)))
	assert.True(t, Exact().WithDynamicSegment(3).Less(Exact()))
	assert.True(t, NotFound().Equal(NotFound()))
	assert.True(t, Exact().IsExact())
	assert.True(t, NotFound().IsNotFound())
}

func TestDeeperMarkersRankHigher(t *testing.T) {
	shallow := Exact().WithDynamicSegment(0) // /[a]/b
	deep := Exact().WithDynamicSegment(1)    // /a/[b]

	assert.True(t, shallow.Less(deep))
	assert.Equal(t, 1, deep.Compare(shallow))
}

func TestFewerMarkersRankHigher(t *testing.T) {
	one := Exact().WithDynamicSegment(1)
	two := Exact().WithDynamicSegment(1).WithDynamicSegment(2)

	assert.True(t, two.Less(one))
}

func TestCatchAllBelowDynamic(t *testing.T) {
	dyn := Exact().WithDynamicSegment(1)
	catch := Exact().WithCatchAll(1)

	assert.True(t, catch.Less(dyn))
}

func TestInsertionOrderIndependent(t *testing.T) {
	a := Exact().WithDynamicSegment(2).WithCatchAll(0)
	b := Exact().WithCatchAll(0).WithDynamicSegment(2)

	assert.True(t, a.Equal(b))
	assert.Equal(t, "c0,d2", a.String())
}

func TestValuesAreImmutable(t *testing.T) {
	base := Exact().WithDynamicSegment(0)
	_ = base.WithDynamicSegment(1)
	_ = base.WithCatchAll(2)

	assert.Len(t, base.Elements(), 1)
}

func TestFromPathname(t *testing.T) {
	cases := map[string]string{
		"/":                          "exact",
		"/blog":                      "exact",
		"/blog/[slug]":               "d1",
		"/(marketing)/blog/[slug]":   "d1",
		"/@modal/photos/[...path]":   "c1",
		"/docs/[[...slug]]":          "c1",
		"/[lang]/docs/[id]":          "d0,d2",
	}
	for pathname, want := range cases {
		assert.Equal(t, want, FromPathname(pathname).String(), pathname)
	}
}

func TestSegmentMarker(t *testing.T) {
	typ, ok := SegmentMarker("[id]")
	assert.True(t, ok)
	assert.Equal(t, DynamicSegment, typ)

	typ, ok = SegmentMarker("[[...slug]]")
	assert.True(t, ok)
	assert.Equal(t, CatchAll, typ)

	_, ok = SegmentMarker("about")
	assert.False(t, ok)
}

func TestSortBySpecificity(t *testing.T) {
	values := []Specificity{
		Exact().WithCatchAll(0),
		Exact(),
		NotFound(),
		Exact().WithDynamicSegment(0),
		Exact().WithDynamicSegment(1),
	}
	sort.Slice(values, func(i, j int) bool { return values[j].Less(values[i]) })

	got := make([]string, len(values))
	for i, v := range values {
		got[i] = v.String()
	}
	assert.Equal(t, []string{"exact", "d1", "d0", "c0", "not-found"}, got)
}
