//go:build property
// +build property

package structure

import (
	"context"
	"math/rand"
	"reflect"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func scanWithOrder(names []string, seed int64) (*PagesStructure, error) {
	fs := memfs.New()
	order := rand.New(rand.NewSource(seed)).Perm(len(names))
	for _, i := range order {
		if err := util.WriteFile(fs, "pages/"+names[i]+".tsx", nil, 0o644); err != nil {
			return nil, err
		}
	}
	return ScanPages(context.Background(), nil, fs, "", nil)
}

func TestScanPagesProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	names := gen.SliceOf(gen.OneConstOf("index", "about", "_app", "_document", "_error", "[slug]", "blog", "contact"))

	properties.Property("scan result does not depend on creation order", prop.ForAll(
		func(files []string, seed int64) bool {
			a, errA := scanWithOrder(files, seed)
			b, errB := scanWithOrder(files, seed+1)
			if errA != nil || errB != nil {
				return false
			}
			return reflect.DeepEqual(a, b)
		},
		names, gen.Int64(),
	))

	properties.Property("singletons never appear among items", prop.ForAll(
		func(files []string) bool {
			ps, err := scanWithOrder(files, 1)
			if err != nil {
				return false
			}
			ok := true
			ps.Pages.Walk(func(i *Item) {
				switch i.RouterPath {
				case "/_app", "/_document", "/_error":
					ok = false
				}
			})
			return ok && ps.App != nil && ps.Document != nil && ps.Error != nil
		},
		names,
	))

	properties.Property("items are sorted by file name", prop.ForAll(
		func(files []string) bool {
			ps, err := scanWithOrder(files, 2)
			if err != nil {
				return false
			}
			if ps.Pages == nil {
				return true
			}
			for i := 1; i < len(ps.Pages.Items); i++ {
				if ps.Pages.Items[i-1].ProjectPath > ps.Pages.Items[i].ProjectPath {
					return false
				}
			}
			return true
		},
		names,
	))

	properties.TestingRun(t)
}
