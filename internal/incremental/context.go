package incremental

import (
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
)

// ReadContext is handed to a computation. Reads made through it become
// dependencies of the computing cell. A nil *ReadContext performs untracked
// reads.
type ReadContext struct {
	engine *Engine
	owner  node
	issues *pperrors.IssueCollector
}

func newReadContext(e *Engine, owner node) *ReadContext {
	return &ReadContext{engine: e, owner: owner, issues: pperrors.NewIssueCollector()}
}

// Untracked returns a context that records issues but no dependencies.
func Untracked() *ReadContext {
	return &ReadContext{issues: pperrors.NewIssueCollector()}
}

func (rc *ReadContext) track(key string) {
	if rc == nil || rc.engine == nil || rc.owner == nil {
		return
	}
	rc.engine.track(rc.owner.id(), key)
}

// Emit records a non-fatal issue on the computation.
func (rc *ReadContext) Emit(issue pperrors.Issue) {
	if rc == nil {
		return
	}
	rc.issues.Add(issue)
}

func (rc *ReadContext) addIssues(issues []pperrors.Issue) {
	if rc == nil || len(issues) == 0 {
		return
	}
	rc.issues.Add(issues...)
}

// Issues returns the issues recorded so far.
func (rc *ReadContext) Issues() []pperrors.Issue {
	if rc == nil {
		return nil
	}
	return rc.issues.Issues()
}

// ReadFile reads a file and depends on its content.
func (rc *ReadContext) ReadFile(fs billy.Basic, p string) ([]byte, error) {
	rc.track(fileKey(p))
	// Removal and creation show up as listing changes of the parent.
	rc.track(dirKey(path.Dir(cleanPath(p))))
	return util.ReadFile(fs, p)
}

// ReadDir lists a directory and depends on its entries.
func (rc *ReadContext) ReadDir(fs billy.Dir, p string) ([]os.FileInfo, error) {
	rc.track(dirKey(p))
	return fs.ReadDir(p)
}

// Stat depends on the existence and metadata of p.
func (rc *ReadContext) Stat(fs billy.Basic, p string) (os.FileInfo, error) {
	rc.track(fileKey(p))
	rc.track(dirKey(path.Dir(cleanPath(p))))
	return fs.Stat(p)
}

// Exists reports whether p exists, depending on its parent's listing.
func (rc *ReadContext) Exists(fs billy.Basic, p string) bool {
	_, err := rc.Stat(fs, p)
	return err == nil
}

// IsDir reports whether p exists and is a directory.
func (rc *ReadContext) IsDir(fs billy.Basic, p string) bool {
	info, err := rc.Stat(fs, p)
	return err == nil && info.IsDir()
}
