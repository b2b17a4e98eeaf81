package source

import (
	"context"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/specificity"
)

// StaticSource serves the files below Dir under a URL prefix.
type StaticSource struct {
	FS billy.Filesystem
	// Dir is relative to the filesystem root.
	Dir string
	// Prefix is the URL prefix, e.g. "/_pagepack/static/". Empty serves at
	// the root.
	Prefix string
}

// Get implements ContentSource.
func (s *StaticSource) Get(_ context.Context, p string, _ Data) (Result, error) {
	rel, ok := s.relative(p)
	if !ok {
		return NotFound{}, nil
	}
	file := path.Join(s.Dir, rel)

	info, err := s.FS.Stat(file)
	if err != nil || info.IsDir() {
		return NotFound{}, nil
	}
	body, err := util.ReadFile(s.FS, file)
	if err != nil {
		if os.IsNotExist(err) {
			return NotFound{}, nil
		}
		return nil, pperrors.WrapIO(err, pperrors.ErrCodeReadFailed, "failed to read static file").WithPath(file)
	}

	return Found{
		Specificity: specificity.Exact(),
		Content: Static{
			Status:      http.StatusOK,
			ContentType: ContentTypeFor(file),
			Body:        body,
		},
	}, nil
}

// relative strips the prefix and rejects paths that would leave Dir.
func (s *StaticSource) relative(p string) (string, bool) {
	prefix := "/" + strings.Trim(s.Prefix, "/")
	if prefix != "/" {
		if p != prefix && !strings.HasPrefix(p, prefix+"/") {
			return "", false
		}
		p = strings.TrimPrefix(p, prefix)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return "", false
	}
	return rel, true
}

// ContentTypeFor guesses a content type from the file extension.
func ContentTypeFor(file string) string {
	if t := mime.TypeByExtension(path.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}
