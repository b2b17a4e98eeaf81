package errors

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagepackErrorFormatting(t *testing.T) {
	err := NewBuildError(ErrCodeBuildFailed, "failed to compile", stderrors.New("unexpected token")).
		WithPath("pages/index.tsx")

	assert.Equal(t, "[ERR_BUILD_FAILED] pages/index.tsx failed to compile: unexpected token", err.Error())
	assert.True(t, IsBuildError(err))
	assert.False(t, IsConfigError(err))
}

func TestPagepackErrorIs(t *testing.T) {
	err := fmt.Errorf("context: %w", NewInvalidPathError("/outside", "not under root"))

	assert.True(t, stderrors.Is(err, NewConfigError(ErrCodeInvalidPath, "")))
	assert.False(t, stderrors.Is(err, NewConfigError(ErrCodeConfigInvalid, "")))
	assert.True(t, IsConfigError(err))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("/x")))
	assert.True(t, IsBridgeError(NewBridgeError(ErrCodeDeliveryFailed, "callback failed", nil)))
	assert.True(t, IsConflict(NewConflictError("/a", []string{"pages/a.js", "pages/a.ts"})))
	assert.False(t, IsBuildError(nil))
}

func TestConflictErrorMessage(t *testing.T) {
	err := NewConflictError("/a", []string{"pages/a.js", "pages/a.ts"})
	assert.Contains(t, err.Error(), "pages/a.js, pages/a.ts")
	assert.Equal(t, "/a", err.Path)
}

func TestFormatCauseChain(t *testing.T) {
	root := stderrors.New("open pages/lib.js: file does not exist")
	mid := NewBuildError(ErrCodeModuleNotFound, "cannot resolve ./lib", root).WithPath("pages/index.js")
	top := NewBuildError(ErrCodeBuildFailed, "failed to build endpoint /", mid)

	out := FormatCauseChain(top)
	assert.Equal(t, "Error: [ERR_BUILD_FAILED] failed to build endpoint /\n\n"+
		"Caused by:\n"+
		"- [ERR_MODULE_NOT_FOUND] cannot resolve ./lib (pages/index.js)\n"+
		"- open pages/lib.js: file does not exist", out)
}

func TestFormatCauseChainStripsWrappedText(t *testing.T) {
	inner := stderrors.New("inner")
	err := fmt.Errorf("outer: %w", inner)

	assert.Equal(t, "Error: outer\n\nCaused by:\n- inner", FormatCauseChain(err))
}

func TestFormatCauseChainExpandsJoined(t *testing.T) {
	err := NewBuildError(ErrCodeBuildFailed, "two failures",
		stderrors.Join(stderrors.New("first"), stderrors.New("second")))

	out := FormatCauseChain(err)
	assert.Contains(t, out, "- multiple errors\n- first\n- second")
	assert.Empty(t, FormatCauseChain(nil))
}

func TestWrapPreservesPath(t *testing.T) {
	base := NewIOError(ErrCodeReadFailed, "read failed", nil).WithPath("pages/a.js")
	wrapped := WrapBuild(base, ErrCodeBuildFailed, "build failed", "")

	require.NotNil(t, wrapped)
	assert.Equal(t, "pages/a.js", wrapped.Path)
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "x", "y"))
}

func TestIssueCollectorDedupesAndSorts(t *testing.T) {
	ic := NewIssueCollector()
	warn := Issue{Severity: SeverityWarning, Category: "metadata", Context: "app/robots.ts", Title: "unsupported"}
	errIssue := Issue{Severity: SeverityError, Category: "resolve", Context: "pages/a.js", Title: "missing"}

	ic.Add(warn, errIssue, warn)

	issues := ic.Issues()
	require.Len(t, issues, 2)
	assert.Equal(t, errIssue, issues[0])
	assert.True(t, ic.HasErrors())
	assert.Equal(t, 2, ic.Len())
}

func TestErrorOverlayEscapes(t *testing.T) {
	out := ErrorOverlay(stderrors.New("<script>"), []Issue{{Severity: SeverityWarning, Title: "a & b"}})
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "a &amp; b")
	assert.Contains(t, out, "pagepack-error-overlay")
}

func TestSuggest(t *testing.T) {
	listen := fmt.Errorf("listening on localhost:3000: %w",
		&net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", syscall.EADDRINUSE)})
	suggestions := Suggest(listen, SuggestionContext{Port: 3000})
	require.Len(t, suggestions, 2)
	assert.Equal(t, "Port already in use", suggestions[0].Title)
	assert.Equal(t, "pagepack serve --port 3001", suggestions[1].Command)

	conflict := NewBuildError(ErrCodeRouteConflict, "2 conflicting routes", Join(
		NewConflictError("/a", []string{"pages/a.tsx", "app/a/page.tsx"}),
		NewConflictError("/b", []string{"pages/b.tsx", "app/b/page.tsx"}),
	))
	suggestions = Suggest(conflict, SuggestionContext{})
	require.Len(t, suggestions, 1, "each kind of failure contributes once")
	assert.Equal(t, "pagepack routes", suggestions[0].Command)

	config := NewConfigError(ErrCodeConfigInvalid, "decoding configuration: yaml: line 2")
	suggestions = Suggest(config, SuggestionContext{ConfigPath: "site.yml"})
	require.Len(t, suggestions, 3)
	assert.Equal(t, "cat site.yml", suggestions[0].Command)

	assert.Empty(t, Suggest(stderrors.New("plain"), SuggestionContext{}))
	assert.Empty(t, Suggest(nil, SuggestionContext{}))
}

func TestFormatSuggestions(t *testing.T) {
	assert.Equal(t, "title", FormatSuggestions("title", nil))
	out := FormatSuggestions("", []ErrorSuggestion{{Title: "Do it", Command: "pagepack routes", Example: "x"}})
	assert.Equal(t, "Suggestions:\n  1. Do it\n     Run: pagepack routes\n     Example: x\n", out)
}
