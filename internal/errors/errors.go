package errors

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
)

// IssueSeverity represents the severity of an issue
type IssueSeverity int

const (
	SeverityInfo IssueSeverity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity
func (s IssueSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name.
func (s IssueSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Issue is a non-fatal diagnostic attached to a computation. Issues travel
// alongside results and never abort the computation that raised them.
type Issue struct {
	Severity    IssueSeverity `json:"severity"`
	Category    string        `json:"category"`
	Context     string        `json:"context"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
}

// String formats the issue on a single line.
func (i Issue) String() string {
	s := fmt.Sprintf("%s [%s] %s: %s", i.Severity, i.Category, i.Context, i.Title)
	if i.Description != "" {
		s += " (" + i.Description + ")"
	}
	return s
}

func issueLess(a, b Issue) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if a.Context != b.Context {
		return a.Context < b.Context
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.Description < b.Description
}

// SortIssues orders issues by severity (most severe first), then context.
func SortIssues(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool { return issueLess(issues[i], issues[j]) })
}

// IssueCollector collects issues raised by concurrent computations
type IssueCollector struct {
	issues []Issue
	seen   map[Issue]struct{}
	mutex  sync.RWMutex
}

// NewIssueCollector creates a new issue collector
func NewIssueCollector() *IssueCollector {
	return &IssueCollector{
		seen: make(map[Issue]struct{}),
	}
}

// Add records an issue; identical issues are kept once.
func (ic *IssueCollector) Add(issues ...Issue) {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	for _, issue := range issues {
		if _, ok := ic.seen[issue]; ok {
			continue
		}
		ic.seen[issue] = struct{}{}
		ic.issues = append(ic.issues, issue)
	}
}

// Issues returns a sorted copy of the collected issues
func (ic *IssueCollector) Issues() []Issue {
	ic.mutex.RLock()
	defer ic.mutex.RUnlock()
	if len(ic.issues) == 0 {
		return nil
	}
	result := make([]Issue, len(ic.issues))
	copy(result, ic.issues)
	SortIssues(result)
	return result
}

// HasErrors reports whether any issue has error severity.
func (ic *IssueCollector) HasErrors() bool {
	ic.mutex.RLock()
	defer ic.mutex.RUnlock()
	for _, issue := range ic.issues {
		if issue.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// Len returns the number of distinct issues.
func (ic *IssueCollector) Len() int {
	ic.mutex.RLock()
	defer ic.mutex.RUnlock()
	return len(ic.issues)
}

// ErrorOverlay generates the HTML page shown in place of a route whose build failed.
func ErrorOverlay(err error, issues []Issue) string {
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Build Error</title></head>
<body style="background:#1a202c;color:#e2e8f0;font-family:Monaco,Menlo,monospace;font-size:14px;padding:20px">
<div id="pagepack-error-overlay" style="max-width:1000px;margin:0 auto">
<h2 style="color:#ff6b6b">Build Error</h2>
`)
	if err != nil {
		b.WriteString(`<pre style="background:#2d3748;padding:15px;border-left:4px solid #ff6b6b;white-space:pre-wrap">`)
		b.WriteString(html.EscapeString(FormatCauseChain(err)))
		b.WriteString("</pre>\n")
	}

	for _, issue := range issues {
		color := "#ff6b6b"
		switch issue.Severity {
		case SeverityWarning:
			color = "#feca57"
		case SeverityInfo:
			color = "#48dbfb"
		}
		fmt.Fprintf(&b, `<div style="background:#2d3748;padding:15px;margin-bottom:15px;border-left:4px solid %s">
<div style="color:%s;font-weight:bold">%s</div>
<div><strong>%s</strong></div>
<div style="color:#a0aec0;font-size:12px">%s</div>
</div>
`, color, color, issue.Severity, html.EscapeString(issue.Title), html.EscapeString(issue.Context))
	}

	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}
