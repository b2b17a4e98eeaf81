package project

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/conneroisu/pagepack/internal/route"
	"github.com/conneroisu/pagepack/internal/source"
)

// Role says which endpoint of a route an invocation runs.
type Role string

const (
	RoleData    Role = "data"
	RoleHandler Role = "handler"
	RoleRSC     Role = "rsc"
)

// Invocation is a request for a compiled server endpoint to run.
type Invocation struct {
	Pathname string
	Kind     route.Kind
	Role     Role
	Params   source.Params
	Data     source.Data
	Written  *route.WrittenEndpoint
}

// Executor runs compiled server output. The dev server has no JavaScript
// runtime of its own; a host process plugs one in here.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (source.Content, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, inv Invocation) (source.Content, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) (source.Content, error) {
	return f(ctx, inv)
}

// NotImplementedExecutor answers data requests with empty props and every
// other invocation with 501, naming the written entry the host should run.
type NotImplementedExecutor struct{}

// Execute implements Executor.
func (NotImplementedExecutor) Execute(_ context.Context, inv Invocation) (source.Content, error) {
	if inv.Role == RoleData {
		body, err := json.Marshal(map[string]any{
			"page":  inv.Pathname,
			"query": inv.Params,
			"props": map[string]any{},
		})
		if err != nil {
			return nil, err
		}
		return source.Static{Status: http.StatusOK, ContentType: "application/json", Body: body}, nil
	}

	payload := map[string]any{
		"error":    "no executor configured for server endpoints",
		"pathname": inv.Pathname,
		"kind":     inv.Kind,
		"role":     inv.Role,
	}
	if inv.Written != nil {
		payload["server_entry_path"] = inv.Written.ServerEntryPath
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return source.Proxy{
		Status:  http.StatusNotImplemented,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    body,
	}, nil
}
