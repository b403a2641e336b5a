// Package functions holds the registry of agent-invocable functions and the
// dispatcher that turns FunctionCallRequest events into results.
package functions

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Property describes one parameter in a function's schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Parameters is the JSON-schema-shaped parameter declaration transmitted to
// the agent verbatim.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is one entry of the function schema advertised to the agent.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Result is what a handler returns. Output is serialized back to the agent.
// Terminal results additionally carry the farewell the session terminator
// injects; Farewell is never echoed to the agent.
type Result struct {
	Output   map[string]any
	Terminal bool
	Farewell string
}

// Handler is an agent-invocable function. Invoke receives the request's
// parameter map with session identifiers already merged in; implementations
// validate it into their own typed input before acting.
type Handler interface {
	Definition() Definition
	Invoke(ctx context.Context, params map[string]any) (Result, error)
}

// Call is one FunctionCallRequest as seen by the dispatcher.
type Call struct {
	Name   string
	CallID string
	Params map[string]any
}

// SessionParams are the session-scoped identifiers merged into parameters the
// agent omitted.
type SessionParams struct {
	UserID string
	DocID  string
}

// Outcome is the dispatch result the session serializes into a
// FunctionCallResponse keyed by CallID.
type Outcome struct {
	CallID   string
	Output   map[string]any
	Terminal bool
	Farewell string
}

// Registry maps function names to handlers. It is populated at startup and
// read-only afterwards, so it is safe to share across sessions.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		name := strings.TrimSpace(h.Definition().Name)
		if name == "" {
			continue
		}
		r.handlers[name] = h
	}
	return r
}

// Definitions returns the advertised schema in deterministic name order.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.handlers[name].Definition())
	}
	return defs
}

// Dispatch resolves and invokes the named handler. Unknown names, handler
// errors, and handler panics all yield an error-shaped outcome; dispatch never
// fails the session.
func (r *Registry) Dispatch(ctx context.Context, call Call, session SessionParams) (out Outcome) {
	out = Outcome{CallID: call.CallID}

	defer func() {
		if v := recover(); v != nil {
			out.Output = map[string]any{"error": fmt.Sprintf("%s panicked: %v", call.Name, v)}
			out.Terminal = false
			out.Farewell = ""
		}
	}()

	var handler Handler
	if r != nil {
		handler = r.handlers[strings.TrimSpace(call.Name)]
	}
	if handler == nil {
		out.Output = map[string]any{"error": fmt.Sprintf("%s not found", call.Name)}
		return out
	}

	params := make(map[string]any, len(call.Params)+2)
	for k, v := range call.Params {
		params[k] = v
	}
	if _, ok := params["user_id"]; !ok && session.UserID != "" {
		params["user_id"] = session.UserID
	}
	if _, ok := params["doc_id"]; !ok && session.DocID != "" {
		params["doc_id"] = session.DocID
	}

	result, err := handler.Invoke(ctx, params)
	if err != nil {
		out.Output = map[string]any{"error": err.Error()}
		return out
	}
	out.Output = result.Output
	out.Terminal = result.Terminal
	out.Farewell = result.Farewell
	return out
}

func stringParam(params map[string]any, key, fallback string) string {
	if raw, ok := params[key]; ok {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

func requireStringParam(params map[string]any, key string) (string, error) {
	v := stringParam(params, key, "")
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}
