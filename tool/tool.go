// Package tool defines the boundary to the tool-provider collaborator:
// named, parameterized operations the executor agent can resolve and
// invoke. The core never depends on what a tool does, only on the
// list/resolve/invoke contract.
package tool

import "context"

// Func is an invocable tool implementation. Implementations should
// honor ctx cancellation where the underlying operation allows it.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Descriptor describes one available tool.
type Descriptor struct {
	Name        string
	Description string
	Toolkit     string
}

// Provider exposes the currently available tools. The executor agent
// periodically diffs List against its cached set, so implementations
// may add and remove tools at runtime.
type Provider interface {
	// List returns the available tool descriptors keyed by name.
	List() map[string]Descriptor

	// Resolve returns the callable for name, or false if absent.
	Resolve(name string) (Func, bool)
}
