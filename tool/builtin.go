package tool

import (
	"context"
	"fmt"
	"strings"
)

// Builtins returns a registry preloaded with the demo tools: a math
// calculator, a canned search and a canned weather lookup. Production
// deployments replace these with real providers; the names line up with
// the executor's keyword inference so the system runs end to end.
func Builtins() *Registry {
	r := NewRegistry()

	_ = r.Register(Descriptor{
		Name:        "math_calculator",
		Description: "Performs basic arithmetic on two operands",
		Toolkit:     "builtin",
	}, mathCalculator)

	_ = r.Register(Descriptor{
		Name:        "search_web",
		Description: "Looks up information for a query",
		Toolkit:     "builtin",
	}, searchWeb)

	_ = r.Register(Descriptor{
		Name:        "weather_lookup",
		Description: "Reports weather for a location",
		Toolkit:     "builtin",
	}, weatherLookup)

	return r
}

func mathCalculator(_ context.Context, params map[string]any) (any, error) {
	a, okA := toFloat(params["a"])
	b, okB := toFloat(params["b"])
	if !okA || !okB {
		return nil, fmt.Errorf("math_calculator requires numeric parameters a and b")
	}

	op, _ := params["operation"].(string)
	switch op {
	case "add", "+":
		return a + b, nil
	case "subtract", "-":
		return a - b, nil
	case "divide", "/":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return a / b, nil
	default:
		// The common case in free-form queries is multiplication.
		return a * b, nil
	}
}

func searchWeb(_ context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search_web requires a query parameter")
	}
	return fmt.Sprintf("Search results for %q are not available offline", query), nil
}

func weatherLookup(_ context.Context, params map[string]any) (any, error) {
	location, _ := params["location"].(string)
	if location == "" {
		location = "current"
	}
	return fmt.Sprintf("Weather data for %q is not available offline", location), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
