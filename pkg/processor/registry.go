package processor

import (
	"fmt"

	"go.uber.org/zap"
)

// Constructor builds a fresh Processor value. Processors are stateless
// across executions, so most constructors simply return a zero-value
// struct, but the signature leaves room for future injected dependencies
// (e.g. an HTTP client for an OCR-backed processor).
type Constructor func() Processor

// registry is the explicit, statically-populated name -> constructor map
// (Design Notes: processors are registered by an explicit list at package
// init time, never discovered by scanning a directory at runtime).
var registry = map[string]Constructor{}

// Register adds a processor constructor under name, called from each
// concrete processor package's init(). A duplicate name overwrites the
// existing entry and logs a warning rather than failing process startup
// (spec.md §4.7 "Duplicate names overwrite with a warning") — init() runs
// before any request-scoped logger is constructed, so there's no logger to
// inject here; zap's global accessor (zap.L()) is the documented escape
// hatch for exactly this case and is a no-op until cmd/processor-service
// calls zap.ReplaceGlobals during its own startup.
func Register(name string, ctor Constructor) {
	if _, exists := registry[name]; exists {
		zap.L().Warn("processor: overwriting duplicate registration", zap.String("name", name))
	}
	registry[name] = ctor
}

// Get builds a fresh Processor instance for name, or reports that no such
// processor is registered.
func Get(name string) (Processor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("processor: no processor registered under name %q", name)
	}
	return ctor(), nil
}

// Names returns every registered processor name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
