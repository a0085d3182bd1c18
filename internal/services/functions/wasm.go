package functions

import (
	"context"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/function"
)

// WASMRuntime is the dispatch target for function.ExecutorWASM. Spec §1
// lists WASM function bodies as an external collaborator referenced only
// through the dispatch interface ("out of scope ... the per-function
// WASM/Python/native runtime bodies"); no WASM host is wired in, so an
// invocation always fails with a descriptive error rather than silently
// no-opping.
type WASMRuntime struct{}

func (WASMRuntime) Invoke(_ context.Context, def function.Definition, _ map[string]string, _, _ map[string]Handle) (string, error) {
	return "", errors.Internal("wasm function bodies are an external collaborator not wired into this deployment (function "+def.ID+")", nil)
}
