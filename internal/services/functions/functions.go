// Package functions implements the Executor's function-runtime dispatcher
// of spec §4.6 step 4: a common invocation contract over a file-handle
// table, and a sum type over the three executor-type kinds (native, script,
// WASM). The function bodies themselves are, per spec §1, external
// collaborators referenced only through this interface; the native table
// and the goja-backed script runtime below exist only to make the testable
// scenarios of spec §8 (echo, set intersection, data fusion) reproducible.
package functions

import (
	"context"
	"fmt"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/function"
)

// Handle is the only I/O surface a function runtime exposes to a function
// body: read the plaintext a resolved input descriptor staged, or write the
// plaintext an output descriptor will encrypt and upload. The Executor
// worker handles everything on either side of a Handle: it downloads
// through the file-agent and decrypts before Invoke, and encrypts and
// uploads after.
type Handle interface {
	Read() ([]byte, error)
	Write(p []byte) error
}

// MemoryHandle is the Handle implementation used both by the Executor
// (wrapping already-decrypted staged bytes) and by this package's own
// tests.
type MemoryHandle struct {
	data []byte
}

// NewMemoryHandle wraps data as a readable handle.
func NewMemoryHandle(data []byte) *MemoryHandle {
	return &MemoryHandle{data: append([]byte(nil), data...)}
}

func (h *MemoryHandle) Read() ([]byte, error) { return h.data, nil }

func (h *MemoryHandle) Write(p []byte) error {
	h.data = append([]byte(nil), p...)
	return nil
}

// Bytes returns whatever was last written (or the original data, if
// nothing was ever written).
func (h *MemoryHandle) Bytes() []byte { return h.data }

// Runtime executes one function invocation against a resolved set of
// input/output handles, returning the human-readable summary string spec
// §4.6 step 5 forwards to update_task_result.
type Runtime interface {
	Invoke(ctx context.Context, def function.Definition, args map[string]string, inputs, outputs map[string]Handle) (summary string, err error)
}

// Dispatch returns the Runtime responsible for executorType (spec §4.6
// step 4's "sum type over runtime kinds").
func Dispatch(executorType function.ExecutorType) (Runtime, error) {
	switch executorType {
	case function.ExecutorNative:
		return NativeRuntime{}, nil
	case function.ExecutorScript:
		return NewScriptRuntime(), nil
	case function.ExecutorWASM:
		return WASMRuntime{}, nil
	default:
		return nil, errors.InvalidInput("executor_type", fmt.Sprintf("unknown executor type %q", executorType))
	}
}
