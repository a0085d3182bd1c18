package functions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opaquemesh/platform/internal/domain/function"
)

func TestScriptRuntimeEchoesArgsAndWritesOutput(t *testing.T) {
	rt, err := Dispatch(function.ExecutorScript)
	require.NoError(t, err)

	payload := `function(args, inputs) {
		return {summary: args.message, outputs: {out: args.message + "!"}};
	}`
	def := function.Definition{ExecutorType: function.ExecutorScript, Payload: []byte(payload)}
	out := NewMemoryHandle(nil)

	summary, err := rt.Invoke(context.Background(), def, map[string]string{"message": "hi"}, nil, map[string]Handle{"out": out})
	require.NoError(t, err)
	assert.Equal(t, "hi", summary)
	assert.Equal(t, "hi!", string(out.Bytes()))
}

func TestScriptRuntimeReadsInputHandles(t *testing.T) {
	rt, err := Dispatch(function.ExecutorScript)
	require.NoError(t, err)

	payload := `function(args, inputs) {
		return {summary: inputs.in.length.toString()};
	}`
	def := function.Definition{ExecutorType: function.ExecutorScript, Payload: []byte(payload)}
	in := NewMemoryHandle([]byte("hello"))

	summary, err := rt.Invoke(context.Background(), def, nil, map[string]Handle{"in": in}, nil)
	require.NoError(t, err)
	assert.Equal(t, "5", summary)
}

func TestScriptRuntimeRejectsNonObjectReturn(t *testing.T) {
	rt, err := Dispatch(function.ExecutorScript)
	require.NoError(t, err)

	def := function.Definition{ExecutorType: function.ExecutorScript, Payload: []byte(`function() { return 42; }`)}
	_, err = rt.Invoke(context.Background(), def, nil, nil, nil)
	assert.Error(t, err)
}
