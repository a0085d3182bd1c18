package functions

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/function"
)

// ScriptRuntime executes a function's payload as a JavaScript source body
// inside a goja VM (spec §4.6 step 4's "Python subset" slot, adapted to the
// scripting engine this pack's teacher already depends on). The function
// receives `args` and `inputs` (slot name -> decoded string) and must
// return an object `{summary, outputs}`; `outputs` keys matching a
// declared output slot are written back through that slot's Handle.
type ScriptRuntime struct{}

// NewScriptRuntime constructs a ScriptRuntime. It holds no state: a fresh
// goja.Runtime is created per invocation so one function's globals never
// leak into another's.
func NewScriptRuntime() *ScriptRuntime { return &ScriptRuntime{} }

func (ScriptRuntime) Invoke(ctx context.Context, def function.Definition, args map[string]string, inputs, outputs map[string]Handle) (string, error) {
	rt := goja.New()

	inputStrings := make(map[string]string, len(inputs))
	for name, h := range inputs {
		data, err := h.Read()
		if err != nil {
			return "", err
		}
		inputStrings[name] = string(data)
	}

	if err := rt.Set("args", args); err != nil {
		return "", errors.Internal("set args", err)
	}
	if err := rt.Set("inputs", inputStrings); err != nil {
		return "", errors.Internal("set inputs", err)
	}

	var logs []string
	if err := attachConsole(rt, &logs); err != nil {
		return "", errors.Internal("attach console", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	script := fmt.Sprintf(`(function() {
		const fn = (%s);
		return fn(args, inputs);
	})();`, string(def.Payload))

	val, err := rt.RunString(script)
	if err != nil {
		return "", scriptError(ctx, err)
	}

	exported := val.Export()
	result, ok := exported.(map[string]interface{})
	if !ok {
		return "", errors.Internal("script function must return an object with summary/outputs fields", nil)
	}

	if rawOutputs, ok := result["outputs"].(map[string]interface{}); ok {
		for slot, v := range rawOutputs {
			handle, declared := outputs[slot]
			if !declared {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return "", errors.Internal(fmt.Sprintf("output %q must be a string", slot), nil)
			}
			if err := handle.Write([]byte(s)); err != nil {
				return "", err
			}
		}
	}

	summary, _ := result["summary"].(string)
	return summary, nil
}

func attachConsole(rt *goja.Runtime, logs *[]string) error {
	console := rt.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			*logs = append(*logs, fmt.Sprint(arg.Export()))
		}
		return goja.Undefined()
	}
	if err := console.Set("log", logFn); err != nil {
		return err
	}
	return rt.Set("console", console)
}

func scriptError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Internal("script interrupted", ctxErr)
	}
	if ex, ok := err.(*goja.Exception); ok {
		return errors.Internal("script exception", fmt.Errorf("%s", ex.Error()))
	}
	return errors.Internal("run script", err)
}
