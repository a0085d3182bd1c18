package functions

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opaquemesh/platform/infrastructure/errors"
	"github.com/opaquemesh/platform/internal/domain/function"
)

// nativeBuiltin is a function body built into the platform, selected by the
// name carried in a native Definition's Payload. Spec §1 treats actual
// native function bodies as external collaborators; these three exist to
// make spec §8's worked scenarios reproducible end to end.
type nativeBuiltin func(args map[string]string, inputs, outputs map[string]Handle) (string, error)

var nativeBuiltins = map[string]nativeBuiltin{
	"echo":                  echoBuiltin,
	"ordered_set_intersect": orderedSetIntersectBuiltin,
	"word_line_count":       wordLineCountBuiltin,
}

// NativeRuntime dispatches to the builtin named by a Definition's Payload
// (spec §4.6 step 4 "native dispatch").
type NativeRuntime struct{}

func (NativeRuntime) Invoke(_ context.Context, def function.Definition, args map[string]string, inputs, outputs map[string]Handle) (string, error) {
	name := strings.TrimSpace(string(def.Payload))
	fn, ok := nativeBuiltins[name]
	if !ok {
		return "", errors.Internal(fmt.Sprintf("no native builtin registered for %q", name), nil)
	}
	return fn(args, inputs, outputs)
}

// echoBuiltin is spec §8 scenario 1: the summary is the "message" argument
// verbatim, optionally also mirrored onto a declared "out" output.
func echoBuiltin(args map[string]string, _, outputs map[string]Handle) (string, error) {
	msg := args["message"]
	if out, ok := outputs["out"]; ok {
		if err := out.Write([]byte(msg)); err != nil {
			return "", err
		}
	}
	return msg, nil
}

// orderedSetIntersectBuiltin is spec §8 scenario 2: each input is a
// newline-delimited set; the intersection is written, one element per
// line and lexically ordered, to every declared output.
func orderedSetIntersectBuiltin(_ map[string]string, inputs, outputs map[string]Handle) (string, error) {
	if len(inputs) < 2 {
		return "", errors.InvalidInput("inputs", "ordered_set_intersect requires at least two input slots")
	}
	var sets []map[string]bool
	for _, h := range inputs {
		data, err := h.Read()
		if err != nil {
			return "", err
		}
		sets = append(sets, lineSet(data))
	}
	result := sets[0]
	for _, s := range sets[1:] {
		result = intersect(result, s)
	}
	ordered := make([]string, 0, len(result))
	for k := range result {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	joined := []byte(strings.Join(ordered, "\n"))

	for _, out := range outputs {
		if err := out.Write(joined); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("intersection size %d", len(ordered)), nil
}

// wordLineCountBuiltin is spec §8 scenario 3's aggregate step: it counts
// lines and whitespace-delimited words across every declared input (a
// fusion output re-registered as input counts as one more input here) and
// mirrors the same report onto every declared output.
func wordLineCountBuiltin(_ map[string]string, inputs, outputs map[string]Handle) (string, error) {
	var lines, words int
	for _, h := range inputs {
		data, err := h.Read()
		if err != nil {
			return "", err
		}
		l, w := countLinesAndWords(data)
		lines += l
		words += w
	}
	summary := fmt.Sprintf("lines=%d words=%d", lines, words)
	for _, out := range outputs {
		if err := out.Write([]byte(summary)); err != nil {
			return "", err
		}
	}
	return summary, nil
}

func lineSet(data []byte) map[string]bool {
	set := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			set[line] = true
		}
	}
	return set
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func countLinesAndWords(data []byte) (lines, words int) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++
		words += len(strings.Fields(line))
	}
	return lines, words
}
