// Package expr compiles the declarative filter, group-key, and
// value-extractor strings from configuration into the function signatures
// the metric processor consumes. Expressions see the event as plain
// variables: timestamp, level, source, message, metadata.
package expr

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"loglens/internal/model"
)

// eventEnv is the expression environment for one event. Level is exposed as
// a plain string so comparisons like level == "ERROR" read naturally.
func eventEnv(ev model.Event) map[string]any {
	return map[string]any{
		"timestamp": ev.Timestamp,
		"level":     string(ev.Level),
		"source":    ev.Source,
		"message":   ev.Message,
		"metadata":  ev.Metadata,
	}
}

func compile(src string, opts ...exprlang.Option) (*vm.Program, error) {
	opts = append([]exprlang.Option{exprlang.Env(map[string]any{})}, opts...)
	program, err := exprlang.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return program, nil
}

// CompileFilter compiles a boolean predicate over events.
func CompileFilter(src string) (func(model.Event) (bool, error), error) {
	program, err := compile(src, exprlang.AsBool())
	if err != nil {
		return nil, err
	}
	return func(ev model.Event) (bool, error) {
		out, err := exprlang.Run(program, eventEnv(ev))
		if err != nil {
			return false, err
		}
		ok, isBool := out.(bool)
		if !isBool {
			return false, fmt.Errorf("filter %q returned %T, want bool", src, out)
		}
		return ok, nil
	}, nil
}

// CompileKey compiles a group-key extractor. Non-string results are
// stringified so grouping by numeric metadata fields works.
func CompileKey(src string) (func(model.Event) (string, error), error) {
	program, err := compile(src)
	if err != nil {
		return nil, err
	}
	return func(ev model.Event) (string, error) {
		out, err := exprlang.Run(program, eventEnv(ev))
		if err != nil {
			return "", err
		}
		if out == nil {
			return "", fmt.Errorf("group key %q evaluated to nil", src)
		}
		if s, isStr := out.(string); isStr {
			return s, nil
		}
		return fmt.Sprint(out), nil
	}, nil
}

// CompileValue compiles a value extractor. The result is returned untyped;
// numeric coercion is the aggregation's concern.
func CompileValue(src string) (func(model.Event) (any, error), error) {
	program, err := compile(src)
	if err != nil {
		return nil, err
	}
	return func(ev model.Event) (any, error) {
		return exprlang.Run(program, eventEnv(ev))
	}, nil
}
