// Package expr compiles CEL predicates evaluated against inbound referrers.
package expr

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Environment builds and compiles CEL programs over referrer activations.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the variables visible to referrer predicates:
//
//	referrer: url, scheme, host, path, query (map of first values)
//	request:  host, path, userAgent
//	weblog:   handle of the weblog being served
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("referrer", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("weblog", cel.StringType),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL predicate.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the predicate for execution, ensuring it yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return Program{}, fmt.Errorf("expr: %q must return bool, got %s", expr, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Program{source: expr, program: program}, nil
}

// EvalBool executes the program against the provided activation.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

// Activation assembles the variables for one referrer check.
func Activation(referrer *url.URL, requestHost, requestPath, userAgent, weblog string) map[string]any {
	ref := map[string]any{
		"url":    "",
		"scheme": "",
		"host":   "",
		"path":   "",
		"query":  map[string]any{},
	}
	if referrer != nil {
		query := make(map[string]any)
		for key, values := range referrer.Query() {
			if len(values) > 0 {
				query[key] = values[0]
			}
		}
		ref["url"] = referrer.String()
		ref["scheme"] = strings.ToLower(referrer.Scheme)
		ref["host"] = strings.ToLower(referrer.Hostname())
		ref["path"] = referrer.Path
		ref["query"] = query
	}
	return map[string]any{
		"referrer": ref,
		"request": map[string]any{
			"host":      requestHost,
			"path":      requestPath,
			"userAgent": userAgent,
		},
		"weblog": weblog,
	}
}

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found || value == nil {
		return types.NullValue
	}
	return value
}
