package script

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// RisorEngine compiles and evaluates Risor expressions. Routing conditions
// receive the message payload and type as the globals "payload" and
// "msg_type" at evaluation time.
type RisorEngine struct {
	globals map[string]any
}

func NewRisorEngine(globals map[string]any) *RisorEngine {
	return &RisorEngine{globals: globals}
}

// Compile parses and compiles the expression once. The names of the engine
// globals must be declared at compile time; their values bind at evaluation.
func (e *RisorEngine) Compile(ctx context.Context, code string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(e.globals))
	for name := range e.globals {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled, err := compiler.Compile(ast, compiler.WithGlobalNames(names))
	if err != nil {
		return nil, err
	}
	return &RisorScript{engine: e, code: compiled}, nil
}

// RisorScript is a compiled Risor expression bound to its engine's globals.
type RisorScript struct {
	engine *RisorEngine
	code   *compiler.Code
}

// Evaluate runs the compiled expression with the engine globals overlaid by
// the call-time globals.
func (s *RisorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	merged := make(map[string]any, len(s.engine.globals)+len(globals))
	for name, value := range s.engine.globals {
		merged[name] = value
	}
	for name, value := range globals {
		merged[name] = value
	}
	result, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(merged))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate risor script: %w", err)
	}
	return &RisorValue{obj: result}, nil
}

// RisorValue adapts a risor object to the Value interface.
type RisorValue struct {
	obj object.Object
}

func (v *RisorValue) Value() any {
	return goValue(v.obj)
}

// IsTruthy follows risor's own truthiness, except that the string "false"
// reads as false so conditions reduced to strings behave predictably.
func (v *RisorValue) IsTruthy() bool {
	if s, ok := v.obj.(*object.String); ok {
		return s.Value() != "" && !strings.EqualFold(s.Value(), "false")
	}
	return v.obj.IsTruthy()
}

func (v *RisorValue) String() string {
	switch o := v.obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return strconv.FormatInt(o.Value(), 10)
	case *object.Float:
		return strconv.FormatFloat(o.Value(), 'g', -1, 64)
	case *object.Bool:
		return strconv.FormatBool(o.Value())
	case *object.Time:
		return o.Value().Format(time.RFC3339)
	case *object.NilType:
		return ""
	default:
		return o.Inspect()
	}
}

// goValue converts a risor object to its plain Go equivalent, element-wise
// for composites. Objects with no natural Go form fall back to their
// Inspect representation.
func goValue(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.List:
		items := o.Value()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = goValue(item)
		}
		return out
	case *object.Set:
		var out []any
		for _, item := range o.Value() {
			out = append(out, goValue(item))
		}
		return out
	case *object.Map:
		entries := o.Value()
		out := make(map[string]any, len(entries))
		for key, item := range entries {
			out[key] = goValue(item)
		}
		return out
	default:
		return o.Inspect()
	}
}

// DefaultGlobals returns the Risor builtins plus empty "payload" and
// "msg_type" placeholders so that conditions referencing them compile even
// before any message is routed.
func DefaultGlobals() map[string]any {
	builtins := all.Builtins()
	globals := make(map[string]any, len(builtins)+2)
	for name, value := range builtins {
		globals[name] = value
	}
	globals["payload"] = object.NewMap(map[string]object.Object{})
	globals["msg_type"] = object.NewString("")
	return globals
}
