// Package formula compiles the explicit formulas used by model documents:
// parameter formulas, right-hand sides of species and observer definitions.
//
// Expressions use infix arithmetic (+ - * / % **), comparisons, && || and the
// functions exp, ln, log10, sqrt, abs, sin, cos, tan, min, max, pow and
// if(cond, a, b).
// Identifiers resolve against the variables passed to [Expr.Eval].
package formula

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/PaesslerAG/gval"
)

// TimeVariable is the identifier bound to the current simulation time.
const TimeVariable = "Time"

var language = gval.NewLanguage(
	gval.Arithmetic(),
	gval.PropositionalLogic(),
	unary("exp", math.Exp),
	unary("ln", math.Log),
	unary("log10", math.Log10),
	unary("sqrt", math.Sqrt),
	unary("abs", math.Abs),
	unary("sin", math.Sin),
	unary("cos", math.Cos),
	unary("tan", math.Tan),
	binary("pow", math.Pow),
	binary("min", math.Min),
	binary("max", math.Max),
	gval.Function("if", func(args ...interface{}) (interface{}, error) {
		if len(args) != 3 {
			return nil, fmt.Errorf("if expects 3 arguments, got %d", len(args))
		}
		cond, err := truth(args[0])
		if err != nil {
			return nil, err
		}
		if cond {
			return args[1], nil
		}
		return args[2], nil
	}),
)

var functions = map[string]bool{
	"exp": true, "ln": true, "log10": true, "sqrt": true, "abs": true,
	"sin": true, "cos": true, "tan": true,
	"pow": true, "min": true, "max": true, "if": true,
}

var keywords = map[string]bool{"true": true, "false": true}

// Vars binds identifiers to values during evaluation.
type Vars map[string]interface{}

type Expr struct {
	src  string
	eval gval.Evaluable
	refs []string
}

func Parse(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty formula")
	}
	eval, err := language.NewEvaluable(src)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, err)
	}
	refs, err := references(src)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", src, err)
	}
	return &Expr{src: src, eval: eval, refs: refs}, nil
}

func (e *Expr) String() string { return e.src }

// References returns the identifiers the expression reads, without function
// names, in order of first appearance.
func (e *Expr) References() []string {
	out := make([]string, len(e.refs))
	copy(out, e.refs)
	return out
}

// Literal reports whether the expression is a plain number.
func (e *Expr) Literal() (float64, bool) {
	v, err := strconv.ParseFloat(e.src, 64)
	return v, err == nil
}

func (e *Expr) Eval(vars Vars) (float64, error) {
	v, err := e.eval(context.Background(), map[string]interface{}(vars))
	if err != nil {
		return 0, fmt.Errorf("formula %q: %w", e.src, err)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("formula %q: %w", e.src, err)
	}
	return f, nil
}

func references(src string) ([]string, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(src))
	s.Mode = scanner.ScanIdents | scanner.ScanFloats | scanner.ScanInts | scanner.ScanStrings
	var scanErr error
	s.Error = func(_ *scanner.Scanner, msg string) { scanErr = fmt.Errorf("%s", msg) }

	seen := make(map[string]bool)
	var refs []string
	var pending string
	flush := func(next rune) {
		if pending == "" {
			return
		}
		if !(next == '(' && functions[pending]) && !keywords[pending] && !seen[pending] {
			seen[pending] = true
			refs = append(refs, pending)
		}
		pending = ""
	}
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		flush(tok)
		if tok == scanner.Ident {
			pending = s.TokenText()
		}
	}
	flush(scanner.EOF)
	return refs, scanErr
}

func unary(name string, fn func(float64) float64) gval.Language {
	return gval.Function(name, func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		x, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	})
}

func binary(name string, fn func(float64, float64) float64) gval.Language {
	return gval.Function(name, func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
		}
		a, err := toFloat(args[0])
		if err != nil {
			return nil, err
		}
		b, err := toFloat(args[1])
		if err != nil {
			return nil, err
		}
		return fn(a, b), nil
	})
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func truth(v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}
