package compute

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var (
	errDivZero   = errors.New("#DIV/0!")
	errNumDomain = errors.New("#NUM!")
)

// spreadsheetFunctions is the function table of the local calculator. Every
// name is registered upper and lower case.
var spreadsheetFunctions = func() map[string]function.Function {
	base := map[string]function.Function{
		"SUM":     aggregate(func(xs []float64) (float64, error) { return sum(xs), nil }),
		"AVERAGE": aggregate(average),
		"MIN":     aggregate(minimum),
		"MAX":     aggregate(maximum),
		"COUNT":   aggregate(func(xs []float64) (float64, error) { return float64(len(xs)), nil }),
		"ABS":     stdlib.AbsoluteFunc,
		"POWER":   stdlib.PowFunc,
		"ROUND":   roundFunc,
		"SQRT":    unary(sqrt),
		"CEILING": step(math.Ceil),
		"FLOOR":   step(math.Floor),
		"IF":      ifFunc,
		"AND":     logical(func(a, b bool) bool { return a && b }, true),
		"OR":      logical(func(a, b bool) bool { return a || b }, false),
		"NOT":     notFunc,
		"CONCAT":  concatFunc,
		"UPPER":   stdlib.UpperFunc,
		"LOWER":   stdlib.LowerFunc,
		"LEN":     stdlib.StrlenFunc,
	}
	out := make(map[string]function.Function, 2*len(base))
	for name, fn := range base {
		out[name] = fn
		out[strings.ToLower(name)] = fn
	}
	return out
}()

func aggregate(fn func([]float64) (float64, error)) function.Function {
	return function.New(&function.Spec{
		VarParam: &function.Parameter{Name: "values", Type: cty.DynamicPseudoType},
		Type:     function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			xs, err := flatten(nil, args)
			if err != nil {
				return cty.NilVal, err
			}
			f, err := fn(xs)
			if err != nil {
				return cty.NilVal, err
			}
			return numberVal(f)
		},
	})
}

// numberVal guards against NaN, which cty numbers cannot hold.
func numberVal(f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.NilVal, errNumDomain
	}
	return cty.NumberFloatVal(f), nil
}

// flatten collects the numbers of args, descending into lists and tuples.
// Text that does not parse as a number is ignored, as spreadsheet ranges do.
func flatten(dst []float64, args []cty.Value) ([]float64, error) {
	for _, v := range args {
		if v.IsNull() {
			continue
		}
		if !v.IsKnown() {
			return nil, errors.New("value not yet known")
		}
		t := v.Type()
		switch {
		case t == cty.Number:
			f, _ := v.AsBigFloat().Float64()
			dst = append(dst, f)
		case t == cty.Bool:
			dst = append(dst, boolFloat(v.True()))
		case t == cty.String:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64); err == nil {
				dst = append(dst, f)
			}
		case v.CanIterateElements():
			var err error
			if dst, err = flatten(dst, v.AsValueSlice()); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported argument of type %s", t.FriendlyName())
		}
	}
	return dst, nil
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func average(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, errDivZero
	}
	return sum(xs) / float64(len(xs)), nil
}

func minimum(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, nil
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m, nil
}

func maximum(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, nil
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m, nil
}

func number(v cty.Value) float64 {
	f, _ := v.AsBigFloat().Float64()
	return f
}

func unary(fn func(float64) (float64, error)) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "num", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			f, err := fn(number(args[0]))
			if err != nil {
				return cty.NilVal, err
			}
			return numberVal(f)
		},
	})
}

func sqrt(x float64) (float64, error) {
	if x < 0 {
		return 0, errNumDomain
	}
	return math.Sqrt(x), nil
}

// roundFunc rounds half away from zero to the given number of digits;
// negative digits round to the left of the decimal point.
var roundFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "num", Type: cty.Number},
		{Name: "digits", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		x, digits := number(args[0]), math.Trunc(number(args[1]))
		scale := math.Pow(10, digits)
		return numberVal(math.Round(x*scale) / scale)
	},
})

// step rounds to a multiple of an optional significance, 1 by default.
func step(round func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params:   []function.Parameter{{Name: "num", Type: cty.Number}},
		VarParam: &function.Parameter{Name: "significance", Type: cty.Number},
		Type:     function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if len(args) > 2 {
				return cty.NilVal, errors.New("expected at most 2 arguments")
			}
			x, sig := number(args[0]), 1.0
			if len(args) == 2 {
				sig = number(args[1])
			}
			if sig == 0 {
				return cty.NumberIntVal(0), nil
			}
			if x > 0 && sig < 0 {
				return cty.NilVal, errNumDomain
			}
			return numberVal(round(x/sig) * sig)
		},
	})
}

func truthy(v cty.Value) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	switch v.Type() {
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		return number(v) != 0, nil
	case cty.String:
		s := strings.TrimSpace(v.AsString())
		if b, err := strconv.ParseBool(s); err == nil {
			return b, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0, nil
		}
		return false, fmt.Errorf("#VALUE!: %q is not a condition", s)
	}
	return false, fmt.Errorf("#VALUE!: %s is not a condition", v.Type().FriendlyName())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ifFunc is IF(condition, then, [else]). The else branch defaults to false.
var ifFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "condition", Type: cty.DynamicPseudoType},
		{Name: "then", Type: cty.DynamicPseudoType, AllowNull: true},
	},
	VarParam: &function.Parameter{Name: "else", Type: cty.DynamicPseudoType, AllowNull: true},
	Type: func(args []cty.Value) (cty.Type, error) {
		v, err := pick(args)
		if err != nil {
			return cty.NilType, err
		}
		return v.Type(), nil
	},
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return pick(args)
	},
})

func pick(args []cty.Value) (cty.Value, error) {
	if len(args) > 3 {
		return cty.NilVal, errors.New("expected at most 3 arguments")
	}
	if !args[0].IsKnown() {
		return cty.DynamicVal, nil
	}
	ok, err := truthy(args[0])
	if err != nil {
		return cty.NilVal, err
	}
	if ok {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return cty.False, nil
}

func logical(op func(a, b bool) bool, identity bool) function.Function {
	return function.New(&function.Spec{
		VarParam: &function.Parameter{Name: "conditions", Type: cty.DynamicPseudoType},
		Type:     function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if len(args) == 0 {
				return cty.NilVal, errors.New("expected at least 1 argument")
			}
			acc := identity
			for _, a := range args {
				b, err := truthy(a)
				if err != nil {
					return cty.NilVal, err
				}
				acc = op(acc, b)
			}
			return cty.BoolVal(acc), nil
		},
	})
}

var notFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "condition", Type: cty.DynamicPseudoType}},
	Type:   function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		b, err := truthy(args[0])
		if err != nil {
			return cty.NilVal, err
		}
		return cty.BoolVal(!b), nil
	},
})

// concatFunc joins its arguments as text. Numbers are written in their
// shortest form.
var concatFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{Name: "values", Type: cty.DynamicPseudoType, AllowNull: true},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		var b strings.Builder
		var write func(vs []cty.Value) error
		write = func(vs []cty.Value) error {
			for _, v := range vs {
				switch {
				case v.IsNull():
				case v.Type() == cty.String:
					b.WriteString(v.AsString())
				case v.Type() == cty.Number:
					b.WriteString(strconv.FormatFloat(number(v), 'f', -1, 64))
				case v.Type() == cty.Bool:
					b.WriteString(strings.ToUpper(strconv.FormatBool(v.True())))
				case v.CanIterateElements():
					if err := write(v.AsValueSlice()); err != nil {
						return err
					}
				default:
					return fmt.Errorf("cannot concatenate %s", v.Type().FriendlyName())
				}
			}
			return nil
		}
		if err := write(args); err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(b.String()), nil
	},
})
