package executor

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/agentic-research/i2run/internal/params"
)

// JobVars are the job.* variables of a task expression.
type JobVars struct {
	Dir    string
	Task   string
	Number string
	Params string // parameter file path
}

var functions = map[string]function.Function{
	"concat":   stdlib.ConcatFunc,
	"flatten":  stdlib.FlattenFunc,
	"format":   stdlib.FormatFunc,
	"join":     stdlib.JoinFunc,
	"lower":    stdlib.LowerFunc,
	"upper":    stdlib.UpperFunc,
	"coalesce": stdlib.CoalesceFunc,
}

// evalContext exposes the parameter tree as param.<container>.<id> and the
// job as job.<field>.
func evalContext(tree *params.Tree, job JobVars) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"param": entityValue(tree.Root),
			"job": cty.ObjectVal(map[string]cty.Value{
				"dir":    cty.StringVal(job.Dir),
				"task":   cty.StringVal(job.Task),
				"number": cty.StringVal(job.Number),
				"params": cty.StringVal(job.Params),
			}),
		},
		Functions: functions,
	}
}

// entityValue converts an entity to a cty value. Unset scalars become their
// default text, or "".
func entityValue(e params.Entity) cty.Value {
	switch v := e.(type) {
	case *params.Scalar:
		if !v.IsSet() {
			return cty.StringVal(v.Default())
		}
		switch x := v.Value().(type) {
		case int64:
			return cty.NumberIntVal(x)
		case float64:
			return cty.NumberFloatVal(x)
		case bool:
			return cty.BoolVal(x)
		}
		return cty.StringVal(v.String())
	case *params.FileRef:
		return cty.StringVal(v.FullPath())
	case *params.Selection:
		return cty.StringVal(v.Text())
	case *params.Dict:
		if len(v.Keys()) == 0 {
			return cty.MapValEmpty(cty.String)
		}
		m := make(map[string]cty.Value, len(v.Keys()))
		for k, val := range v.Map() {
			m[k] = cty.StringVal(val)
		}
		return cty.MapVal(m)
	case *params.List:
		if v.Len() == 0 {
			return cty.EmptyTupleVal
		}
		items := make([]cty.Value, 0, v.Len())
		for _, item := range v.Items() {
			items = append(items, entityValue(item))
		}
		return cty.TupleVal(items)
	case *params.Record:
		if len(v.Fields()) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(v.Fields()))
		for _, id := range v.Fields() {
			f, _ := v.Field(id)
			attrs[id] = entityValue(f)
		}
		return cty.ObjectVal(attrs)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

func evalString(expr hcl.Expression, ctx *hcl.EvalContext) (string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return "", diags
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	if s.IsNull() {
		return "", nil
	}
	return s.AsString(), nil
}

// evalArgs evaluates an argument list. Nested lists are flattened; null and
// empty values are dropped so unset optional parameters vanish.
func evalArgs(expr hcl.Expression, ctx *hcl.EvalContext) ([]string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	var out []string
	if err := appendArgs(&out, val); err != nil {
		return nil, err
	}
	return out, nil
}

func appendArgs(out *[]string, val cty.Value) error {
	if val.IsNull() {
		return nil
	}
	if !val.IsKnown() {
		return fmt.Errorf("argument value is not known")
	}
	ty := val.Type()
	if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
		for it := val.ElementIterator(); it.Next(); {
			_, el := it.Element()
			if err := appendArgs(out, el); err != nil {
				return err
			}
		}
		return nil
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return fmt.Errorf("argument of type %s: %w", ty.FriendlyName(), err)
	}
	if str := s.AsString(); str != "" {
		*out = append(*out, str)
	}
	return nil
}

func evalEnv(expr hcl.Expression, ctx *hcl.EvalContext) ([]string, error) {
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("env must be an object, got %s", val.Type().FriendlyName())
	}
	var out []string
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		if v.IsNull() {
			continue
		}
		s, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k.AsString(), err)
		}
		out = append(out, k.AsString()+"="+s.AsString())
	}
	return out, nil
}
