package ast

import (
	"fmt"

	"peakrules/pkg/errors"
	"peakrules/pkg/vm"
)

// Eval interprets n directly against env, with the same semantics as the
// code n emits. Stores write to env.
func Eval(n Node, env map[string]vm.Value) (vm.Value, error) {
	switch n := n.(type) {
	case *Constant:
		return n.Value, nil
	case *VarRef:
		v, ok := env[n.Name]
		if !ok {
			return vm.None, &errors.UnresolvedNameError{Name: n.Name}
		}
		return v, nil
	case *UnaryOp:
		v, err := Eval(n.Operand, env)
		if err != nil {
			return vm.None, err
		}
		return vm.Unary(n.Kind, v)
	case *BinaryOp:
		vals, err := evalAll(env, n.Left, n.Right)
		if err != nil {
			return vm.None, err
		}
		return vm.Binary(n.Kind, vals[0], vals[1])
	case *Comparison:
		left, err := Eval(n.Subject, env)
		if err != nil {
			return vm.None, err
		}
		result := vm.True
		for _, op := range n.Ops {
			right, err := Eval(op.Operand, env)
			if err != nil {
				return vm.None, err
			}
			if result, err = vm.Compare(op.Kind, left, right); err != nil {
				return vm.None, err
			}
			if !result.Truthy() {
				break
			}
			left = right
		}
		return result, nil
	case *Logical:
		var v vm.Value
		for _, op := range n.Operands {
			var err error
			if v, err = Eval(op, env); err != nil {
				return vm.None, err
			}
			if v.Truthy() == (n.Kind == LogicalOr) {
				break
			}
		}
		return v, nil
	case *Conditional:
		t, err := Eval(n.Test, env)
		if err != nil {
			return vm.None, err
		}
		if t.Truthy() {
			return Eval(n.Then, env)
		}
		return Eval(n.Else, env)
	case *Collection:
		vals, err := evalAll(env, n.Elements...)
		if err != nil {
			return vm.None, err
		}
		switch n.Kind {
		case CollectionList:
			return vm.NewList(vals...), nil
		case CollectionTuple:
			return vm.NewTuple(vals...), nil
		}
		return vm.BuildDict(vals)
	case *SubscriptNode:
		vals, err := evalAll(env, n.Base, n.Index)
		if err != nil {
			return vm.None, err
		}
		return vm.Index(vals[0], vals[1])
	case *SliceObjNode:
		bounds, err := evalBounds(env, n.Start, n.Stop, n.Step)
		if err != nil {
			return vm.None, err
		}
		return vm.NewSlice(bounds[0], bounds[1], bounds[2]), nil
	case *SliceNode:
		base, err := Eval(n.Base, env)
		if err != nil {
			return vm.None, err
		}
		bounds, err := evalBounds(env, n.Start, n.Stop, n.Step)
		if err != nil {
			return vm.None, err
		}
		return vm.SliceOf(base, bounds[0], bounds[1], bounds[2])
	case *AttributeNode:
		base, err := Eval(n.Base, env)
		if err != nil {
			return vm.None, err
		}
		return vm.GetAttr(base, n.Name)
	case *CallNode:
		return evalCall(n, env)
	case *StoreNode:
		v, err := Eval(n.Value, env)
		if err != nil {
			return vm.None, err
		}
		env[n.Name] = v
		return vm.None, nil
	case *Sequence:
		var v vm.Value
		for _, step := range n.Steps {
			var err error
			if v, err = Eval(step, env); err != nil {
				return vm.None, err
			}
		}
		return v, nil
	}
	return vm.None, errors.NewCompileError("cannot evaluate %s", describe(n))
}

func describe(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T %s", n, n.Signature())
}

func evalAll(env map[string]vm.Value, nodes ...Node) ([]vm.Value, error) {
	vals := make([]vm.Value, len(nodes))
	for i, n := range nodes {
		v, err := Eval(n, env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func evalBounds(env map[string]vm.Value, bounds ...Node) ([]vm.Value, error) {
	vals := make([]vm.Value, len(bounds))
	for i, b := range bounds {
		vals[i] = vm.None
		if b == nil {
			continue
		}
		v, err := Eval(b, env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func evalCall(n *CallNode, env map[string]vm.Value) (vm.Value, error) {
	var callee vm.Value
	var args []vm.Value
	if attr, ok := n.Callee.(*AttributeNode); ok && n.Method {
		base, err := Eval(attr.Base, env)
		if err != nil {
			return vm.None, err
		}
		fn, bound, err := vm.GetMethod(base, attr.Name)
		if err != nil {
			return vm.None, err
		}
		callee = fn
		if bound {
			args = append(args, base)
		}
	} else {
		var err error
		if callee, err = Eval(n.Callee, env); err != nil {
			return vm.None, err
		}
	}
	positional, err := evalAll(env, n.Args...)
	if err != nil {
		return vm.None, err
	}
	args = append(args, positional...)
	if n.Star != nil {
		star, err := Eval(n.Star, env)
		if err != nil {
			return vm.None, err
		}
		spread, err := vm.SpreadArgs(star)
		if err != nil {
			return vm.None, err
		}
		args = append(args, spread...)
	}
	var kwargs []vm.Keyword
	seen := make(map[string]bool)
	for _, k := range n.Kwargs {
		v, err := Eval(k.Value, env)
		if err != nil {
			return vm.None, err
		}
		kwargs = append(kwargs, vm.Keyword{Name: k.Name, Value: v})
		seen[k.Name] = true
	}
	if n.DoubleStar != nil {
		dstar, err := Eval(n.DoubleStar, env)
		if err != nil {
			return vm.None, err
		}
		spread, err := vm.SpreadKwargs(dstar)
		if err != nil {
			return vm.None, err
		}
		for _, kw := range spread {
			if seen[kw.Name] {
				return vm.None, errors.NewRuntimeError(errors.ErrTypeMismatch, "got multiple values for keyword argument %q", kw.Name)
			}
			seen[kw.Name] = true
		}
		kwargs = append(kwargs, spread...)
	}
	return vm.Call(callee, args, kwargs)
}
