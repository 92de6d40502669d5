//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package autograd

import (
	"context"

	"github.com/markkurossi/spdz/crypto/spdz"
	"golang.org/x/xerrors"
)

// Backward computes the gradients of v with respect to all variables
// of its graph that require gradients. The gradient g is the share of
// dL/dv; nil means a tensor of ones. The gradients of leaf variables
// are accumulated into their Grad. All parties must call Backward on
// the same graph.
func (v *Variable) Backward(ctx context.Context, g *spdz.Share) error {
	if !v.requiresGrad {
		return ErrNoGrad
	}
	if g == nil {
		var err error
		g, err = v.eng.Constant(v.Shape(), 1)
		if err != nil {
			return err
		}
	} else if !g.Shape().Equal(v.Shape()) {
		return xerrors.Errorf("autograd: gradient %v for %v: %w",
			g.Shape(), v.Shape(), spdz.ErrShapeMismatch)
	}

	grads := map[*Variable]*spdz.Share{
		v: g,
	}
	order := v.topoSort()
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}
		if node.IsLeaf() {
			if err := node.accumulate(g); err != nil {
				return err
			}
			continue
		}
		inGrads, err := node.backward(ctx, g)
		if err != nil {
			return xerrors.Errorf("autograd: %s backward: %w", node.op, err)
		}
		for idx, in := range node.inputs {
			if !in.requiresGrad || inGrads[idx] == nil {
				continue
			}
			acc, ok := grads[in]
			if !ok {
				grads[in] = inGrads[idx]
				continue
			}
			grads[in], err = v.eng.Add(acc, inGrads[idx])
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Variable) accumulate(g *spdz.Share) error {
	if v.grad == nil {
		v.grad = g
		return nil
	}
	sum, err := v.eng.Add(v.grad, g)
	if err != nil {
		return err
	}
	v.grad = sum
	return nil
}

// topoSort returns the graph nodes requiring gradients so that every
// node comes after its inputs. The order depends only on the graph
// structure so all parties traverse their graphs identically.
func (v *Variable) topoSort() []*Variable {
	var order []*Variable
	visited := make(map[*Variable]bool)

	var visit func(n *Variable)
	visit = func(n *Variable) {
		if visited[n] || !n.requiresGrad {
			return
		}
		visited[n] = true
		for _, in := range n.inputs {
			visit(in)
		}
		order = append(order, n)
	}
	visit(v)
	return order
}
