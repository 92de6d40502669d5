//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"context"
	"math"

	"github.com/markkurossi/spdz/autograd"
	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/crypto/spdz"
	"github.com/markkurossi/spdz/session"
	"golang.org/x/xerrors"
)

// Workload evaluates one logistic unit y = sigmoid(x*w) with the
// gradient dy/dw and the dot product x.w. Party 0 owns x and party 1
// owns w.
type Workload struct {
	Dim int
	X   []float64
	W   []float64
}

// Result holds the revealed values of a workload.
type Result struct {
	Product []float64
	Sigmoid []float64
	Grad    []float64
	Dot     []float64
}

// Requests returns the preprocessing material the workload consumes.
func (wl *Workload) Requests() []spdz.Request {
	shape := field.Shape{wl.Dim}
	return []spdz.Request{
		// x*w forward, sigmoid backward (2), mul backward for w.
		{Kind: spdz.KindMul, Shape: shape, Count: 4},
		{Kind: spdz.KindTrunc, Shape: shape, Count: 4},
		{Kind: spdz.KindSigmoid, Shape: shape, Count: 1},
		{Kind: spdz.KindMatMul, Shape: field.Shape{1, wl.Dim, 1}, Count: 1},
		{Kind: spdz.KindTrunc, Shape: field.Shape{1, 1}, Count: 1},
	}
}

// Provision provisions the engine pool with the generator.
func (wl *Workload) Provision(ctx context.Context, pool *spdz.Pool,
	gen spdz.Generator) error {

	for _, req := range wl.Requests() {
		if err := pool.Provision(ctx, gen, req); err != nil {
			return err
		}
	}
	return nil
}

// Run runs the workload with the engine. Parties that do not own an
// input may have nil X or W.
func (wl *Workload) Run(ctx context.Context, eng *spdz.Engine) (
	*Result, error) {

	if eng.Session().NumParties() < 2 {
		return nil, xerrors.New("workload needs at least two parties")
	}
	shape := field.Shape{wl.Dim}

	var xv, wv []float64
	switch eng.Self() {
	case 0:
		xv = wl.X
	case 1:
		wv = wl.W
	}
	x, err := autograd.Input(ctx, eng, 0, xv, shape, false)
	if err != nil {
		return nil, err
	}
	w, err := autograd.Input(ctx, eng, 1, wv, shape, true)
	if err != nil {
		return nil, err
	}

	z, err := x.Mul(ctx, w)
	if err != nil {
		return nil, err
	}
	y, err := z.Sigmoid(ctx)
	if err != nil {
		return nil, err
	}
	if err := y.Backward(ctx, nil); err != nil {
		return nil, err
	}

	// Dot product as a (1 x d) @ (d x 1) matrix product.
	row := spdz.NewShare(eng.Self(), &field.Tensor{
		Shape:  field.Shape{1, wl.Dim},
		Values: x.Value().Value.Values,
	})
	col := spdz.NewShare(eng.Self(), &field.Tensor{
		Shape:  field.Shape{wl.Dim, 1},
		Values: w.Value().Value.Values,
	})
	dot, err := eng.MatMul(ctx, row, col)
	if err != nil {
		return nil, err
	}

	result := new(Result)
	result.Product, err = z.Reveal(ctx)
	if err != nil {
		return nil, err
	}
	result.Sigmoid, err = y.Reveal(ctx)
	if err != nil {
		return nil, err
	}
	result.Grad, err = eng.Reveal(ctx, w.Grad())
	if err != nil {
		return nil, err
	}
	result.Dot, err = eng.Reveal(ctx, dot)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Expected computes the workload in plaintext.
func (wl *Workload) Expected() *Result {
	result := &Result{
		Dot: []float64{0},
	}
	for i := 0; i < wl.Dim; i++ {
		z := wl.X[i] * wl.W[i]
		y := 1 / (1 + math.Exp(-z))
		result.Product = append(result.Product, z)
		result.Sigmoid = append(result.Sigmoid, y)
		result.Grad = append(result.Grad, y*(1-y)*wl.X[i])
		result.Dot[0] += z
	}
	return result
}

// newGenerator creates the networked preprocessing generator of the
// session's triple mode.
func newGenerator(sess *session.Session, eng *spdz.Engine) spdz.Generator {
	if sess.Triples == session.TriplesOT {
		return spdz.NewOTGenerator(eng)
	}
	return spdz.NewNetworkDealer(eng)
}
