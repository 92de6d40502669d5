//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"

	"golang.org/x/xerrors"
)

// Sigmoid approximates the logistic function of the shared value with
// the Taylor polynomial 1/2 + x/4 - x^3/48 + x^5/480. The absolute
// error is below 2e-4 for |x| <= 1 and below 2e-2 for |x| <= 2 plus
// the fixed-point error. Inputs beyond |x| > 2 are not supported. The
// sigmoid material needs a scale of at least 10^3 (2^12 with base 2);
// coarser scales fail with ErrSigmoidPrecision.
func (eng *Engine) Sigmoid(ctx context.Context, x *Share) (*Share, error) {
	if eng.pool == nil {
		return nil, xerrors.Errorf("spdz: no pool: %w",
			ErrTriplePoolExhausted)
	}
	mat, err := eng.pool.TakeSigmoidShares(x.Value.Shape)
	if err != nil {
		return nil, err
	}
	return eng.SigmoidWith(ctx, x, mat)
}

// SigmoidWith evaluates the sigmoid approximation with the sigmoid
// material.
func (eng *Engine) SigmoidWith(ctx context.Context, x *Share,
	mat *SigmoidShares) (*Share, error) {

	op := eng.begin("sigmoid")
	eng.stats.Sigmoids++

	if err := mat.Consume(); err != nil {
		return nil, eng.finish(op, err)
	}
	if !x.Value.Shape.Equal(mat.W0.Shape) {
		return nil, eng.finish(op, xerrors.Errorf(
			"spdz: sigmoid %v with material %v: %w",
			x.Value.Shape, mat.W0.Shape, ErrShapeMismatch))
	}
	op.advance(StateTripleAcquired)

	var step int
	mul := func(a, b *Share) (*Share, error) {
		t, p := mat.Triples[step], mat.Pairs[step]
		step++
		return eng.MulWith(ctx, a, b, t, p)
	}
	w1 := eng.share(mat.W1)
	w3 := eng.share(mat.W3)
	w5 := eng.share(mat.W5)

	x2, err := mul(x, x)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	x3, err := mul(x2, x)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	x5, err := mul(x3, x2)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	t5, err := mul(x5, w5)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	t3, err := mul(x3, w3)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	t1, err := mul(x, w1)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	op.advance(StateCombined)

	y, err := eng.sess.Ring.Sum(mat.W0, t1.Value, t3.Value, t5.Value)
	if err != nil {
		return nil, eng.finishSigmoid(op, err)
	}
	return eng.share(y), eng.finishSigmoid(op, nil)
}

// finishSigmoid finishes the sigmoid operation and makes it the last
// operation again after its inner multiplications.
func (eng *Engine) finishSigmoid(op *Operation, err error) error {
	eng.last = op
	return eng.finish(op, err)
}
