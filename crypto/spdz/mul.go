//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"

	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/xerrors"
)

type productFunc func(a, b *field.Tensor) (*field.Tensor, error)

// Mul multiplies the shared values elementwise with a Beaver triple
// from the engine pool. The result is truncated back to the
// fixed-point scale and re-randomized.
func (eng *Engine) Mul(ctx context.Context, x, y *Share) (*Share, error) {
	if !x.Value.Shape.Equal(y.Value.Shape) {
		return nil, xerrors.Errorf("spdz: mul %v and %v: %w",
			x.Value.Shape, y.Value.Shape, ErrShapeMismatch)
	}
	if eng.pool == nil {
		return nil, xerrors.Errorf("spdz: no pool: %w",
			ErrTriplePoolExhausted)
	}
	triple, pair, err := eng.pool.TakeMul(x.Value.Shape)
	if err != nil {
		return nil, err
	}
	return eng.MulWith(ctx, x, y, triple, pair)
}

// MulWith multiplies the shared values elementwise using the triple
// and truncation pair.
func (eng *Engine) MulWith(ctx context.Context, x, y *Share,
	triple *Triple, pair *TruncPair) (*Share, error) {

	op := eng.begin("mul")
	eng.stats.Muls++

	if triple.Kind != KindMul {
		return nil, eng.finish(op, xerrors.Errorf("spdz: mul with %v triple",
			triple.Kind))
	}
	if !x.Value.Shape.Equal(y.Value.Shape) ||
		!x.Value.Shape.Equal(triple.A.Shape) {
		return nil, eng.finish(op, xerrors.Errorf(
			"spdz: mul %v and %v with triple %v: %w",
			x.Value.Shape, y.Value.Shape, triple.A.Shape, ErrShapeMismatch))
	}
	v, err := eng.beaver(ctx, op, x.Value, y.Value, triple, pair,
		eng.sess.Ring.Mul)
	if err != nil {
		return nil, eng.finish(op, err)
	}
	return eng.share(v), eng.finish(op, nil)
}

// MatMul computes the matrix product of the shared matrices with a
// matrix triple from the engine pool.
func (eng *Engine) MatMul(ctx context.Context, x, y *Share) (*Share, error) {
	m, k, err := x.Value.Dims()
	if err != nil {
		return nil, err
	}
	k2, n, err := y.Value.Dims()
	if err != nil {
		return nil, err
	}
	if k != k2 {
		return nil, xerrors.Errorf("spdz: matmul %v and %v: %w",
			x.Value.Shape, y.Value.Shape, ErrShapeMismatch)
	}
	if eng.pool == nil {
		return nil, xerrors.Errorf("spdz: no pool: %w",
			ErrTriplePoolExhausted)
	}
	triple, pair, err := eng.pool.TakeMatMul(m, k, n)
	if err != nil {
		return nil, err
	}
	return eng.MatMulWith(ctx, x, y, triple, pair)
}

// MatMulWith computes the matrix product using the triple and
// truncation pair.
func (eng *Engine) MatMulWith(ctx context.Context, x, y *Share,
	triple *Triple, pair *TruncPair) (*Share, error) {

	op := eng.begin("matmul")
	eng.stats.MatMuls++

	if triple.Kind != KindMatMul {
		return nil, eng.finish(op, xerrors.Errorf(
			"spdz: matmul with %v triple", triple.Kind))
	}
	if !x.Value.Shape.Equal(triple.A.Shape) ||
		!y.Value.Shape.Equal(triple.B.Shape) {
		return nil, eng.finish(op, xerrors.Errorf(
			"spdz: matmul %v@%v with triple %v@%v: %w",
			x.Value.Shape, y.Value.Shape, triple.A.Shape, triple.B.Shape,
			ErrShapeMismatch))
	}
	v, err := eng.beaver(ctx, op, x.Value, y.Value, triple, pair,
		eng.sess.Ring.MatMul)
	if err != nil {
		return nil, eng.finish(op, err)
	}
	return eng.share(v), eng.finish(op, nil)
}

// beaver runs the Beaver multiplication protocol with the product
// function mul:
//
//	d = x-a, e = y-b (opened in one barrier)
//	z = c + mul(d,b) + mul(a,e) + mul(d,e)
//
// Only party 0 adds the public mul(d,e) term. The result is truncated
// and re-randomized.
func (eng *Engine) beaver(ctx context.Context, op *Operation,
	x, y *field.Tensor, triple *Triple, pair *TruncPair,
	mul productFunc) (*field.Tensor, error) {

	if eng.prss == nil {
		return nil, ErrNotSetup
	}
	if err := triple.Consume(); err != nil {
		return nil, err
	}
	if err := pair.Consume(); err != nil {
		return nil, err
	}
	op.advance(StateTripleAcquired)
	op.log.Debug().Str("triple", triple.ID.String()).
		Str("pair", pair.ID.String()).Msg("acquired")

	ring := eng.sess.Ring

	d, err := ring.Sub(x, triple.A)
	if err != nil {
		return nil, err
	}
	e, err := ring.Sub(y, triple.B)
	if err != nil {
		return nil, err
	}
	op.advance(StateBlinded)

	opened, err := eng.open(ctx, TagBeaver, d, e)
	if err != nil {
		return nil, err
	}
	d, e = opened[0], opened[1]
	op.advance(StateOpened)

	db, err := mul(d, triple.B)
	if err != nil {
		return nil, err
	}
	ae, err := mul(triple.A, e)
	if err != nil {
		return nil, err
	}
	z, err := ring.Sum(triple.C, db, ae)
	if err != nil {
		return nil, err
	}
	if eng.sess.Self.Index == 0 {
		de, err := mul(d, e)
		if err != nil {
			return nil, err
		}
		z, err = ring.Add(z, de)
		if err != nil {
			return nil, err
		}
	}
	op.advance(StateCombined)

	z, err = eng.truncate(ctx, op, z, pair)
	if err != nil {
		return nil, err
	}
	return eng.prss.Rerandomize(z)
}
