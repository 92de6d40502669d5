//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"math/big"

	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/xerrors"
)

// Truncate divides the shared value by the fixed-point scale S. The
// absolute value of x must be below the session truncation bound H.
// The result has an error of at most one unit in the last place with
// dealer generated pairs and at most n units with jointly generated
// pairs.
func (eng *Engine) Truncate(ctx context.Context, x *Share) (*Share, error) {
	if eng.pool == nil {
		return nil, xerrors.Errorf("spdz: no pool: %w", ErrTriplePoolExhausted)
	}
	pair, err := eng.pool.TakeTruncPair(x.Value.Shape)
	if err != nil {
		return nil, err
	}
	return eng.TruncateWith(ctx, x, pair)
}

// TruncateWith truncates x using the truncation pair.
func (eng *Engine) TruncateWith(ctx context.Context, x *Share,
	pair *TruncPair) (*Share, error) {

	op := eng.begin("truncate")
	if err := pair.Consume(); err != nil {
		return nil, eng.finish(op, err)
	}
	op.advance(StateTripleAcquired)

	v, err := eng.truncate(ctx, op, x.Value, pair)
	if err != nil {
		return nil, eng.finish(op, err)
	}
	return eng.share(v), eng.finish(op, nil)
}

// truncate runs the masked-open truncation protocol. The pair must be
// consumed by the caller.
func (eng *Engine) truncate(ctx context.Context, op *Operation,
	x *field.Tensor, pair *TruncPair) (*field.Tensor, error) {

	if !x.Shape.Equal(pair.R.Shape) || !x.Shape.Equal(pair.RT.Shape) {
		return nil, xerrors.Errorf("spdz: truncate %v with pair %v: %w",
			x.Shape, pair.R.Shape, ErrShapeMismatch)
	}
	eng.stats.Truncs++

	ring := eng.sess.Ring
	scale := eng.sess.Codec.Scale()
	bound := eng.sess.Bound()
	self := eng.sess.Self.Index

	// Mask x+H with r. Since 0 <= x+H < 2H and r < Q-2H, the opened
	// value does not wrap around the modulus.
	masked, err := ring.Add(x, pair.R)
	if err != nil {
		return nil, err
	}
	if self == 0 {
		masked = ring.AddConst(masked, bound)
	}
	if op.State < StateBlinded {
		op.advance(StateBlinded)
	}

	opened, err := eng.open(ctx, TagTrunc, masked)
	if err != nil {
		return nil, err
	}
	if op.State < StateOpened {
		op.advance(StateOpened)
	}

	result := ring.Neg(pair.RT)
	if self == 0 {
		hs := new(big.Int).Div(bound, scale)
		for i, c := range opened[0].Values {
			q := new(big.Int).Div(c, scale)
			q.Sub(q, hs)
			result.Values[i] = ring.AddElem(result.Values[i], q)
		}
	}
	op.advance(StateTruncated)

	return result, nil
}
