//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"crypto/rand"
	"io"
	"math"
	"math/big"

	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/crypto/fixedpoint"
	"github.com/markkurossi/spdz/session"
	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

// Sigmoid polynomial coefficients: 1/2 + x/4 - x^3/48 + x^5/480.
var (
	sigmoidCoeffs = [4]float64{
		1.0 / 2.0,
		1.0 / 4.0,
		-1.0 / 48.0,
		1.0 / 480.0,
	}
	sigmoidPowers = [4]int{0, 1, 3, 5}
)

// sigmoidCoeffError bounds the error the coefficient rounding may add
// to the approximation at |x| = 2.
const sigmoidCoeffError = 5e-3

// sigmoidCoefficients encodes the sigmoid polynomial coefficients. It
// fails with ErrSigmoidPrecision if the fixed-point scale is too
// coarse for them; base 10 needs precision 3 or more.
func sigmoidCoefficients(codec *fixedpoint.Codec) ([]*big.Int, error) {
	var result []*big.Int
	var e float64
	for i, c := range sigmoidCoeffs {
		v, err := codec.Encode(c)
		if err != nil {
			return nil, err
		}
		e += math.Abs(codec.Decode(v)-c) * math.Pow(2,
			float64(sigmoidPowers[i]))
		result = append(result, v)
	}
	if e > sigmoidCoeffError {
		return nil, xerrors.Errorf("%w: scale %v adds error %.4f",
			ErrSigmoidPrecision, codec.Scale(), e)
	}
	return result, nil
}

// Dealer implements a trusted dealer that samples preprocessing
// material for all parties. It runs without network and is intended
// for tests and simulations.
type Dealer struct {
	ring  *field.Ring
	codec *fixedpoint.Codec
	n     int
	bound *big.Int
	rand  io.Reader
}

// NewDealer creates a dealer for the session parameters.
func NewDealer(sess *session.Session) *Dealer {
	return &Dealer{
		ring:  sess.Ring,
		codec: sess.Codec,
		n:     sess.NumParties(),
		bound: sess.Bound(),
		rand:  rand.Reader,
	}
}

func (d *Dealer) split(values ...*field.Tensor) ([]Shares, error) {
	result := make([]Shares, len(values))
	for i, v := range values {
		shares, err := Split(d.ring, d.rand, v, d.n)
		if err != nil {
			return nil, err
		}
		result[i] = shares
	}
	return result, nil
}

// MulTriples samples an elementwise triple and returns its shares
// indexed by party.
func (d *Dealer) MulTriples(shape field.Shape) ([]*Triple, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	a, err := d.ring.RandomTensor(d.rand, shape)
	if err != nil {
		return nil, err
	}
	b, err := d.ring.RandomTensor(d.rand, shape)
	if err != nil {
		return nil, err
	}
	c, err := d.ring.Mul(a, b)
	if err != nil {
		return nil, err
	}
	return d.triples(KindMul, a, b, c)
}

// MatMulTriples samples a matrix triple for (m x k) @ (k x n)
// products and returns its shares indexed by party.
func (d *Dealer) MatMulTriples(m, k, n int) ([]*Triple, error) {
	if err := (field.Shape{m, k, n}).Validate(); err != nil {
		return nil, err
	}
	a, err := d.ring.RandomTensor(d.rand, field.Shape{m, k})
	if err != nil {
		return nil, err
	}
	b, err := d.ring.RandomTensor(d.rand, field.Shape{k, n})
	if err != nil {
		return nil, err
	}
	c, err := d.ring.MatMul(a, b)
	if err != nil {
		return nil, err
	}
	return d.triples(KindMatMul, a, b, c)
}

func (d *Dealer) triples(kind Kind, a, b, c *field.Tensor) (
	[]*Triple, error) {

	shares, err := d.split(a, b, c)
	if err != nil {
		return nil, err
	}
	result := make([]*Triple, d.n)
	for i := range result {
		result[i] = NewTriple(kind, shares[0][i], shares[1][i], shares[2][i])
	}
	return result, nil
}

// TruncPairs samples a truncation pair and returns its shares indexed
// by party.
func (d *Dealer) TruncPairs(shape field.Shape) ([]*TruncPair, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	limit := new(big.Int).Lsh(d.bound, 1)
	limit.Sub(d.ring.Modulus(), limit)

	scale := d.codec.Scale()
	r := field.NewTensor(shape)
	rt := field.NewTensor(shape)
	for i := range r.Values {
		v, err := d.ring.RandomBelow(d.rand, limit)
		if err != nil {
			return nil, err
		}
		r.Values[i] = v
		rt.Values[i] = new(big.Int).Div(v, scale)
	}
	shares, err := d.split(r, rt)
	if err != nil {
		return nil, err
	}
	result := make([]*TruncPair, d.n)
	for i := range result {
		result[i] = NewTruncPair(shares[0][i], shares[1][i])
	}
	return result, nil
}

// SigmoidShares samples the material of one sigmoid evaluation and
// returns its shares indexed by party.
func (d *Dealer) SigmoidShares(shape field.Shape) ([]*SigmoidShares, error) {
	encoded, err := sigmoidCoefficients(d.codec)
	if err != nil {
		return nil, err
	}
	var coeffs []*field.Tensor
	for _, e := range encoded {
		coeffs = append(coeffs, d.codec.Ring().Const(shape, e))
	}
	shares, err := d.split(coeffs...)
	if err != nil {
		return nil, err
	}
	result := make([]*SigmoidShares, d.n)
	for i := range result {
		result[i] = newSigmoidShares(shares[0][i], shares[1][i],
			shares[2][i], shares[3][i])
	}
	for j := 0; j < SigmoidNumMuls; j++ {
		triples, err := d.MulTriples(shape)
		if err != nil {
			return nil, err
		}
		pairs, err := d.TruncPairs(shape)
		if err != nil {
			return nil, err
		}
		for i := range result {
			result[i].Triples[j] = triples[i]
			result[i].Pairs[j] = pairs[i]
		}
	}
	return result, nil
}

// Provision generates the requested material and adds each party's
// shares into its pool. The pools are indexed by party.
func (d *Dealer) Provision(pools []*Pool, req Request) error {
	if len(pools) != d.n {
		return xerrors.Errorf("spdz: got %d pools for %d parties",
			len(pools), d.n)
	}
	for i := 0; i < req.Count; i++ {
		switch req.Kind {
		case KindMul, KindMatMul:
			var triples []*Triple
			var err error
			if req.Kind == KindMul {
				triples, err = d.MulTriples(req.Shape)
			} else if len(req.Shape) == 3 {
				triples, err = d.MatMulTriples(req.Shape[0], req.Shape[1],
					req.Shape[2])
			} else {
				err = xerrors.Errorf("spdz: matmul request %v: %w",
					req.Shape, ErrShapeMismatch)
			}
			if err != nil {
				return err
			}
			for idx, pool := range pools {
				pool.AddTriple(triples[idx])
			}

		case KindTrunc:
			pairs, err := d.TruncPairs(req.Shape)
			if err != nil {
				return err
			}
			for idx, pool := range pools {
				pool.AddTruncPair(pairs[idx])
			}

		case KindSigmoid:
			sigmoids, err := d.SigmoidShares(req.Shape)
			if err != nil {
				return err
			}
			for idx, pool := range pools {
				pool.AddSigmoidShares(sigmoids[idx])
			}

		default:
			return xerrors.Errorf("spdz: invalid request kind %v", req.Kind)
		}
	}
	return nil
}

func newSigmoidShares(w0, w1, w3, w5 *field.Tensor) *SigmoidShares {
	return &SigmoidShares{
		ID: xid.New(),
		W0: w0,
		W1: w1,
		W3: w3,
		W5: w5,
	}
}

var (
	_ Generator = &NetworkDealer{}
)

// NetworkDealer implements Generator with a dealer party that samples
// the material and sends each party its shares. The dealer learns all
// secrets of the material it generates.
type NetworkDealer struct {
	eng    *Engine
	dealer *Dealer
}

// NewNetworkDealer creates a network dealer generator for the engine.
// The session's dealer party samples the material.
func NewNetworkDealer(eng *Engine) *NetworkDealer {
	return &NetworkDealer{
		eng:    eng,
		dealer: NewDealer(eng.sess),
	}
}

func (nd *NetworkDealer) isDealer() bool {
	return nd.eng.sess.Self.Index == nd.eng.sess.Dealer.Index
}

// distribute sends each party its tensors and returns the dealer's
// own tensors. The tensors are indexed by [party][item].
func (nd *NetworkDealer) distribute(ctx context.Context,
	tensors [][]*field.Tensor) ([]*field.Tensor, error) {

	ctx, cancel := nd.eng.sess.WithTimeout(ctx)
	defer cancel()

	self := nd.eng.sess.Self.Index
	for _, p := range nd.eng.sess.Parties.Others(self) {
		if err := nd.eng.ch.send(ctx, p, TagDealer, tensors[p.Index]...); err != nil {
			return nil, err
		}
	}
	return tensors[self], nil
}

func (nd *NetworkDealer) receive(ctx context.Context,
	shapes ...field.Shape) ([]*field.Tensor, error) {

	ctx, cancel := nd.eng.sess.WithTimeout(ctx)
	defer cancel()

	return nd.eng.ch.recvShaped(ctx, nd.eng.sess.Dealer, TagDealer, shapes...)
}

func (nd *NetworkDealer) triple(ctx context.Context, kind Kind,
	gen func() ([]*Triple, error), as, bs, cs field.Shape) (*Triple, error) {

	if !nd.isDealer() {
		t, err := nd.receive(ctx, as, bs, cs)
		if err != nil {
			return nil, err
		}
		return NewTriple(kind, t[0], t[1], t[2]), nil
	}
	triples, err := gen()
	if err != nil {
		return nil, err
	}
	tensors := make([][]*field.Tensor, len(triples))
	for i, t := range triples {
		tensors[i] = []*field.Tensor{t.A, t.B, t.C}
	}
	if _, err := nd.distribute(ctx, tensors); err != nil {
		return nil, err
	}
	return triples[nd.eng.sess.Self.Index], nil
}

// MulTriple implements Generator.MulTriple.
func (nd *NetworkDealer) MulTriple(ctx context.Context, shape field.Shape) (
	*Triple, error) {

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return nd.triple(ctx, KindMul, func() ([]*Triple, error) {
		return nd.dealer.MulTriples(shape)
	}, shape, shape, shape)
}

// MatMulTriple implements Generator.MatMulTriple.
func (nd *NetworkDealer) MatMulTriple(ctx context.Context, m, k, n int) (
	*Triple, error) {

	if err := (field.Shape{m, k, n}).Validate(); err != nil {
		return nil, err
	}
	return nd.triple(ctx, KindMatMul, func() ([]*Triple, error) {
		return nd.dealer.MatMulTriples(m, k, n)
	}, field.Shape{m, k}, field.Shape{k, n}, field.Shape{m, n})
}

// TruncPair implements Generator.TruncPair.
func (nd *NetworkDealer) TruncPair(ctx context.Context, shape field.Shape) (
	*TruncPair, error) {

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if !nd.isDealer() {
		t, err := nd.receive(ctx, shape, shape)
		if err != nil {
			return nil, err
		}
		return NewTruncPair(t[0], t[1]), nil
	}
	pairs, err := nd.dealer.TruncPairs(shape)
	if err != nil {
		return nil, err
	}
	tensors := make([][]*field.Tensor, len(pairs))
	for i, p := range pairs {
		tensors[i] = []*field.Tensor{p.R, p.RT}
	}
	if _, err := nd.distribute(ctx, tensors); err != nil {
		return nil, err
	}
	return pairs[nd.eng.sess.Self.Index], nil
}

// SigmoidShares implements Generator.SigmoidShares.
func (nd *NetworkDealer) SigmoidShares(ctx context.Context,
	shape field.Shape) (*SigmoidShares, error) {

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	encoded, err := sigmoidCoefficients(nd.eng.sess.Codec)
	if err != nil {
		return nil, err
	}
	var w []*field.Tensor
	if nd.isDealer() {
		var coeffs []*field.Tensor
		for _, e := range encoded {
			coeffs = append(coeffs, nd.dealer.codec.Ring().Const(shape, e))
		}
		shares, err := nd.dealer.split(coeffs...)
		if err != nil {
			return nil, err
		}
		tensors := make([][]*field.Tensor, nd.dealer.n)
		for i := range tensors {
			for _, s := range shares {
				tensors[i] = append(tensors[i], s[i])
			}
		}
		w, err = nd.distribute(ctx, tensors)
		if err != nil {
			return nil, err
		}
	} else {
		w, err = nd.receive(ctx, shape, shape, shape, shape)
		if err != nil {
			return nil, err
		}
	}
	return completeSigmoidShares(ctx, nd, shape, w)
}

// completeSigmoidShares creates the sigmoid material from the
// coefficient shares w and the multiplication material from gen.
func completeSigmoidShares(ctx context.Context, gen Generator,
	shape field.Shape, w []*field.Tensor) (*SigmoidShares, error) {

	result := newSigmoidShares(w[0], w[1], w[2], w[3])
	for j := 0; j < SigmoidNumMuls; j++ {
		t, err := gen.MulTriple(ctx, shape)
		if err != nil {
			return nil, err
		}
		p, err := gen.TruncPair(ctx, shape)
		if err != nil {
			return nil, err
		}
		result.Triples[j] = t
		result.Pairs[j] = p
	}
	return result, nil
}
