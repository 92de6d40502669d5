//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"sync"

	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/xerrors"
)

// Generator generates preprocessing material for one party. All
// generator operations are collective: every party must call the same
// operations with the same arguments in the same order.
type Generator interface {
	// MulTriple generates an elementwise multiplication triple.
	MulTriple(ctx context.Context, shape field.Shape) (*Triple, error)

	// MatMulTriple generates a matrix multiplication triple for
	// (m x k) @ (k x n) products.
	MatMulTriple(ctx context.Context, m, k, n int) (*Triple, error)

	// TruncPair generates a truncation pair.
	TruncPair(ctx context.Context, shape field.Shape) (*TruncPair, error)

	// SigmoidShares generates the material of one sigmoid
	// evaluation.
	SigmoidShares(ctx context.Context, shape field.Shape) (
		*SigmoidShares, error)
}

// Request specifies preprocessing material to provision. For
// KindMatMul requests the shape is {m, k, n}.
type Request struct {
	Kind  Kind
	Shape field.Shape
	Count int
}

func (req Request) key() string {
	return materialKey(req.Kind, req.Shape)
}

// Pool stores preprocessing material. Each item is handed out at
// most once.
type Pool struct {
	m        sync.Mutex
	triples  map[string][]*Triple
	pairs    map[string][]*TruncPair
	sigmoids map[string][]*SigmoidShares
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		triples:  make(map[string][]*Triple),
		pairs:    make(map[string][]*TruncPair),
		sigmoids: make(map[string][]*SigmoidShares),
	}
}

// Provision generates the requested material with gen and adds it to
// the pool.
func (pool *Pool) Provision(ctx context.Context, gen Generator,
	req Request) error {

	for i := 0; i < req.Count; i++ {
		switch req.Kind {
		case KindMul:
			t, err := gen.MulTriple(ctx, req.Shape)
			if err != nil {
				return err
			}
			pool.AddTriple(t)

		case KindMatMul:
			if len(req.Shape) != 3 {
				return xerrors.Errorf("spdz: matmul request %v: %w",
					req.Shape, ErrShapeMismatch)
			}
			t, err := gen.MatMulTriple(ctx, req.Shape[0], req.Shape[1],
				req.Shape[2])
			if err != nil {
				return err
			}
			pool.AddTriple(t)

		case KindTrunc:
			p, err := gen.TruncPair(ctx, req.Shape)
			if err != nil {
				return err
			}
			pool.AddTruncPair(p)

		case KindSigmoid:
			s, err := gen.SigmoidShares(ctx, req.Shape)
			if err != nil {
				return err
			}
			pool.AddSigmoidShares(s)

		default:
			return xerrors.Errorf("spdz: invalid request kind %v", req.Kind)
		}
	}
	return nil
}

// AddTriple adds the triple to the pool.
func (pool *Pool) AddTriple(t *Triple) {
	pool.m.Lock()
	defer pool.m.Unlock()
	key := t.Key()
	pool.triples[key] = append(pool.triples[key], t)
}

// AddTruncPair adds the truncation pair to the pool.
func (pool *Pool) AddTruncPair(p *TruncPair) {
	pool.m.Lock()
	defer pool.m.Unlock()
	key := materialKey(KindTrunc, p.R.Shape)
	pool.pairs[key] = append(pool.pairs[key], p)
}

// AddSigmoidShares adds the sigmoid material to the pool.
func (pool *Pool) AddSigmoidShares(s *SigmoidShares) {
	pool.m.Lock()
	defer pool.m.Unlock()
	key := materialKey(KindSigmoid, s.W0.Shape)
	pool.sigmoids[key] = append(pool.sigmoids[key], s)
}

func (pool *Pool) takeTriple(key string) (*Triple, error) {
	pool.m.Lock()
	defer pool.m.Unlock()

	list := pool.triples[key]
	if len(list) == 0 {
		return nil, xerrors.Errorf("spdz: %s: %w", key,
			ErrTriplePoolExhausted)
	}
	t := list[0]
	list[0] = nil
	pool.triples[key] = list[1:]
	return t, nil
}

// takeProduct removes a triple and a truncation pair for the product
// shape. If either one is missing, neither is removed.
func (pool *Pool) takeProduct(key string, shape field.Shape) (
	*Triple, *TruncPair, error) {

	pool.m.Lock()
	defer pool.m.Unlock()

	pairKey := materialKey(KindTrunc, shape)
	triples := pool.triples[key]
	pairs := pool.pairs[pairKey]
	if len(triples) == 0 {
		return nil, nil, xerrors.Errorf("spdz: %s: %w", key,
			ErrTriplePoolExhausted)
	}
	if len(pairs) == 0 {
		return nil, nil, xerrors.Errorf("spdz: %s: %w", pairKey,
			ErrTriplePoolExhausted)
	}
	t := triples[0]
	triples[0] = nil
	pool.triples[key] = triples[1:]

	p := pairs[0]
	pairs[0] = nil
	pool.pairs[pairKey] = pairs[1:]

	return t, p, nil
}

// TakeMulTriple removes an elementwise triple from the pool.
func (pool *Pool) TakeMulTriple(shape field.Shape) (*Triple, error) {
	return pool.takeTriple(materialKey(KindMul, shape))
}

// TakeMatMulTriple removes a matrix triple for (m x k) @ (k x n)
// from the pool.
func (pool *Pool) TakeMatMulTriple(m, k, n int) (*Triple, error) {
	return pool.takeTriple(matMulKey(m, k, n))
}

// TakeMul removes an elementwise triple and the truncation pair of
// its product. The pool is unchanged if either one is missing.
func (pool *Pool) TakeMul(shape field.Shape) (*Triple, *TruncPair, error) {
	return pool.takeProduct(materialKey(KindMul, shape), shape)
}

// TakeMatMul removes a matrix triple for (m x k) @ (k x n) and the
// truncation pair of the (m x n) product. The pool is unchanged if
// either one is missing.
func (pool *Pool) TakeMatMul(m, k, n int) (*Triple, *TruncPair, error) {
	return pool.takeProduct(matMulKey(m, k, n), field.Shape{m, n})
}

// TakeTruncPair removes a truncation pair from the pool.
func (pool *Pool) TakeTruncPair(shape field.Shape) (*TruncPair, error) {
	pool.m.Lock()
	defer pool.m.Unlock()

	key := materialKey(KindTrunc, shape)
	list := pool.pairs[key]
	if len(list) == 0 {
		return nil, xerrors.Errorf("spdz: %s: %w", key,
			ErrTriplePoolExhausted)
	}
	p := list[0]
	list[0] = nil
	pool.pairs[key] = list[1:]
	return p, nil
}

// TakeSigmoidShares removes sigmoid material from the pool.
func (pool *Pool) TakeSigmoidShares(shape field.Shape) (
	*SigmoidShares, error) {

	pool.m.Lock()
	defer pool.m.Unlock()

	key := materialKey(KindSigmoid, shape)
	list := pool.sigmoids[key]
	if len(list) == 0 {
		return nil, xerrors.Errorf("spdz: %s: %w", key,
			ErrTriplePoolExhausted)
	}
	s := list[0]
	list[0] = nil
	pool.sigmoids[key] = list[1:]
	return s, nil
}

// Remaining returns the number of items of the kind and shape in the
// pool.
func (pool *Pool) Remaining(kind Kind, shape field.Shape) int {
	pool.m.Lock()
	defer pool.m.Unlock()

	key := materialKey(kind, shape)
	switch kind {
	case KindMul, KindMatMul:
		return len(pool.triples[key])
	case KindTrunc:
		return len(pool.pairs[key])
	case KindSigmoid:
		return len(pool.sigmoids[key])
	default:
		return 0
	}
}
