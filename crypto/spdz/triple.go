//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"fmt"
	"sync/atomic"

	"github.com/markkurossi/spdz/crypto/field"
	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

// Triple holds one party's shares of a Beaver triple (a, b, c). For
// KindMul triples c = a*b elementwise and for KindMatMul triples
// c = a@b.
type Triple struct {
	ID   xid.ID
	Kind Kind
	A    *field.Tensor
	B    *field.Tensor
	C    *field.Tensor

	consumed atomic.Bool
}

// NewTriple creates a new triple share.
func NewTriple(kind Kind, a, b, c *field.Tensor) *Triple {
	return &Triple{
		ID:   xid.New(),
		Kind: kind,
		A:    a,
		B:    b,
		C:    c,
	}
}

func (t *Triple) String() string {
	return fmt.Sprintf("%v triple %s: %v,%v,%v", t.Kind, t.ID,
		t.A.Shape, t.B.Shape, t.C.Shape)
}

// Consume marks the triple used. It returns ErrTripleConsumed if the
// triple was already used.
func (t *Triple) Consume() error {
	if !t.consumed.CompareAndSwap(false, true) {
		return xerrors.Errorf("spdz: triple %s: %w", t.ID, ErrTripleConsumed)
	}
	return nil
}

// Consumed tests if the triple was used.
func (t *Triple) Consumed() bool {
	return t.consumed.Load()
}

// Key returns the pool key of the triple.
func (t *Triple) Key() string {
	if t.Kind == KindMatMul {
		return matMulKey(t.A.Shape[0], t.A.Shape[1], t.B.Shape[1])
	}
	return materialKey(t.Kind, t.A.Shape)
}

// TruncPair holds one party's shares of a truncation pair (r, r')
// where r' = floor(r/S) and r is below Q-2H.
type TruncPair struct {
	ID xid.ID
	R  *field.Tensor
	RT *field.Tensor

	consumed atomic.Bool
}

// NewTruncPair creates a new truncation pair share.
func NewTruncPair(r, rt *field.Tensor) *TruncPair {
	return &TruncPair{
		ID: xid.New(),
		R:  r,
		RT: rt,
	}
}

// Consume marks the pair used.
func (p *TruncPair) Consume() error {
	if !p.consumed.CompareAndSwap(false, true) {
		return xerrors.Errorf("spdz: truncation pair %s: %w", p.ID,
			ErrTripleConsumed)
	}
	return nil
}

// SigmoidNumMuls defines how many secure multiplications one sigmoid
// evaluation uses.
const SigmoidNumMuls = 6

// SigmoidShares holds the preprocessing material of one sigmoid
// evaluation: shares of the polynomial coefficients and the triples
// and truncation pairs of its multiplications.
type SigmoidShares struct {
	ID      xid.ID
	W0      *field.Tensor
	W1      *field.Tensor
	W3      *field.Tensor
	W5      *field.Tensor
	Triples [SigmoidNumMuls]*Triple
	Pairs   [SigmoidNumMuls]*TruncPair

	consumed atomic.Bool
}

// Consume marks the sigmoid material used.
func (s *SigmoidShares) Consume() error {
	if !s.consumed.CompareAndSwap(false, true) {
		return xerrors.Errorf("spdz: sigmoid material %s: %w", s.ID,
			ErrTripleConsumed)
	}
	return nil
}

func materialKey(kind Kind, shape field.Shape) string {
	return fmt.Sprintf("%v/%v", kind, shape)
}

func matMulKey(m, k, n int) string {
	return materialKey(KindMatMul, field.Shape{m, k, n})
}
