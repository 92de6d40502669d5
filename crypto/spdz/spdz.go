//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package spdz implements the SPDZ secure arithmetic protocol over
// additively secret-shared fixed-point tensors. Multiplications use
// Beaver triples that are generated either by a trusted dealer or
// jointly by the parties with oblivious transfer.
package spdz

import (
	"fmt"
	"io"
	"math/big"

	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/xerrors"
)

var (
	// ErrTriplePoolExhausted is returned when the pool has no
	// preprocessing material of the requested kind and shape.
	ErrTriplePoolExhausted = xerrors.New("spdz: triple pool exhausted")

	// ErrTripleConsumed is returned when preprocessing material is
	// used a second time.
	ErrTripleConsumed = xerrors.New("spdz: triple already consumed")

	// ErrDesync is returned when a peer message does not match the
	// expected protocol step.
	ErrDesync = xerrors.New("spdz: protocol desynchronized")

	// ErrShapeMismatch is returned for operands with incompatible
	// shapes.
	ErrShapeMismatch = field.ErrShapeMismatch

	// ErrNotSetup is returned for operations that need Engine.Setup.
	ErrNotSetup = xerrors.New("spdz: engine not set up")

	// ErrSigmoidPrecision is returned when the fixed-point scale
	// cannot represent the sigmoid coefficients accurately.
	ErrSigmoidPrecision = xerrors.New("spdz: scale too coarse for sigmoid")
)

// Kind specifies preprocessing material kinds.
type Kind int

// Preprocessing material kinds.
const (
	KindMul Kind = iota
	KindMatMul
	KindTrunc
	KindSigmoid
)

var kindNames = map[Kind]string{
	KindMul:     "mul",
	KindMatMul:  "matmul",
	KindTrunc:   "trunc",
	KindSigmoid: "sigmoid",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if ok {
		return name
	}
	return fmt.Sprintf("{Kind %d}", k)
}

// Share holds one party's additive share of a secret tensor.
type Share struct {
	Party int
	Value *field.Tensor
}

// NewShare creates a share for the party.
func NewShare(party int, value *field.Tensor) *Share {
	return &Share{
		Party: party,
		Value: value,
	}
}

// Shape returns the shape of the shared tensor.
func (s *Share) Shape() field.Shape {
	return s.Value.Shape
}

func (s *Share) String() string {
	return fmt.Sprintf("share[%d]%v", s.Party, s.Value.Shape)
}

// Shares holds the shares of all parties, indexed by party.
type Shares []*field.Tensor

// Split splits the value into n additive shares. The first n-1 shares
// are uniformly random and the last share is the complement.
func Split(ring *field.Ring, rand io.Reader, value *field.Tensor, n int) (
	Shares, error) {

	if n < 1 {
		return nil, xerrors.Errorf("spdz: invalid number of parties: %d", n)
	}
	if err := value.Shape.Validate(); err != nil {
		return nil, err
	}
	result := make(Shares, n)
	sum := field.NewTensor(value.Shape)
	for i := 0; i < n-1; i++ {
		share, err := ring.RandomTensor(rand, value.Shape)
		if err != nil {
			return nil, err
		}
		result[i] = share
		sum, err = ring.Add(sum, share)
		if err != nil {
			return nil, err
		}
	}
	last, err := ring.Sub(value, sum)
	if err != nil {
		return nil, err
	}
	result[n-1] = last
	return result, nil
}

// Reconstruct sums the shares into the secret value.
func Reconstruct(ring *field.Ring, shares Shares) (*field.Tensor, error) {
	if len(shares) == 0 {
		return nil, xerrors.Errorf("spdz: no shares")
	}
	return ring.Sum(shares...)
}

// PublicAdd adds the public constant c to the share. Only party 0
// adds the constant so the reconstructed value changes by exactly c.
func PublicAdd(ring *field.Ring, x *Share, c *big.Int) *Share {
	if x.Party != 0 {
		return NewShare(x.Party, x.Value.Copy())
	}
	return NewShare(x.Party, ring.AddConst(x.Value, c))
}

// PublicAddTensor adds the public tensor c to the share.
func PublicAddTensor(ring *field.Ring, x *Share, c *field.Tensor) (
	*Share, error) {

	if !x.Value.Shape.Equal(c.Shape) {
		return nil, xerrors.Errorf("spdz: public add %v and %v: %w",
			x.Value.Shape, c.Shape, ErrShapeMismatch)
	}
	if x.Party != 0 {
		return NewShare(x.Party, x.Value.Copy()), nil
	}
	v, err := ring.Add(x.Value, c)
	if err != nil {
		return nil, err
	}
	return NewShare(x.Party, v), nil
}
