//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package field implements arithmetic over the ring Z/QZ and tensors
// of ring elements.
package field

import (
	"crypto/rand"
	"io"
	"math/big"

	"golang.org/x/xerrors"
)

// MinModulusBits defines the smallest accepted modulus size.
const MinModulusBits = 16

var (
	// ErrShapeMismatch is returned when tensor operands have
	// incompatible shapes.
	ErrShapeMismatch = xerrors.New("field: shape mismatch")

	// ErrInvalidModulus is returned for moduli that are too small to
	// hold fixed-point values.
	ErrInvalidModulus = xerrors.New("field: invalid modulus")

	bigOne = big.NewInt(1)
)

// Ring implements the ring Z/QZ.
type Ring struct {
	q       *big.Int
	byteLen int
}

// NewRing creates a new ring with the modulus q.
func NewRing(q *big.Int) (*Ring, error) {
	if q == nil || q.Sign() <= 0 || q.BitLen() < MinModulusBits {
		return nil, xerrors.Errorf("%w: %v", ErrInvalidModulus, q)
	}
	return &Ring{
		q:       new(big.Int).Set(q),
		byteLen: (q.BitLen() + 7) / 8,
	}, nil
}

// Modulus returns a copy of the ring modulus.
func (r *Ring) Modulus() *big.Int {
	return new(big.Int).Set(r.q)
}

// ByteLen returns the fixed byte width of encoded ring elements.
func (r *Ring) ByteLen() int {
	return r.byteLen
}

// Reduce returns x mod Q in the range [0, Q).
func (r *Ring) Reduce(x *big.Int) *big.Int {
	z := new(big.Int).Mod(x, r.q)
	if z.Sign() < 0 {
		z.Add(z, r.q)
	}
	return z
}

// AddElem returns a+b mod Q.
func (r *Ring) AddElem(a, b *big.Int) *big.Int {
	z := new(big.Int).Add(a, b)
	return z.Mod(z, r.q)
}

// SubElem returns a-b mod Q.
func (r *Ring) SubElem(a, b *big.Int) *big.Int {
	z := new(big.Int).Sub(a, b)
	return z.Mod(z, r.q)
}

// MulElem returns a*b mod Q.
func (r *Ring) MulElem(a, b *big.Int) *big.Int {
	z := new(big.Int).Mul(a, b)
	return z.Mod(z, r.q)
}

// NegElem returns -a mod Q.
func (r *Ring) NegElem(a *big.Int) *big.Int {
	z := new(big.Int).Neg(a)
	return z.Mod(z, r.q)
}

// IsNegative tests if the element represents a negative value in the
// two's-complement-like convention: 2x >= Q.
func (r *Ring) IsNegative(x *big.Int) bool {
	d := new(big.Int).Lsh(x, 1)
	return d.Cmp(r.q) >= 0
}

// Signed maps the element into the symmetric range (-Q/2, Q/2].
func (r *Ring) Signed(x *big.Int) *big.Int {
	if r.IsNegative(x) {
		return new(big.Int).Sub(x, r.q)
	}
	return new(big.Int).Set(x)
}

// Random returns a uniformly random ring element.
func (r *Ring) Random(rnd io.Reader) (*big.Int, error) {
	return rand.Int(rnd, r.q)
}

// RandomBelow returns a uniformly random value in [0, bound).
func (r *Ring) RandomBelow(rnd io.Reader, bound *big.Int) (*big.Int, error) {
	if bound.Sign() <= 0 || bound.Cmp(r.q) > 0 {
		return nil, xerrors.Errorf("field: invalid bound %v", bound)
	}
	return rand.Int(rnd, bound)
}

// FromBytes reduces a big-endian byte string into a ring element. The
// caller should pass at least ByteLen()+8 bytes for a statistically
// uniform result.
func (r *Ring) FromBytes(data []byte) *big.Int {
	z := new(big.Int).SetBytes(data)
	return z.Mod(z, r.q)
}

// Pow2 returns 2^k mod Q.
func (r *Ring) Pow2(k int) *big.Int {
	z := new(big.Int).Lsh(bigOne, uint(k))
	return z.Mod(z, r.q)
}
