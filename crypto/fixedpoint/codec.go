//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package fixedpoint converts real numbers to and from fixed-point
// ring elements. A real x is represented as round(x*S) mod Q where
// S = base^precision. Elements e with 2e >= Q encode negative values.
package fixedpoint

import (
	"math"
	"math/big"

	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/xerrors"
)

var (
	// ErrEncodingRange is returned when a value cannot be represented
	// in the ring without wraparound ambiguity.
	ErrEncodingRange = xerrors.New("fixedpoint: value out of range")

	// ErrInvalidParams is returned for invalid base or precision.
	ErrInvalidParams = xerrors.New("fixedpoint: invalid parameters")
)

// Codec implements the fixed-point encoding for a ring.
type Codec struct {
	ring      *field.Ring
	base      int
	precision int
	scale     *big.Int
	scaleF    *big.Float
}

// New creates a new codec for the ring with the fixed-point scale
// base^precision.
func New(ring *field.Ring, base, precision int) (*Codec, error) {
	if base < 2 || precision < 0 {
		return nil, xerrors.Errorf("%w: base=%d, precision=%d",
			ErrInvalidParams, base, precision)
	}
	scale := new(big.Int).Exp(big.NewInt(int64(base)),
		big.NewInt(int64(precision)), nil)

	// The scale squared must fit in the positive half of the ring or
	// products cannot be represented before truncation.
	sq := new(big.Int).Mul(scale, scale)
	sq.Lsh(sq, 1)
	if sq.Cmp(ring.Modulus()) >= 0 {
		return nil, xerrors.Errorf("%w: scale %v too large for modulus %v",
			ErrInvalidParams, scale, ring.Modulus())
	}

	return &Codec{
		ring:      ring,
		base:      base,
		precision: precision,
		scale:     scale,
		scaleF:    new(big.Float).SetInt(scale),
	}, nil
}

// Ring returns the codec's ring.
func (c *Codec) Ring() *field.Ring {
	return c.ring
}

// Base returns the fixed-point base.
func (c *Codec) Base() int {
	return c.base
}

// Precision returns the number of fractional base digits.
func (c *Codec) Precision() int {
	return c.precision
}

// Scale returns a copy of the scale factor S.
func (c *Codec) Scale() *big.Int {
	return new(big.Int).Set(c.scale)
}

// Resolution returns 1/S, the encoding resolution.
func (c *Codec) Resolution() float64 {
	r, _ := new(big.Float).Quo(big.NewFloat(1), c.scaleF).Float64()
	return r
}

// Scaled returns round(x*S) as a signed integer without modular
// reduction.
func (c *Codec) Scaled(x float64) (*big.Int, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, xerrors.Errorf("%w: %v", ErrEncodingRange, x)
	}
	f := new(big.Float).SetPrec(256).SetFloat64(x)
	f.Mul(f, c.scaleF)

	// Round half away from zero.
	if f.Sign() >= 0 {
		f.Add(f, big.NewFloat(0.5))
	} else {
		f.Sub(f, big.NewFloat(0.5))
	}
	v, _ := f.Int(nil)
	return v, nil
}

// Encode encodes the real value x into a ring element.
func (c *Codec) Encode(x float64) (*big.Int, error) {
	v, err := c.Scaled(x)
	if err != nil {
		return nil, err
	}
	abs := new(big.Int).Abs(v)
	abs.Lsh(abs, 1)
	if abs.Cmp(c.ring.Modulus()) >= 0 {
		return nil, xerrors.Errorf("%w: %v", ErrEncodingRange, x)
	}
	return c.ring.Reduce(v), nil
}

// EncodeInt encodes the integer value x without a fractional scale.
func (c *Codec) EncodeInt(x int64) (*big.Int, error) {
	v := big.NewInt(x)
	abs := new(big.Int).Abs(v)
	abs.Lsh(abs, 1)
	if abs.Cmp(c.ring.Modulus()) >= 0 {
		return nil, xerrors.Errorf("%w: %v", ErrEncodingRange, x)
	}
	return c.ring.Reduce(v), nil
}

// Decode decodes the ring element e into a real value.
func (c *Codec) Decode(e *big.Int) float64 {
	return c.DecodeScaled(e, c.scale)
}

// DecodeScaled decodes the ring element e with an explicit scale,
// e.g. S^2 for untruncated products.
func (c *Codec) DecodeScaled(e *big.Int, scale *big.Int) float64 {
	v := c.ring.Signed(c.ring.Reduce(e))
	f := new(big.Float).SetPrec(256).SetInt(v)
	f.Quo(f, new(big.Float).SetInt(scale))
	r, _ := f.Float64()
	return r
}

// EncodeTensor encodes the values into a tensor with the given shape.
func (c *Codec) EncodeTensor(shape field.Shape, values []float64) (
	*field.Tensor, error) {

	if shape.Size() != len(values) {
		return nil, xerrors.Errorf("%w: %d values for shape %v",
			field.ErrShapeMismatch, len(values), shape)
	}
	t := field.NewTensor(shape)
	for i, v := range values {
		e, err := c.Encode(v)
		if err != nil {
			return nil, xerrors.Errorf("element %d: %w", i, err)
		}
		t.Values[i] = e
	}
	return t, nil
}

// DecodeTensor decodes all tensor elements.
func (c *Codec) DecodeTensor(t *field.Tensor) []float64 {
	result := make([]float64, len(t.Values))
	for i, v := range t.Values {
		result[i] = c.Decode(v)
	}
	return result
}

// Const creates a tensor where every element encodes x.
func (c *Codec) Const(shape field.Shape, x float64) (*field.Tensor, error) {
	e, err := c.Encode(x)
	if err != nil {
		return nil, err
	}
	return c.ring.Const(shape, e), nil
}
