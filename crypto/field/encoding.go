//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package field

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/xerrors"
)

var (
	bo = binary.BigEndian

	// ErrEncoding is returned for malformed tensor encodings.
	ErrEncoding = xerrors.New("field: invalid tensor encoding")
)

// MaxRank defines the maximum tensor rank accepted by Unmarshal.
const MaxRank = 8

// Marshal encodes the tensor as rank, dimensions, and fixed-width
// big-endian elements.
func (r *Ring) Marshal(t *Tensor) []byte {
	size := 4 + 4*len(t.Shape) + len(t.Values)*r.byteLen
	buf := make([]byte, size)

	bo.PutUint32(buf, uint32(len(t.Shape)))
	ofs := 4
	for _, d := range t.Shape {
		bo.PutUint32(buf[ofs:], uint32(d))
		ofs += 4
	}
	for _, v := range t.Values {
		r.Reduce(v).FillBytes(buf[ofs : ofs+r.byteLen])
		ofs += r.byteLen
	}
	return buf
}

// Unmarshal decodes a tensor encoded with Marshal.
func (r *Ring) Unmarshal(data []byte) (*Tensor, error) {
	if len(data) < 4 {
		return nil, xerrors.Errorf("%w: short header", ErrEncoding)
	}
	rank := int(bo.Uint32(data))
	if rank == 0 || rank > MaxRank || len(data) < 4+4*rank {
		return nil, xerrors.Errorf("%w: rank %d", ErrEncoding, rank)
	}
	shape := make(Shape, rank)
	ofs := 4
	for i := range shape {
		shape[i] = int(bo.Uint32(data[ofs:]))
		ofs += 4
	}
	if err := shape.Validate(); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrEncoding, err)
	}
	// Bound the element count by the payload before multiplying so
	// huge dimensions cannot overflow.
	avail := (len(data) - ofs) / r.byteLen
	count := 1
	for _, d := range shape {
		if d > avail/count {
			return nil, xerrors.Errorf("%w: shape %v exceeds %d bytes",
				ErrEncoding, shape, len(data)-ofs)
		}
		count *= d
	}
	if len(data)-ofs != count*r.byteLen {
		return nil, xerrors.Errorf("%w: got %d bytes for shape %v",
			ErrEncoding, len(data)-ofs, shape)
	}
	t := &Tensor{
		Shape:  shape,
		Values: make([]*big.Int, count),
	}
	for i := range t.Values {
		v := new(big.Int).SetBytes(data[ofs : ofs+r.byteLen])
		if v.Cmp(r.q) >= 0 {
			return nil, xerrors.Errorf("%w: element %d out of range",
				ErrEncoding, i)
		}
		t.Values[i] = v
		ofs += r.byteLen
	}
	return t, nil
}
