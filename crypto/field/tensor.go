//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package field

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/xerrors"
)

// Shape defines tensor dimensions in row-major order.
type Shape []int

// Size returns the number of elements in the shape.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	size := 1
	for _, d := range s {
		size *= d
	}
	return size
}

// Equal tests if the shapes are equal.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Validate checks that the shape has at least one dimension and all
// dimensions are positive.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return xerrors.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	for _, d := range s {
		if d <= 0 {
			return xerrors.Errorf("%w: invalid dimension in %v", ErrShapeMismatch, s)
		}
	}
	return nil
}

// Copy returns a copy of the shape.
func (s Shape) Copy() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, "x")
}

// Tensor holds ring elements in row-major order.
type Tensor struct {
	Shape  Shape
	Values []*big.Int
}

// NewTensor creates a zero tensor with the given shape.
func NewTensor(shape Shape) *Tensor {
	t := &Tensor{
		Shape:  shape.Copy(),
		Values: make([]*big.Int, shape.Size()),
	}
	for i := range t.Values {
		t.Values[i] = new(big.Int)
	}
	return t
}

// Copy creates a deep copy of the tensor.
func (t *Tensor) Copy() *Tensor {
	result := &Tensor{
		Shape:  t.Shape.Copy(),
		Values: make([]*big.Int, len(t.Values)),
	}
	for i, v := range t.Values {
		result.Values[i] = new(big.Int).Set(v)
	}
	return result
}

// Equal tests if the tensors have equal shapes and values.
func (t *Tensor) Equal(o *Tensor) bool {
	if !t.Shape.Equal(o.Shape) || len(t.Values) != len(o.Values) {
		return false
	}
	for i := range t.Values {
		if t.Values[i].Cmp(o.Values[i]) != 0 {
			return false
		}
	}
	return true
}

// Dims returns the row and column counts of a rank-2 tensor.
func (t *Tensor) Dims() (rows, cols int, err error) {
	if len(t.Shape) != 2 {
		return 0, 0, xerrors.Errorf("%w: rank %d tensor is not a matrix",
			ErrShapeMismatch, len(t.Shape))
	}
	return t.Shape[0], t.Shape[1], nil
}

func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range t.Values {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// Zero creates a zero tensor.
func (r *Ring) Zero(shape Shape) *Tensor {
	return NewTensor(shape)
}

// Const creates a tensor where every element is c mod Q.
func (r *Ring) Const(shape Shape, c *big.Int) *Tensor {
	t := NewTensor(shape)
	v := r.Reduce(c)
	for i := range t.Values {
		t.Values[i].Set(v)
	}
	return t
}

// FromInt64 creates a tensor from signed integers reduced mod Q.
func (r *Ring) FromInt64(shape Shape, values []int64) (*Tensor, error) {
	if shape.Size() != len(values) {
		return nil, xerrors.Errorf("%w: %d values for shape %v",
			ErrShapeMismatch, len(values), shape)
	}
	t := NewTensor(shape)
	for i, v := range values {
		t.Values[i] = r.Reduce(big.NewInt(v))
	}
	return t, nil
}

// RandomTensor creates a tensor of uniformly random ring elements.
func (r *Ring) RandomTensor(rnd io.Reader, shape Shape) (*Tensor, error) {
	t := NewTensor(shape)
	for i := range t.Values {
		v, err := r.Random(rnd)
		if err != nil {
			return nil, err
		}
		t.Values[i] = v
	}
	return t, nil
}

func (r *Ring) elementwise(a, b *Tensor,
	op func(x, y *big.Int) *big.Int) (*Tensor, error) {

	if !a.Shape.Equal(b.Shape) {
		return nil, xerrors.Errorf("%w: %v and %v",
			ErrShapeMismatch, a.Shape, b.Shape)
	}
	result := &Tensor{
		Shape:  a.Shape.Copy(),
		Values: make([]*big.Int, len(a.Values)),
	}
	for i := range a.Values {
		result.Values[i] = op(a.Values[i], b.Values[i])
	}
	return result, nil
}

// Add returns a+b mod Q elementwise.
func (r *Ring) Add(a, b *Tensor) (*Tensor, error) {
	return r.elementwise(a, b, r.AddElem)
}

// Sub returns a-b mod Q elementwise.
func (r *Ring) Sub(a, b *Tensor) (*Tensor, error) {
	return r.elementwise(a, b, r.SubElem)
}

// Mul returns a*b mod Q elementwise.
func (r *Ring) Mul(a, b *Tensor) (*Tensor, error) {
	return r.elementwise(a, b, r.MulElem)
}

// Neg returns -a mod Q elementwise.
func (r *Ring) Neg(a *Tensor) *Tensor {
	result := &Tensor{
		Shape:  a.Shape.Copy(),
		Values: make([]*big.Int, len(a.Values)),
	}
	for i, v := range a.Values {
		result.Values[i] = r.NegElem(v)
	}
	return result
}

// Scale returns c*a mod Q elementwise.
func (r *Ring) Scale(a *Tensor, c *big.Int) *Tensor {
	result := &Tensor{
		Shape:  a.Shape.Copy(),
		Values: make([]*big.Int, len(a.Values)),
	}
	for i, v := range a.Values {
		result.Values[i] = r.MulElem(v, c)
	}
	return result
}

// AddConst returns a+c mod Q elementwise.
func (r *Ring) AddConst(a *Tensor, c *big.Int) *Tensor {
	result := &Tensor{
		Shape:  a.Shape.Copy(),
		Values: make([]*big.Int, len(a.Values)),
	}
	for i, v := range a.Values {
		result.Values[i] = r.AddElem(v, c)
	}
	return result
}

// MatMul returns the matrix product a@b mod Q.
func (r *Ring) MatMul(a, b *Tensor) (*Tensor, error) {
	m, k, err := a.Dims()
	if err != nil {
		return nil, err
	}
	k2, n, err := b.Dims()
	if err != nil {
		return nil, err
	}
	if k != k2 {
		return nil, xerrors.Errorf("%w: matmul %v and %v",
			ErrShapeMismatch, a.Shape, b.Shape)
	}
	result := NewTensor(Shape{m, n})
	tmp := new(big.Int)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := result.Values[i*n+j]
			for t := 0; t < k; t++ {
				tmp.Mul(a.Values[i*k+t], b.Values[t*n+j])
				sum.Add(sum, tmp)
			}
			sum.Mod(sum, r.q)
		}
	}
	return result, nil
}

// Transpose returns the transpose of the rank-2 tensor a.
func (r *Ring) Transpose(a *Tensor) (*Tensor, error) {
	m, n, err := a.Dims()
	if err != nil {
		return nil, err
	}
	result := &Tensor{
		Shape:  Shape{n, m},
		Values: make([]*big.Int, len(a.Values)),
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			result.Values[j*m+i] = new(big.Int).Set(a.Values[i*n+j])
		}
	}
	return result, nil
}

// Sum returns the sum of the tensors mod Q.
func (r *Ring) Sum(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, xerrors.Errorf("%w: no tensors", ErrShapeMismatch)
	}
	result := r.Zero(tensors[0].Shape)
	for _, t := range tensors {
		if !t.Shape.Equal(result.Shape) {
			return nil, xerrors.Errorf("%w: %v and %v",
				ErrShapeMismatch, result.Shape, t.Shape)
		}
		for i, v := range t.Values {
			result.Values[i].Add(result.Values[i], v)
		}
	}
	for _, v := range result.Values {
		v.Mod(v, r.q)
	}
	return result, nil
}
