//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package autograd implements reverse-mode automatic differentiation
// over secret-shared values. Forward values and gradients stay
// secret-shared; every party builds the same graph and runs the same
// sequence of secure operations.
package autograd

import (
	"context"
	"fmt"

	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/crypto/spdz"
	"golang.org/x/xerrors"
)

var (
	// ErrNoGrad is returned when differentiating a variable that
	// does not require gradients.
	ErrNoGrad = xerrors.New("autograd: variable does not require grad")

	// ErrEngineMismatch is returned when combining variables of
	// different engines.
	ErrEngineMismatch = xerrors.New("autograd: engine mismatch")
)

// backwardFunc computes the input gradients from the output gradient
// g. The result is indexed as the inputs; entries for inputs that do
// not require gradients may be nil.
type backwardFunc func(ctx context.Context, g *spdz.Share) (
	[]*spdz.Share, error)

// Variable is a node in the computation graph. It holds the local
// party's share of the value and of the accumulated gradient.
type Variable struct {
	eng          *spdz.Engine
	value        *spdz.Share
	grad         *spdz.Share
	requiresGrad bool
	op           string
	inputs       []*Variable
	backward     backwardFunc
}

// NewVariable creates a leaf variable from the value share.
func NewVariable(eng *spdz.Engine, value *spdz.Share,
	requiresGrad bool) *Variable {

	return &Variable{
		eng:          eng,
		value:        value,
		requiresGrad: requiresGrad,
	}
}

// Input shares the owner's values with all parties and returns the
// resulting leaf variable. Non-owners pass nil values.
func Input(ctx context.Context, eng *spdz.Engine, owner int,
	values []float64, shape field.Shape, requiresGrad bool) (
	*Variable, error) {

	share, err := eng.InputValues(ctx, owner, values, shape)
	if err != nil {
		return nil, err
	}
	return NewVariable(eng, share, requiresGrad), nil
}

func (v *Variable) String() string {
	op := v.op
	if len(op) == 0 {
		op = "leaf"
	}
	return fmt.Sprintf("%s%v", op, v.Shape())
}

// Value returns the value share.
func (v *Variable) Value() *spdz.Share {
	return v.value
}

// Shape returns the value shape.
func (v *Variable) Shape() field.Shape {
	return v.value.Shape()
}

// Op returns the name of the operation that produced the variable.
// Leaf variables have an empty operation name.
func (v *Variable) Op() string {
	return v.op
}

// IsLeaf tests if the variable was created by the user and not by an
// operation.
func (v *Variable) IsLeaf() bool {
	return v.backward == nil
}

// RequiresGrad tests if gradients flow into the variable.
func (v *Variable) RequiresGrad() bool {
	return v.requiresGrad
}

// Grad returns the accumulated gradient share or nil if no gradient
// has been computed.
func (v *Variable) Grad() *spdz.Share {
	return v.grad
}

// ZeroGrad clears the accumulated gradient.
func (v *Variable) ZeroGrad() {
	v.grad = nil
}

// Detach returns a new leaf variable sharing the value but not the
// graph.
func (v *Variable) Detach() *Variable {
	return NewVariable(v.eng, v.value, false)
}

// Reveal opens the value at all parties.
func (v *Variable) Reveal(ctx context.Context) ([]float64, error) {
	return v.eng.Reveal(ctx, v.value)
}

// RevealTo opens the value only at the receiver parties. Other
// parties get nil values.
func (v *Variable) RevealTo(ctx context.Context, receivers ...int) (
	[]float64, error) {

	t, err := v.eng.OpenTo(ctx, v.value, receivers...)
	if err != nil || t == nil {
		return nil, err
	}
	return v.eng.Decode(t), nil
}

func (v *Variable) newResult(op string, value *spdz.Share,
	inputs []*Variable, backward backwardFunc) *Variable {

	result := &Variable{
		eng:    v.eng,
		value:  value,
		op:     op,
		inputs: inputs,
	}
	for _, in := range inputs {
		if in.requiresGrad {
			result.requiresGrad = true
			result.backward = backward
			break
		}
	}
	return result
}

func (v *Variable) check(o *Variable) error {
	if v.eng != o.eng {
		return ErrEngineMismatch
	}
	return nil
}
