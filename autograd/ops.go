//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package autograd

import (
	"context"

	"github.com/markkurossi/spdz/crypto/spdz"
)

// Add returns v+o. The operation is local.
func (v *Variable) Add(o *Variable) (*Variable, error) {
	if err := v.check(o); err != nil {
		return nil, err
	}
	value, err := v.eng.Add(v.value, o.value)
	if err != nil {
		return nil, err
	}
	return v.newResult("add", value, []*Variable{v, o},
		func(ctx context.Context, g *spdz.Share) ([]*spdz.Share, error) {
			return []*spdz.Share{g, g}, nil
		}), nil
}

// Sub returns v-o. The operation is local.
func (v *Variable) Sub(o *Variable) (*Variable, error) {
	if err := v.check(o); err != nil {
		return nil, err
	}
	value, err := v.eng.Sub(v.value, o.value)
	if err != nil {
		return nil, err
	}
	return v.newResult("sub", value, []*Variable{v, o},
		func(ctx context.Context, g *spdz.Share) ([]*spdz.Share, error) {
			return []*spdz.Share{g, v.eng.Neg(g)}, nil
		}), nil
}

// Neg returns -v. The operation is local.
func (v *Variable) Neg() *Variable {
	return v.newResult("neg", v.eng.Neg(v.value), []*Variable{v},
		func(ctx context.Context, g *spdz.Share) ([]*spdz.Share, error) {
			return []*spdz.Share{v.eng.Neg(g)}, nil
		})
}

// Mul returns the elementwise product v*o.
func (v *Variable) Mul(ctx context.Context, o *Variable) (*Variable, error) {
	if err := v.check(o); err != nil {
		return nil, err
	}
	value, err := v.eng.Mul(ctx, v.value, o.value)
	if err != nil {
		return nil, err
	}
	return v.newResult("mul", value, []*Variable{v, o},
		func(ctx context.Context, g *spdz.Share) ([]*spdz.Share, error) {
			result := make([]*spdz.Share, 2)
			var err error
			if v.requiresGrad {
				result[0], err = v.eng.Mul(ctx, g, o.value)
				if err != nil {
					return nil, err
				}
			}
			if o.requiresGrad {
				result[1], err = v.eng.Mul(ctx, g, v.value)
				if err != nil {
					return nil, err
				}
			}
			return result, nil
		}), nil
}

// MatMul returns the matrix product v@o.
func (v *Variable) MatMul(ctx context.Context, o *Variable) (
	*Variable, error) {

	if err := v.check(o); err != nil {
		return nil, err
	}
	value, err := v.eng.MatMul(ctx, v.value, o.value)
	if err != nil {
		return nil, err
	}
	return v.newResult("matmul", value, []*Variable{v, o},
		func(ctx context.Context, g *spdz.Share) ([]*spdz.Share, error) {
			result := make([]*spdz.Share, 2)
			if v.requiresGrad {
				// dV = G @ O^T
				ot, err := v.eng.Transpose(o.value)
				if err != nil {
					return nil, err
				}
				result[0], err = v.eng.MatMul(ctx, g, ot)
				if err != nil {
					return nil, err
				}
			}
			if o.requiresGrad {
				// dO = V^T @ G
				vt, err := v.eng.Transpose(v.value)
				if err != nil {
					return nil, err
				}
				result[1], err = v.eng.MatMul(ctx, vt, g)
				if err != nil {
					return nil, err
				}
			}
			return result, nil
		}), nil
}

// Sigmoid returns the approximated logistic function of v.
func (v *Variable) Sigmoid(ctx context.Context) (*Variable, error) {
	y, err := v.eng.Sigmoid(ctx, v.value)
	if err != nil {
		return nil, err
	}
	return v.newResult("sigmoid", y, []*Variable{v},
		func(ctx context.Context, g *spdz.Share) ([]*spdz.Share, error) {
			// dV = g * y * (1-y)
			oneMinus, err := v.eng.PublicAdd(v.eng.Neg(y), 1)
			if err != nil {
				return nil, err
			}
			d, err := v.eng.Mul(ctx, y, oneMinus)
			if err != nil {
				return nil, err
			}
			d, err = v.eng.Mul(ctx, g, d)
			if err != nil {
				return nil, err
			}
			return []*spdz.Share{d}, nil
		}), nil
}
