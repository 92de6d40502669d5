//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package autograd

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/comm/direct"
	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/crypto/spdz"
	"github.com/markkurossi/spdz/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type party struct {
	sess    *session.Session
	counter *comm.Counter
	pool    *spdz.Pool
	eng     *spdz.Engine
}

func newParties(t *testing.T, n int, small bool) []*party {
	t.Helper()

	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("p%d", i))
	}
	cfg := session.DefaultConfig(ids...)
	cfg.Timeout = 30 * time.Second
	if small {
		cfg.Modulus = "2^31-1"
		cfg.Precision = 2
		cfg.StatSecurity = 8
	}

	var result []*party
	for _, id := range ids {
		sess, err := session.New(cfg, id)
		require.NoError(t, err)
		result = append(result, &party{
			sess: sess,
			pool: spdz.NewPool(),
		})
	}
	nws, err := direct.Mesh(result[0].sess.Parties)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, nw := range nws {
			nw.Close()
		}
	})
	for i, p := range result {
		p.counter = comm.NewCounter(nws[i])
		p.eng = spdz.NewEngine(p.sess, p.counter, p.pool, zerolog.Nop())
	}
	run(t, result, func(p *party) error {
		return p.eng.Setup(context.Background())
	})
	return result
}

func run(t *testing.T, parties []*party, fn func(p *party) error) {
	t.Helper()

	errs := make([]error, len(parties))
	var wg sync.WaitGroup
	for i, p := range parties {
		wg.Go(func() {
			errs[i] = fn(p)
		})
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("party %d: %v", i, err)
		}
	}
}

func provision(t *testing.T, parties []*party, reqs ...spdz.Request) {
	t.Helper()
	dealer := spdz.NewDealer(parties[0].sess)
	pools := make([]*spdz.Pool, len(parties))
	for i, p := range parties {
		pools[i] = p.pool
	}
	for _, req := range reqs {
		require.NoError(t, dealer.Provision(pools, req))
	}
}

// variables splits the values locally and returns each party's leaf
// variable.
func variables(t *testing.T, parties []*party, shape field.Shape,
	values []float64, requiresGrad bool) []*Variable {

	t.Helper()
	sess := parties[0].sess
	v, err := sess.Codec.EncodeTensor(shape, values)
	require.NoError(t, err)
	shares, err := spdz.Split(sess.Ring, rand.Reader, v, len(parties))
	require.NoError(t, err)

	result := make([]*Variable, len(parties))
	for i, p := range parties {
		result[i] = NewVariable(p.eng, spdz.NewShare(i, shares[i]),
			requiresGrad)
	}
	return result
}

func reconstruct(t *testing.T, parties []*party,
	shares []*spdz.Share) []float64 {

	t.Helper()
	sess := parties[0].sess
	tensors := make(spdz.Shares, len(shares))
	for i, s := range shares {
		require.NotNil(t, s, "party %d: nil share", i)
		tensors[i] = s.Value
	}
	v, err := spdz.Reconstruct(sess.Ring, tensors)
	require.NoError(t, err)
	return sess.Codec.DecodeTensor(v)
}

func grads(t *testing.T, parties []*party, vars []*Variable) []float64 {
	t.Helper()
	shares := make([]*spdz.Share, len(vars))
	for i, v := range vars {
		shares[i] = v.Grad()
	}
	return reconstruct(t, parties, shares)
}

func requireClose(t *testing.T, expected, got []float64, delta float64) {
	t.Helper()
	if diff := cmp.Diff(expected, got,
		cmpopts.EquateApprox(0, delta)); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalGradients(t *testing.T) {
	parties := newParties(t, 3, true)
	shape := field.Shape{3}

	xs := variables(t, parties, shape, []float64{1, 2, 3}, true)
	ys := variables(t, parties, shape, []float64{-1, 0.5, 4}, true)
	cs := variables(t, parties, shape, []float64{7, 7, 7}, false)

	calls := make([]uint64, len(parties))
	for i, p := range parties {
		calls[i] = p.counter.Calls()
	}

	outs := make([]*Variable, len(parties))
	for i := range parties {
		// out = (x + y) - (-x) - c = 2x + y - c
		sum, err := xs[i].Add(ys[i])
		require.NoError(t, err)
		diff, err := sum.Sub(xs[i].Neg())
		require.NoError(t, err)
		outs[i], err = diff.Sub(cs[i])
		require.NoError(t, err)
		require.True(t, outs[i].RequiresGrad())
		require.Equal(t, "sub", outs[i].Op())

		require.NoError(t, outs[i].Backward(context.Background(), nil))
	}
	for i, p := range parties {
		require.Equal(t, calls[i], p.counter.Calls())
	}

	shares := make([]*spdz.Share, len(outs))
	for i, o := range outs {
		shares[i] = o.Value()
	}
	requireClose(t, []float64{-6, -2.5, 3}, reconstruct(t, parties, shares),
		1e-9)
	requireClose(t, []float64{2, 2, 2}, grads(t, parties, xs), 1e-9)
	requireClose(t, []float64{1, 1, 1}, grads(t, parties, ys), 1e-9)
	for _, c := range cs {
		require.Nil(t, c.Grad())
	}
}

func TestGradientAccumulation(t *testing.T) {
	parties := newParties(t, 2, true)
	shape := field.Shape{2}

	xs := variables(t, parties, shape, []float64{1, 2}, true)
	for round := 0; round < 2; round++ {
		for _, x := range xs {
			out, err := x.Add(x)
			require.NoError(t, err)
			require.NoError(t, out.Backward(context.Background(), nil))
		}
	}
	requireClose(t, []float64{4, 4}, grads(t, parties, xs), 1e-9)

	for _, x := range xs {
		x.ZeroGrad()
		require.Nil(t, x.Grad())

		d := x.Detach()
		require.True(t, d.IsLeaf())
		require.False(t, d.RequiresGrad())
		require.Equal(t, x.Value(), d.Value())
	}
}

func TestBackwardErrors(t *testing.T) {
	parties := newParties(t, 2, true)
	xs := variables(t, parties, field.Shape{2}, []float64{1, 2}, false)

	err := xs[0].Backward(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoGrad)

	ys := variables(t, parties, field.Shape{2}, []float64{1, 2}, true)
	g := variables(t, parties, field.Shape{3}, []float64{1, 2, 3}, false)
	err = ys[0].Backward(context.Background(), g[0].Value())
	require.ErrorIs(t, err, spdz.ErrShapeMismatch)

	_, err = ys[0].Add(ys[1])
	require.ErrorIs(t, err, ErrEngineMismatch)
}

func TestMulGradient(t *testing.T) {
	parties := newParties(t, 2, true)
	shape := field.Shape{3}
	provision(t, parties,
		spdz.Request{Kind: spdz.KindMul, Shape: shape, Count: 3},
		spdz.Request{Kind: spdz.KindTrunc, Shape: shape, Count: 3})

	xv := []float64{1.5, -2, 0.5}
	yv := []float64{4, 3, -6}
	xs := variables(t, parties, shape, xv, true)
	ys := variables(t, parties, shape, yv, true)
	gs := variables(t, parties, shape, []float64{1, 0.5, -1}, false)

	run(t, parties, func(p *party) error {
		self := p.eng.Self()
		z, err := xs[self].Mul(context.Background(), ys[self])
		if err != nil {
			return err
		}
		return z.Backward(context.Background(), gs[self].Value())
	})

	// dx = g*y, dy = g*x
	requireClose(t, []float64{4, 1.5, 6}, grads(t, parties, xs), 0.011)
	requireClose(t, []float64{1.5, -1, -0.5}, grads(t, parties, ys), 0.011)
}

func TestMatMulGradient(t *testing.T) {
	parties := newParties(t, 3, true)
	provision(t, parties,
		spdz.Request{Kind: spdz.KindMatMul, Shape: field.Shape{2, 3, 2},
			Count: 1},
		spdz.Request{Kind: spdz.KindMatMul, Shape: field.Shape{2, 2, 3},
			Count: 1},
		spdz.Request{Kind: spdz.KindMatMul, Shape: field.Shape{3, 2, 2},
			Count: 1},
		spdz.Request{Kind: spdz.KindTrunc, Shape: field.Shape{2, 2},
			Count: 1},
		spdz.Request{Kind: spdz.KindTrunc, Shape: field.Shape{2, 3},
			Count: 1},
		spdz.Request{Kind: spdz.KindTrunc, Shape: field.Shape{3, 2},
			Count: 1})

	// X: 2x3, W: 3x2
	xs := variables(t, parties, field.Shape{2, 3},
		[]float64{1, 2, 3, -1, 0.5, 2}, true)
	ws := variables(t, parties, field.Shape{3, 2},
		[]float64{0.5, -1, 2, 0.25, -1.5, 1}, true)
	gs := variables(t, parties, field.Shape{2, 2},
		[]float64{1, -1, 0.5, 2}, false)

	outs := make([]*spdz.Share, len(parties))
	run(t, parties, func(p *party) error {
		self := p.eng.Self()
		y, err := xs[self].MatMul(context.Background(), ws[self])
		if err != nil {
			return err
		}
		outs[self] = y.Value()
		return y.Backward(context.Background(), gs[self].Value())
	})

	// Y = X@W
	requireClose(t, []float64{0, 2.5, -2.5, 3.125},
		reconstruct(t, parties, outs), 0.011)
	// dX = G@W^T
	requireClose(t, []float64{1.5, 1.75, -2.5, -1.75, 1.5, 1.25},
		grads(t, parties, xs), 0.011)
	// dW = X^T@G
	requireClose(t, []float64{0.5, -3, 2.25, -1, 4, -1},
		grads(t, parties, ws), 0.011)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func TestSigmoidGradient(t *testing.T) {
	parties := newParties(t, 2, false)
	shape := field.Shape{3}
	provision(t, parties,
		spdz.Request{Kind: spdz.KindMul, Shape: shape, Count: 5},
		spdz.Request{Kind: spdz.KindTrunc, Shape: shape, Count: 5},
		spdz.Request{Kind: spdz.KindSigmoid, Shape: shape, Count: 1})

	xv := []float64{0.5, -0.3, 1.2}
	wv := []float64{0.8, 1.2, -0.5}
	xs := variables(t, parties, shape, xv, true)
	ws := variables(t, parties, shape, wv, true)

	outs := make([]*spdz.Share, len(parties))
	run(t, parties, func(p *party) error {
		self := p.eng.Self()
		z, err := xs[self].Mul(context.Background(), ws[self])
		if err != nil {
			return err
		}
		y, err := z.Sigmoid(context.Background())
		if err != nil {
			return err
		}
		outs[self] = y.Value()
		return y.Backward(context.Background(), nil)
	})

	const h = 1e-5
	var expectedY, expectedDX, expectedDW []float64
	for i := range xv {
		expectedY = append(expectedY, sigmoid(xv[i]*wv[i]))
		expectedDX = append(expectedDX,
			(sigmoid((xv[i]+h)*wv[i])-sigmoid((xv[i]-h)*wv[i]))/(2*h))
		expectedDW = append(expectedDW,
			(sigmoid(xv[i]*(wv[i]+h))-sigmoid(xv[i]*(wv[i]-h)))/(2*h))
	}
	requireClose(t, expectedY, reconstruct(t, parties, outs), 1e-3)
	requireClose(t, expectedDX, grads(t, parties, xs), 1e-2)
	requireClose(t, expectedDW, grads(t, parties, ws), 1e-2)

	for _, p := range parties {
		require.Equal(t, 0, p.pool.Remaining(spdz.KindMul, shape))
		require.Equal(t, 0, p.pool.Remaining(spdz.KindSigmoid, shape))
	}
}

func TestRevealTo(t *testing.T) {
	parties := newParties(t, 3, true)
	xs := variables(t, parties, field.Shape{2}, []float64{1.25, -3}, false)

	results := make([][]float64, len(parties))
	run(t, parties, func(p *party) error {
		var err error
		results[p.eng.Self()], err = xs[p.eng.Self()].RevealTo(
			context.Background(), 2)
		return err
	})
	require.Nil(t, results[0])
	require.Nil(t, results[1])
	requireClose(t, []float64{1.25, -3}, results[2], 1e-9)

	run(t, parties, func(p *party) error {
		v, err := xs[p.eng.Self()].Reveal(context.Background())
		if err != nil {
			return err
		}
		results[p.eng.Self()] = v
		return nil
	})
	for _, r := range results {
		requireClose(t, []float64{1.25, -3}, r, 1e-9)
	}
}
