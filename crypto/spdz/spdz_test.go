//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/comm/direct"
	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testParty struct {
	sess    *session.Session
	counter *comm.Counter
	pool    *Pool
	eng     *Engine
}

func testConfig(n int) *session.Config {
	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("p%d", i))
	}
	cfg := session.DefaultConfig(ids...)
	cfg.Timeout = 30 * time.Second
	return cfg
}

// smallConfig returns the configuration with Q=2^31-1 and S=100.
func smallConfig(n int) *session.Config {
	cfg := testConfig(n)
	cfg.Modulus = "2^31-1"
	cfg.Precision = 2
	cfg.StatSecurity = 8
	return cfg
}

func newTestParties(t *testing.T, cfg *session.Config) []*testParty {
	t.Helper()

	var result []*testParty
	for _, id := range cfg.PartyIDs() {
		sess, err := session.New(cfg, id)
		require.NoError(t, err)
		result = append(result, &testParty{
			sess: sess,
			pool: NewPool(),
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
		p.eng = NewEngine(p.sess, p.counter, p.pool, zerolog.Nop())
	}
	return result
}

func newSetupParties(t *testing.T, cfg *session.Config) []*testParty {
	t.Helper()
	parties := newTestParties(t, cfg)
	run(t, parties, func(p *testParty) error {
		return p.eng.Setup(context.Background())
	})
	return parties
}

func runErrs(parties []*testParty, fn func(p *testParty) error) []error {
	errs := make([]error, len(parties))
	var wg sync.WaitGroup
	for i, p := range parties {
		wg.Go(func() {
			errs[i] = fn(p)
		})
	}
	wg.Wait()
	return errs
}

func run(t *testing.T, parties []*testParty, fn func(p *testParty) error) {
	t.Helper()
	for i, err := range runErrs(parties, fn) {
		if err != nil {
			t.Fatalf("party %d: %v", i, err)
		}
	}
}

func provision(t *testing.T, parties []*testParty, reqs ...Request) {
	t.Helper()
	dealer := NewDealer(parties[0].sess)
	pools := make([]*Pool, len(parties))
	for i, p := range parties {
		pools[i] = p.pool
	}
	for _, req := range reqs {
		require.NoError(t, dealer.Provision(pools, req))
	}
}

// shareValues splits the values locally and returns each party's
// share.
func shareValues(t *testing.T, parties []*testParty, shape field.Shape,
	values []float64) []*Share {

	t.Helper()
	sess := parties[0].sess
	v, err := sess.Codec.EncodeTensor(shape, values)
	require.NoError(t, err)
	shares, err := Split(sess.Ring, rand.Reader, v, len(parties))
	require.NoError(t, err)

	result := make([]*Share, len(parties))
	for i := range parties {
		result[i] = NewShare(i, shares[i])
	}
	return result
}

func reconstruct(t *testing.T, parties []*testParty,
	shares []*Share) []float64 {

	t.Helper()
	sess := parties[0].sess
	tensors := make(Shares, len(shares))
	for i, s := range shares {
		tensors[i] = s.Value
	}
	v, err := Reconstruct(sess.Ring, tensors)
	require.NoError(t, err)
	return sess.Codec.DecodeTensor(v)
}

func requireClose(t *testing.T, expected, got []float64, delta float64) {
	t.Helper()
	require.Len(t, got, len(expected))
	for i := range expected {
		if math.Abs(expected[i]-got[i]) > delta {
			t.Fatalf("element %d: got %v, expected %v±%v",
				i, got[i], expected[i], delta)
		}
	}
}

func TestSplitReconstruct(t *testing.T) {
	cfg := smallConfig(3)
	sess, err := session.New(cfg, "p0")
	require.NoError(t, err)

	v, err := sess.Codec.EncodeTensor(field.Shape{2, 2},
		[]float64{1.5, -2.25, 0, 100})
	require.NoError(t, err)

	for n := 1; n <= 5; n++ {
		shares, err := Split(sess.Ring, rand.Reader, v, n)
		require.NoError(t, err)
		require.Len(t, shares, n)

		r, err := Reconstruct(sess.Ring, shares)
		require.NoError(t, err)
		require.True(t, r.Equal(v))
	}

	_, err = Split(sess.Ring, rand.Reader, v, 0)
	require.Error(t, err)
	_, err = Reconstruct(sess.Ring, nil)
	require.Error(t, err)
}

func TestLocalOpsWithoutCommunication(t *testing.T) {
	parties := newTestParties(t, smallConfig(3))
	shape := field.Shape{2, 2}

	xs := shareValues(t, parties, shape, []float64{1, -2, 3.5, 0.25})
	ys := shareValues(t, parties, shape, []float64{0.5, 4, -1.5, 2})

	sum := make([]*Share, len(parties))
	diff := make([]*Share, len(parties))
	neg := make([]*Share, len(parties))
	scaled := make([]*Share, len(parties))
	plus := make([]*Share, len(parties))
	trans := make([]*Share, len(parties))

	for i, p := range parties {
		var err error
		sum[i], err = p.eng.Add(xs[i], ys[i])
		require.NoError(t, err)
		diff[i], err = p.eng.Sub(xs[i], ys[i])
		require.NoError(t, err)
		neg[i] = p.eng.Neg(xs[i])
		scaled[i] = p.eng.Scale(xs[i], -3)
		plus[i], err = p.eng.PublicAdd(xs[i], 1.25)
		require.NoError(t, err)
		trans[i], err = p.eng.Transpose(xs[i])
		require.NoError(t, err)
	}
	for _, p := range parties {
		require.Zero(t, p.counter.Calls())
	}

	requireClose(t, []float64{1.5, 2, 2, 2.25},
		reconstruct(t, parties, sum), 1e-9)
	requireClose(t, []float64{0.5, -6, 5, -1.75},
		reconstruct(t, parties, diff), 1e-9)
	requireClose(t, []float64{-1, 2, -3.5, -0.25},
		reconstruct(t, parties, neg), 1e-9)
	requireClose(t, []float64{-3, 6, -10.5, -0.75},
		reconstruct(t, parties, scaled), 1e-9)
	requireClose(t, []float64{2.25, -0.75, 4.75, 1.5},
		reconstruct(t, parties, plus), 1e-9)
	requireClose(t, []float64{1, 3.5, -2, 0.25},
		reconstruct(t, parties, trans), 1e-9)
}

func TestLocalOpsShapeMismatch(t *testing.T) {
	parties := newTestParties(t, smallConfig(2))
	xs := shareValues(t, parties, field.Shape{2}, []float64{1, 2})
	ys := shareValues(t, parties, field.Shape{3}, []float64{1, 2, 3})

	_, err := parties[0].eng.Add(xs[0], ys[0])
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = parties[0].eng.Sub(xs[0], ys[0])
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = parties[0].eng.Transpose(xs[0])
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestInputOpen(t *testing.T) {
	parties := newTestParties(t, smallConfig(3))
	shape := field.Shape{3}
	values := []float64{3.14, -2.5, 1000}

	results := make([][]float64, len(parties))
	run(t, parties, func(p *testParty) error {
		var in []float64
		if p.eng.Self() == 1 {
			in = values
		}
		x, err := p.eng.InputValues(context.Background(), 1, in, shape)
		if err != nil {
			return err
		}
		results[p.eng.Self()], err = p.eng.Reveal(context.Background(), x)
		return err
	})
	for _, r := range results {
		requireClose(t, values, r, 1e-9)
	}
	for _, p := range parties {
		require.Equal(t, StateDone, p.eng.LastOperation().State)
	}
}

func TestInputShapeMismatch(t *testing.T) {
	parties := newTestParties(t, smallConfig(2))

	errs := runErrs(parties, func(p *testParty) error {
		if p.eng.Self() == 0 {
			_, err := p.eng.InputValues(context.Background(), 0,
				[]float64{1, 2, 3}, field.Shape{3})
			return err
		}
		_, err := p.eng.Input(context.Background(), 0, nil, field.Shape{2})
		return err
	})
	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], ErrShapeMismatch)
}

func TestOpenTo(t *testing.T) {
	parties := newTestParties(t, smallConfig(3))
	xs := shareValues(t, parties, field.Shape{2}, []float64{7.5, -1})

	results := make([][]float64, len(parties))
	run(t, parties, func(p *testParty) error {
		v, err := p.eng.OpenTo(context.Background(), xs[p.eng.Self()], 0, 2)
		if err != nil {
			return err
		}
		if v != nil {
			results[p.eng.Self()] = p.eng.Decode(v)
		}
		return nil
	})
	requireClose(t, []float64{7.5, -1}, results[0], 1e-9)
	require.Nil(t, results[1])
	requireClose(t, []float64{7.5, -1}, results[2], 1e-9)
}

func TestSwapShares(t *testing.T) {
	parties := newTestParties(t, smallConfig(2))
	xs := shareValues(t, parties, field.Shape{2}, []float64{1.25, 2.5})

	swapped := make([]*field.Tensor, len(parties))
	run(t, parties, func(p *testParty) error {
		self := p.eng.Self()
		var err error
		swapped[self], err = p.eng.SwapShares(context.Background(),
			xs[self], 1-self)
		return err
	})
	require.True(t, swapped[0].Equal(xs[1].Value))
	require.True(t, swapped[1].Equal(xs[0].Value))

	_, err := parties[0].eng.SwapShares(context.Background(), xs[0], 0)
	require.ErrorIs(t, err, comm.ErrUnknownParty)
}

func TestMulTwoParty(t *testing.T) {
	parties := newSetupParties(t, smallConfig(2))
	shape := field.Shape{1}
	provision(t, parties,
		Request{Kind: KindMul, Shape: shape, Count: 1},
		Request{Kind: KindTrunc, Shape: shape, Count: 1})

	results := make([][]float64, len(parties))
	run(t, parties, func(p *testParty) error {
		ctx := context.Background()
		var xv, yv []float64
		if p.eng.Self() == 0 {
			xv = []float64{3.14}
		} else {
			yv = []float64{2.00}
		}
		x, err := p.eng.InputValues(ctx, 0, xv, shape)
		if err != nil {
			return err
		}
		y, err := p.eng.InputValues(ctx, 1, yv, shape)
		if err != nil {
			return err
		}
		z, err := p.eng.Mul(ctx, x, y)
		if err != nil {
			return err
		}
		results[p.eng.Self()], err = p.eng.Reveal(ctx, z)
		return err
	})
	for _, r := range results {
		requireClose(t, []float64{6.28}, r, 0.02)
	}
}

func TestMulThreeParty(t *testing.T) {
	parties := newSetupParties(t, smallConfig(3))
	shape := field.Shape{5}
	xv := []float64{1.5, -2.25, 0, 10, -7.5}
	yv := []float64{4, 3.5, -9, -1.25, -2}
	expected := make([]float64, len(xv))
	for i := range xv {
		expected[i] = xv[i] * yv[i]
	}

	provision(t, parties,
		Request{Kind: KindMul, Shape: shape, Count: 1},
		Request{Kind: KindTrunc, Shape: shape, Count: 1})

	xs := shareValues(t, parties, shape, xv)
	ys := shareValues(t, parties, shape, yv)
	zs := make([]*Share, len(parties))

	run(t, parties, func(p *testParty) error {
		var err error
		zs[p.eng.Self()], err = p.eng.Mul(context.Background(),
			xs[p.eng.Self()], ys[p.eng.Self()])
		return err
	})
	requireClose(t, expected, reconstruct(t, parties, zs), 0.01)

	for _, p := range parties {
		op := p.eng.LastOperation()
		require.Equal(t, "mul", op.Name)
		require.Equal(t, StateDone, op.State)
		require.Equal(t, 0, p.pool.Remaining(KindMul, shape))
		require.Equal(t, uint64(1), p.eng.Stats().Muls)
	}
}

func TestMatMulThreeParty(t *testing.T) {
	parties := newSetupParties(t, smallConfig(3))
	provision(t, parties,
		Request{Kind: KindMatMul, Shape: field.Shape{2, 2, 2}, Count: 1},
		Request{Kind: KindTrunc, Shape: field.Shape{2, 2}, Count: 1})

	xs := shareValues(t, parties, field.Shape{2, 2}, []float64{1, 2, 3, 4})
	ys := shareValues(t, parties, field.Shape{2, 2},
		[]float64{0.5, -1, 2, 0.25})
	zs := make([]*Share, len(parties))

	run(t, parties, func(p *testParty) error {
		var err error
		zs[p.eng.Self()], err = p.eng.MatMul(context.Background(),
			xs[p.eng.Self()], ys[p.eng.Self()])
		return err
	})
	requireClose(t, []float64{4.5, -0.5, 9.5, -2},
		reconstruct(t, parties, zs), 0.01)
}

func TestMatMulShapes(t *testing.T) {
	parties := newSetupParties(t, smallConfig(2))
	provision(t, parties,
		Request{Kind: KindMatMul, Shape: field.Shape{1, 3, 2}, Count: 1},
		Request{Kind: KindTrunc, Shape: field.Shape{1, 2}, Count: 1})

	xs := shareValues(t, parties, field.Shape{1, 3}, []float64{1, -1, 2})
	ys := shareValues(t, parties, field.Shape{3, 2},
		[]float64{1, 2, 3, 4, 5, 6})
	zs := make([]*Share, len(parties))

	run(t, parties, func(p *testParty) error {
		var err error
		zs[p.eng.Self()], err = p.eng.MatMul(context.Background(),
			xs[p.eng.Self()], ys[p.eng.Self()])
		return err
	})
	requireClose(t, []float64{8, 10}, reconstruct(t, parties, zs), 0.01)

	_, err := parties[0].eng.MatMul(context.Background(), ys[0], ys[0])
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTruncate(t *testing.T) {
	parties := newSetupParties(t, smallConfig(3))
	shape := field.Shape{4}
	values := []float64{3.14159, -2.71828, 0.005, -419}

	provision(t, parties, Request{Kind: KindTrunc, Shape: shape, Count: 1})

	// Shares of x*S^2.
	sess := parties[0].sess
	scaled := field.NewTensor(shape)
	for i, v := range values {
		s, err := sess.Codec.Scaled(v * 100)
		require.NoError(t, err)
		scaled.Values[i] = sess.Ring.Reduce(s)
	}
	shares, err := Split(sess.Ring, rand.Reader, scaled, len(parties))
	require.NoError(t, err)

	results := make([]*Share, len(parties))
	run(t, parties, func(p *testParty) error {
		var err error
		results[p.eng.Self()], err = p.eng.Truncate(context.Background(),
			NewShare(p.eng.Self(), shares[p.eng.Self()]))
		return err
	})
	requireClose(t, values, reconstruct(t, parties, results), 0.011)
}

func TestSigmoid(t *testing.T) {
	parties := newSetupParties(t, testConfig(2))
	shape := field.Shape{9}
	values := []float64{-2, -1.5, -1, -0.5, 0, 0.25, 1, 1.5, 2}
	provision(t, parties,
		Request{Kind: KindSigmoid, Shape: shape, Count: 1})

	xs := shareValues(t, parties, shape, values)
	ys := make([]*Share, len(parties))
	run(t, parties, func(p *testParty) error {
		var err error
		ys[p.eng.Self()], err = p.eng.Sigmoid(context.Background(),
			xs[p.eng.Self()])
		return err
	})

	got := reconstruct(t, parties, ys)
	for i, x := range values {
		expected := 1 / (1 + math.Exp(-x))
		delta := 1e-3
		if math.Abs(x) > 1 {
			delta = 2.5e-2
		}
		if math.Abs(expected-got[i]) > delta {
			t.Errorf("sigmoid(%v): got %v, expected %v±%v",
				x, got[i], expected, delta)
		}
	}
	for _, p := range parties {
		op := p.eng.LastOperation()
		require.Equal(t, "sigmoid", op.Name)
		require.Equal(t, StateDone, op.State)
		require.Equal(t, uint64(SigmoidNumMuls), p.eng.Stats().Muls)
	}
}

func TestTripleReuse(t *testing.T) {
	parties := newSetupParties(t, smallConfig(2))
	shape := field.Shape{1}
	provision(t, parties,
		Request{Kind: KindMul, Shape: shape, Count: 1},
		Request{Kind: KindTrunc, Shape: shape, Count: 2})

	triples := make([]*Triple, len(parties))
	for i, p := range parties {
		var err error
		triples[i], err = p.pool.TakeMulTriple(shape)
		require.NoError(t, err)
	}

	xs := shareValues(t, parties, shape, []float64{2})
	ys := shareValues(t, parties, shape, []float64{3})

	mul := func(p *testParty) error {
		pair, err := p.pool.TakeTruncPair(shape)
		if err != nil {
			return err
		}
		self := p.eng.Self()
		_, err = p.eng.MulWith(context.Background(), xs[self], ys[self],
			triples[self], pair)
		return err
	}
	run(t, parties, mul)

	calls := parties[0].counter.Calls()
	for _, err := range runErrs(parties, mul) {
		require.ErrorIs(t, err, ErrTripleConsumed)
	}
	require.Equal(t, calls, parties[0].counter.Calls())
	for _, p := range parties {
		require.Equal(t, StateAborted, p.eng.LastOperation().State)
	}
}

func TestPoolExhausted(t *testing.T) {
	parties := newSetupParties(t, smallConfig(2))
	xs := shareValues(t, parties, field.Shape{2}, []float64{1, 2})

	eng := parties[0].eng
	ctx := context.Background()

	_, err := eng.Mul(ctx, xs[0], xs[0])
	require.ErrorIs(t, err, ErrTriplePoolExhausted)
	_, err = eng.Truncate(ctx, xs[0])
	require.ErrorIs(t, err, ErrTriplePoolExhausted)
	_, err = eng.Sigmoid(ctx, xs[0])
	require.ErrorIs(t, err, ErrTriplePoolExhausted)

	m := shareValues(t, parties, field.Shape{2, 2}, []float64{1, 2, 3, 4})
	_, err = eng.MatMul(ctx, m[0], m[0])
	require.ErrorIs(t, err, ErrTriplePoolExhausted)
}

func TestMulKeepsTripleWithoutPair(t *testing.T) {
	parties := newSetupParties(t, smallConfig(2))
	shape := field.Shape{2}
	mshape := field.Shape{2, 2, 2}
	provision(t, parties,
		Request{Kind: KindMul, Shape: shape, Count: 1},
		Request{Kind: KindMatMul, Shape: mshape, Count: 1})

	xs := shareValues(t, parties, shape, []float64{1, 2})
	m := shareValues(t, parties, field.Shape{2, 2}, []float64{1, 2, 3, 4})

	eng := parties[0].eng
	pool := parties[0].pool
	ctx := context.Background()

	_, err := eng.Mul(ctx, xs[0], xs[0])
	require.ErrorIs(t, err, ErrTriplePoolExhausted)
	require.Equal(t, 1, pool.Remaining(KindMul, shape))

	_, err = eng.MatMul(ctx, m[0], m[0])
	require.ErrorIs(t, err, ErrTriplePoolExhausted)
	require.Equal(t, 1, pool.Remaining(KindMatMul, mshape))

	provision(t, parties, Request{Kind: KindTrunc, Shape: shape, Count: 1})
	triple, pair, err := pool.TakeMul(shape)
	require.NoError(t, err)
	require.NotNil(t, triple)
	require.NotNil(t, pair)
	require.Equal(t, 0, pool.Remaining(KindMul, shape))
	require.Equal(t, 0, pool.Remaining(KindTrunc, shape))
}

func TestMulTimeout(t *testing.T) {
	cfg := smallConfig(2)
	parties := newSetupParties(t, cfg)
	for _, p := range parties {
		p.sess.Timeout = 100 * time.Millisecond
	}
	shape := field.Shape{1}
	provision(t, parties,
		Request{Kind: KindMul, Shape: shape, Count: 1},
		Request{Kind: KindTrunc, Shape: shape, Count: 1})

	xs := shareValues(t, parties, shape, []float64{2})

	// Party 1 never participates.
	eng := parties[0].eng
	_, err := eng.Mul(context.Background(), xs[0], xs[0])
	require.ErrorIs(t, err, comm.ErrTimeout)

	op := eng.LastOperation()
	require.Equal(t, StateAborted, op.State)
	require.ErrorIs(t, op.Err, comm.ErrTimeout)
	require.Equal(t, 0, parties[0].pool.Remaining(KindMul, shape))
	require.Equal(t, 0, parties[0].pool.Remaining(KindTrunc, shape))
}

func TestDesync(t *testing.T) {
	parties := newTestParties(t, smallConfig(2))
	xs := shareValues(t, parties, field.Shape{1}, []float64{1})

	errs := runErrs(parties, func(p *testParty) error {
		self := p.eng.Self()
		if self == 0 {
			_, err := p.eng.Open(context.Background(), xs[self])
			return err
		}
		_, err := p.eng.SwapShares(context.Background(), xs[self], 0)
		return err
	})
	for _, err := range errs {
		require.ErrorIs(t, err, ErrDesync)
	}
}

func TestOperationStateNames(t *testing.T) {
	for state := StatePending; state <= StateAborted; state++ {
		require.NotContains(t, state.String(), "OpState")
	}
	require.Equal(t, "{OpState 42}", OpState(42).String())
	require.Equal(t, "matmul", KindMatMul.String())
	require.Equal(t, "beaver", TagBeaver.String())
}
