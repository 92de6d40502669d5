//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/markkurossi/spdz/comm/direct"
	"github.com/markkurossi/spdz/crypto/spdz"
	"github.com/markkurossi/spdz/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testWorkload() *Workload {
	return &Workload{
		Dim: 3,
		X:   []float64{0.5, -0.25, 0.75},
		W:   []float64{-0.5, 0.8, 0.9},
	}
}

func TestParseValues(t *testing.T) {
	v, err := parseValues("1, -2.5,3e-1")
	require.NoError(t, err)
	require.Equal(t, []float64{1, -2.5, 0.3}, v)

	_, err = parseValues("1,x")
	require.Error(t, err)
}

func TestDemo(t *testing.T) {
	for _, transport := range []string{"direct", "broker"} {
		for _, triples := range []string{session.TriplesDealer,
			session.TriplesOT} {

			cfg := session.DefaultConfig("alice", "bob", "carol")
			cfg.Triples = triples
			err := runDemo(context.Background(), zerolog.Nop(), cfg,
				transport, testWorkload())
			require.NoError(t, err, "%s/%s", transport, triples)
		}
	}
	err := runDemo(context.Background(), zerolog.Nop(),
		session.DefaultConfig("alice", "bob"), "smoke", testWorkload())
	require.Error(t, err)
}

func TestWorkloadNetworkDealer(t *testing.T) {
	cfg := session.DefaultConfig("p0", "p1", "p2")
	wl := testWorkload()

	var sessions []*session.Session
	for _, id := range cfg.PartyIDs() {
		sess, err := session.New(cfg, id)
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}
	nws, err := direct.Mesh(sessions[0].Parties)
	require.NoError(t, err)

	results := make([]*Result, len(sessions))
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Go(func() {
			defer nws[i].Close()

			pool := spdz.NewPool()
			eng := spdz.NewEngine(sess, nws[i], pool, zerolog.Nop())
			ctx := context.Background()
			if err := eng.Setup(ctx); err != nil {
				errs[i] = err
				return
			}
			err := wl.Provision(ctx, pool, newGenerator(sess, eng))
			if err != nil {
				errs[i] = err
				return
			}
			local := &Workload{
				Dim: wl.Dim,
			}
			switch i {
			case 0:
				local.X = wl.X
			case 1:
				local.W = wl.W
			}
			results[i], errs[i] = local.Run(ctx, eng)
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	expected := wl.Expected()
	check := func(want, got []float64) {
		require.Len(t, got, len(want))
		for i := range want {
			if math.Abs(want[i]-got[i]) > 1e-2 {
				t.Errorf("got %v, expected %v", got, want)
			}
		}
	}
	for _, r := range results {
		check(expected.Product, r.Product)
		check(expected.Sigmoid, r.Sigmoid)
		check(expected.Grad, r.Grad)
		check(expected.Dot, r.Dot)
	}
}
