//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/markkurossi/mpc/circuit"
	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/comm/broker"
	"github.com/markkurossi/spdz/comm/direct"
	"github.com/markkurossi/spdz/crypto/spdz"
	"github.com/markkurossi/spdz/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

type demoParty struct {
	sess    *session.Session
	counter *comm.Counter
	pool    *spdz.Pool
	eng     *spdz.Engine
	result  *Result
}

func addDemoCmd(command *cobra.Command) {
	var numParties int
	var dim int
	var transport string
	var triples string
	var seed uint64

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run all parties in one process",
		Long: "Run all parties in one process and compare the secure " +
			"results against plaintext computation",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			for i := 0; i < numParties; i++ {
				ids = append(ids, fmt.Sprintf("p%d", i))
			}
			cfg, err := loadConfig(ids...)
			if err != nil {
				return err
			}
			if len(triples) > 0 {
				cfg.Triples = triples
			}

			rnd := rand.New(rand.NewPCG(seed, seed))
			wl := &Workload{
				Dim: dim,
			}
			for i := 0; i < dim; i++ {
				wl.X = append(wl.X, rnd.Float64()*2-1)
				wl.W = append(wl.W, rnd.Float64()*2-1)
			}
			return runDemo(cmd.Context(), newLogger(), cfg, transport, wl)
		},
	}
	demoCmd.Flags().IntVarP(&numParties, "parties", "n", 3,
		"number of parties")
	demoCmd.Flags().IntVar(&dim, "dim", 4, "input vector dimension")
	demoCmd.Flags().StringVar(&transport, "transport", "direct",
		"transport: direct or broker")
	demoCmd.Flags().StringVar(&triples, "triples", "",
		"preprocessing: dealer or ot")
	demoCmd.Flags().Uint64Var(&seed, "seed", 42, "input random seed")

	command.AddCommand(demoCmd)
}

func runDemo(ctx context.Context, log zerolog.Logger, cfg *session.Config,
	transport string, wl *Workload) error {

	if ctx == nil {
		ctx = context.Background()
	}
	timing := circuit.NewTiming()

	var parties []*demoParty
	for _, id := range cfg.PartyIDs() {
		sess, err := session.New(cfg, id)
		if err != nil {
			return err
		}
		parties = append(parties, &demoParty{
			sess: sess,
			pool: spdz.NewPool(),
		})
	}
	all := parties[0].sess.Parties

	var nws []comm.Network
	switch transport {
	case "direct":
		mesh, err := direct.Mesh(all)
		if err != nil {
			return err
		}
		for _, nw := range mesh {
			nws = append(nws, nw)
		}

	case "broker":
		hub := broker.NewHub(all, log)
		for _, p := range all {
			ep, err := hub.Attach(p)
			if err != nil {
				return err
			}
			nws = append(nws, ep)
		}

	default:
		return xerrors.Errorf("unknown transport: %s", transport)
	}
	defer func() {
		for _, nw := range nws {
			nw.Close()
		}
	}()

	for i, p := range parties {
		p.counter = comm.NewCounter(nws[i])
		p.eng = spdz.NewEngine(p.sess, p.counter, p.pool, log)
	}
	log.Info().Str("session", parties[0].sess.String()).
		Str("transport", transport).Msg("demo")

	err := runAll(parties, func(p *demoParty) error {
		return p.eng.Setup(ctx)
	})
	if err != nil {
		return err
	}
	timing.Sample("Setup", []string{xfer(parties)})

	if cfg.Triples == session.TriplesOT {
		err = runAll(parties, func(p *demoParty) error {
			return wl.Provision(ctx, p.pool, spdz.NewOTGenerator(p.eng))
		})
	} else {
		dealer := spdz.NewDealer(parties[0].sess)
		pools := make([]*spdz.Pool, len(parties))
		for i, p := range parties {
			pools[i] = p.pool
		}
		for _, req := range wl.Requests() {
			if err = dealer.Provision(pools, req); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}
	timing.Sample("Preprocess", []string{xfer(parties)})

	err = runAll(parties, func(p *demoParty) error {
		var err error
		p.result, err = wl.Run(ctx, p.eng)
		return err
	})
	if err != nil {
		return err
	}
	timing.Sample("Online", []string{xfer(parties)})

	printResult(wl.Expected(), parties[0].result)

	stats := p2p.NewIOStats()
	for _, p := range parties {
		stats = stats.Add(p.counter.Stats)
	}
	timing.Print(stats)
	printStats(parties)

	return nil
}

func runAll(parties []*demoParty, fn func(p *demoParty) error) error {
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
			return xerrors.Errorf("party %d: %w", i, err)
		}
	}
	return nil
}

// xfer returns the bytes sent by all parties so far.
func xfer(parties []*demoParty) string {
	var sent uint64
	for _, p := range parties {
		sent += p.counter.Stats.Sent.Load()
	}
	return circuit.FileSize(sent).String()
}
