//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

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

func addPartyCmd(command *cobra.Command) {
	var id string
	var dim int
	var values string

	partyCmd := &cobra.Command{
		Use:   "party",
		Short: "Run one party of a session",
		Long: "Run one party of a session. The party connects to its " +
			"peers directly or through the session broker. Party 0 " +
			"provides the inputs x and party 1 the weights w.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfgPath) == 0 {
				return xerrors.New("no session configuration")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sess, err := session.New(cfg, id)
			if err != nil {
				return err
			}
			wl := &Workload{
				Dim: dim,
			}
			if len(values) > 0 {
				v, err := parseValues(values)
				if err != nil {
					return err
				}
				if len(v) != dim {
					return xerrors.Errorf("got %d values, expected %d",
						len(v), dim)
				}
				switch sess.Self.Index {
				case 0:
					wl.X = v
				case 1:
					wl.W = v
				}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runParty(ctx, newLogger(), cfg, sess, wl)
		},
	}
	partyCmd.Flags().StringVar(&id, "id", "", "party ID")
	partyCmd.Flags().IntVar(&dim, "dim", 4, "input vector dimension")
	partyCmd.Flags().StringVar(&values, "values", "",
		"comma-separated input values")
	partyCmd.MarkFlagRequired("id")

	command.AddCommand(partyCmd)
}

func parseValues(val string) ([]float64, error) {
	var result []float64
	for _, part := range strings.Split(val, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func runParty(ctx context.Context, log zerolog.Logger, cfg *session.Config,
	sess *session.Session, wl *Workload) error {

	log = log.With().Str("party", sess.Self.ID).Logger()

	nw, err := connect(ctx, cfg, sess)
	if err != nil {
		return err
	}
	defer nw.Close()

	counter := comm.NewCounter(nw)
	pool := spdz.NewPool()
	eng := spdz.NewEngine(sess, counter, pool, log)

	if err := eng.Setup(ctx); err != nil {
		return err
	}
	log.Info().Str("session", sess.String()).Msg("connected")

	if err := wl.Provision(ctx, pool, newGenerator(sess, eng)); err != nil {
		return err
	}
	log.Info().Str("triples", sess.Triples).Msg("preprocessed")

	result, err := wl.Run(ctx, eng)
	if err != nil {
		return err
	}
	sent, rcvd := counter.Messages()
	log.Info().Uint64("sent", sent).Uint64("received", rcvd).
		Uint64("bytes", counter.Stats.Sum()).Msg("done")

	fmt.Printf("x*w:     %v\n", result.Product)
	fmt.Printf("sigmoid: %v\n", result.Sigmoid)
	fmt.Printf("d/dw:    %v\n", result.Grad)
	fmt.Printf("x.w:     %v\n", result.Dot)
	return nil
}

// connect creates the party's network. With a broker address the
// party attaches to the broker; otherwise it connects directly to all
// peers.
func connect(ctx context.Context, cfg *session.Config,
	sess *session.Session) (comm.Network, error) {

	if len(cfg.Broker) > 0 {
		nc, err := net.Dial("tcp", cfg.Broker)
		if err != nil {
			return nil, xerrors.Errorf("broker %s: %v: %w", cfg.Broker, err,
				comm.ErrPeerUnavailable)
		}
		return broker.Dial(p2p.NewConn(nc), sess.Self, sess.Parties)
	}

	addrs := cfg.Addrs()
	addr, ok := addrs[sess.Self.ID]
	if !ok {
		return nil, xerrors.Errorf("no address for %s", sess.Self)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	return direct.Connect(ctx, ln, sess.Self, sess.Parties, addrs)
}
