//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"net"

	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/comm/broker"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func addBrokerCmd(command *cobra.Command) {
	brokerCmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the session message broker",
		Long: "Run the message broker that relays protocol messages " +
			"between the parties of the session",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfgPath) == 0 {
				return xerrors.New("no session configuration")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(cfg.Broker) == 0 {
				return xerrors.New("no broker address in configuration")
			}
			parties, err := comm.NewParties(cfg.PartyIDs())
			if err != nil {
				return err
			}
			log := newLogger()
			hub := broker.NewHub(parties, log)

			ln, err := net.Listen("tcp", cfg.Broker)
			if err != nil {
				return err
			}
			log.Info().Str("addr", cfg.Broker).Int("parties", len(parties)).
				Msg("broker running")
			for {
				nc, err := ln.Accept()
				if err != nil {
					return err
				}
				log.Debug().Str("remote", nc.RemoteAddr().String()).
					Msg("new connection")
				go func() {
					if err := hub.ServeConn(p2p.NewConn(nc)); err != nil {
						log.Warn().Err(err).Msg("serve")
					}
				}()
			}
		},
	}
	command.AddCommand(brokerCmd)
}
