//
// Copyright (c) 2023-2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/markkurossi/spdz/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	cfgPath string
)

func main() {
	command := &cobra.Command{
		Use:           "spdz",
		Short:         "SPDZ secure arithmetic engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	command.PersistentFlags().StringVarP(&cfgPath, "config", "c", "",
		"session configuration file")

	addDemoCmd(command)
	addPartyCmd(command)
	addBrokerCmd(command)

	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spdz: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
	}).Level(level).With().Timestamp().Logger()
}

// loadConfig loads the session configuration from the --config file
// or creates the default configuration for the party IDs.
func loadConfig(ids ...string) (*session.Config, error) {
	if len(cfgPath) == 0 {
		return session.DefaultConfig(ids...), nil
	}
	return session.LoadConfig(cfgPath)
}
