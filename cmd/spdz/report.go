//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package main

import (
	"fmt"
	"math"
	"os"

	"github.com/markkurossi/tabulate"
	"github.com/montanaflynn/stats"
)

func printResult(expected, got *Result) {
	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Value").SetAlign(tabulate.ML)
	tab.Header("Index").SetAlign(tabulate.MR)
	tab.Header("Plaintext").SetAlign(tabulate.MR)
	tab.Header("Secure").SetAlign(tabulate.MR)
	tab.Header("Error").SetAlign(tabulate.MR)

	var errs []float64
	add := func(name string, want, have []float64) {
		for i := range want {
			e := math.Abs(want[i] - have[i])
			errs = append(errs, e)

			row := tab.Row()
			row.Column(name)
			row.Column(fmt.Sprintf("%d", i))
			row.Column(fmt.Sprintf("%.6f", want[i]))
			row.Column(fmt.Sprintf("%.6f", have[i]))
			row.Column(fmt.Sprintf("%.2e", e))
		}
	}
	add("x*w", expected.Product, got.Product)
	add("sigmoid", expected.Sigmoid, got.Sigmoid)
	add("d/dw", expected.Grad, got.Grad)
	add("x.w", expected.Dot, got.Dot)
	tab.Print(os.Stdout)

	mean, _ := stats.Mean(errs)
	median, _ := stats.Median(errs)
	max, _ := stats.Max(errs)
	stddev, _ := stats.StandardDeviation(errs)

	tab = tabulate.New(tabulate.UnicodeLight)
	tab.Header("Error").SetAlign(tabulate.ML)
	tab.Header("Value").SetAlign(tabulate.MR)
	for _, s := range []struct {
		name  string
		value float64
	}{
		{"Mean", mean},
		{"Median", median},
		{"Max", max},
		{"StdDev", stddev},
	} {
		row := tab.Row()
		row.Column(s.name)
		row.Column(fmt.Sprintf("%.2e", s.value))
	}
	tab.Print(os.Stdout)
}

func printStats(parties []*demoParty) {
	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Party").SetAlign(tabulate.ML)
	tab.Header("Msgs Sent").SetAlign(tabulate.MR)
	tab.Header("Msgs Rcvd").SetAlign(tabulate.MR)
	tab.Header("Bytes Sent").SetAlign(tabulate.MR)
	tab.Header("Bytes Rcvd").SetAlign(tabulate.MR)
	tab.Header("Muls").SetAlign(tabulate.MR)
	tab.Header("Opens").SetAlign(tabulate.MR)

	for _, p := range parties {
		sent, rcvd := p.counter.Messages()
		st := p.eng.Stats()

		row := tab.Row()
		row.Column(p.sess.Self.ID)
		row.Column(fmt.Sprintf("%d", sent))
		row.Column(fmt.Sprintf("%d", rcvd))
		row.Column(fmt.Sprintf("%d", p.counter.Stats.Sent.Load()))
		row.Column(fmt.Sprintf("%d", p.counter.Stats.Recvd.Load()))
		row.Column(fmt.Sprintf("%d", st.Muls+st.MatMuls))
		row.Column(fmt.Sprintf("%d", st.Opens))
	}
	tab.Print(os.Stdout)
}
