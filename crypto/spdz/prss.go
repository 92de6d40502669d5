//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/crypto/field"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"
	"golang.org/x/xerrors"
)

// SeedLen defines the length of the pairwise PRSS seeds.
const SeedLen = 32

// PRSS implements pseudo-random secret sharing of zero. Each pair of
// parties shares a PRNG seed. Party i adds the PRNG outputs it shares
// with higher-indexed parties and subtracts the outputs it shares with
// lower-indexed parties so the shares of all parties sum to zero.
type PRSS struct {
	ring  *field.Ring
	self  int
	prngs []*sampling.KeyedPRNG
}

// setupPRSS agrees on the pairwise seeds with all peers. For each
// pair, the lower-indexed party samples the seed.
func setupPRSS(ctx context.Context, ch *channel, self *comm.Party) (
	*PRSS, error) {

	parties := ch.nw.Parties()
	seeds := make([][]byte, len(parties))

	for _, peer := range parties[self.Index+1:] {
		seed := make([]byte, SeedLen)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
		seeds[peer.Index] = seed
		if err := ch.sendData(ctx, peer, TagPRSS, seed); err != nil {
			return nil, err
		}
	}
	for _, peer := range parties[:self.Index] {
		seed, err := ch.recvData(ctx, peer, TagPRSS)
		if err != nil {
			return nil, err
		}
		if len(seed) != SeedLen {
			return nil, xerrors.Errorf("spdz: %s: invalid PRSS seed: %w",
				peer, ErrDesync)
		}
		seeds[peer.Index] = seed
	}
	return NewPRSS(ch.ring, self.Index, seeds)
}

// NewPRSS creates a PRSS from the pairwise seeds indexed by peer.
func NewPRSS(ring *field.Ring, self int, seeds [][]byte) (*PRSS, error) {
	prss := &PRSS{
		ring:  ring,
		self:  self,
		prngs: make([]*sampling.KeyedPRNG, len(seeds)),
	}
	for i, seed := range seeds {
		if i == self {
			continue
		}
		prng, err := sampling.NewKeyedPRNG(seed)
		if err != nil {
			return nil, err
		}
		prss.prngs[i] = prng
	}
	return prss, nil
}

// ZeroShare returns this party's share of a zero tensor. All parties
// must call ZeroShare in the same order with the same shapes.
func (prss *PRSS) ZeroShare(shape field.Shape) (*field.Tensor, error) {
	result := prss.ring.Zero(shape)
	buf := make([]byte, prss.ring.ByteLen()+8)

	for peer, prng := range prss.prngs {
		if prng == nil {
			continue
		}
		for i := range result.Values {
			if _, err := prng.Read(buf); err != nil {
				return nil, err
			}
			v := prss.ring.FromBytes(buf)
			if peer > prss.self {
				result.Values[i] = prss.ring.AddElem(result.Values[i], v)
			} else {
				result.Values[i] = prss.ring.SubElem(result.Values[i], v)
			}
		}
	}
	return result, nil
}

// Rerandomize adds a share of zero to x.
func (prss *PRSS) Rerandomize(x *field.Tensor) (*field.Tensor, error) {
	zero, err := prss.ZeroShare(x.Shape)
	if err != nil {
		return nil, err
	}
	return prss.ring.Add(x, zero)
}

// zeroConst returns this party's PRSS share of the public constant c.
func (prss *PRSS) zeroConst(shape field.Shape, c *big.Int) (
	*field.Tensor, error) {

	zero, err := prss.ZeroShare(shape)
	if err != nil {
		return nil, err
	}
	if prss.self != 0 {
		return zero, nil
	}
	return prss.ring.Add(zero, prss.ring.Const(shape, c))
}
