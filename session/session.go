//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package session holds the immutable parameters all parties of a
// secure computation share: the ring, the fixed-point codec, the
// ordered party set, and the protocol timeouts.
package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/crypto/fixedpoint"
	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
)

var (
	bo = binary.BigEndian

	// ErrPrecisionMismatch is returned when the parties disagree on
	// the session parameters.
	ErrPrecisionMismatch = xerrors.New("session: parameter mismatch")
)

// Session defines the shared parameters of a computation.
type Session struct {
	Ring         *field.Ring
	Codec        *fixedpoint.Codec
	Parties      comm.Parties
	Self         *comm.Party
	StatSecurity int
	Timeout      time.Duration
	Triples      string
	Dealer       *comm.Party

	bound       *big.Int
	fingerprint [32]byte
}

// New creates the session for the local party self from the
// configuration.
func New(cfg *Config, self string) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q, err := ParseModulus(cfg.Modulus)
	if err != nil {
		return nil, err
	}
	ring, err := field.NewRing(q)
	if err != nil {
		return nil, err
	}
	codec, err := fixedpoint.New(ring, cfg.Base, cfg.Precision)
	if err != nil {
		return nil, err
	}
	parties, err := comm.NewParties(cfg.PartyIDs())
	if err != nil {
		return nil, err
	}
	party, err := parties.Lookup(self)
	if err != nil {
		return nil, err
	}

	// H = S * floor(Q / (2^(σ+1) * S))
	scale := codec.Scale()
	div := new(big.Int).Lsh(scale, uint(cfg.StatSecurity+1))
	bound := new(big.Int).Div(q, div)
	bound.Mul(bound, scale)
	if bound.Cmp(scale) <= 0 {
		return nil, xerrors.Errorf(
			"truncation bound %v with stat_security %d: %w",
			bound, cfg.StatSecurity, ErrInvalidConfig)
	}

	s := &Session{
		Ring:         ring,
		Codec:        codec,
		Parties:      parties,
		Self:         party,
		StatSecurity: cfg.StatSecurity,
		Timeout:      cfg.Timeout,
		Triples:      cfg.Triples,
		bound:        bound,
	}
	if len(cfg.Dealer) > 0 {
		s.Dealer, err = parties.Lookup(cfg.Dealer)
		if err != nil {
			return nil, err
		}
	} else {
		s.Dealer = parties[0]
	}
	s.fingerprint = s.computeFingerprint()

	return s, nil
}

// NumParties returns the number of parties.
func (s *Session) NumParties() int {
	return len(s.Parties)
}

// Bound returns the truncation bound H. Values passed to secure
// truncation must have absolute value below H.
func (s *Session) Bound() *big.Int {
	return new(big.Int).Set(s.bound)
}

// MaxProduct returns the largest absolute real value a product may
// have before truncation.
func (s *Session) MaxProduct() float64 {
	return s.Codec.DecodeScaled(s.bound, new(big.Int).Mul(s.Codec.Scale(),
		s.Codec.Scale()))
}

// WithTimeout returns a context bounded by the session timeout.
func (s *Session) WithTimeout(ctx context.Context) (
	context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Timeout)
}

// Fingerprint returns the session parameter digest.
func (s *Session) Fingerprint() [32]byte {
	return s.fingerprint
}

func (s *Session) computeFingerprint() [32]byte {
	h := blake3.New()

	var buf [4]byte
	writeData := func(data []byte) {
		bo.PutUint32(buf[:], uint32(len(data)))
		h.Write(buf[:])
		h.Write(data)
	}
	writeInt := func(v int) {
		bo.PutUint32(buf[:], uint32(v))
		h.Write(buf[:])
	}

	writeData(s.Ring.Modulus().Bytes())
	writeInt(s.Codec.Base())
	writeInt(s.Codec.Precision())
	writeInt(s.StatSecurity)
	writeData([]byte(s.Triples))
	writeData([]byte(s.Dealer.ID))
	writeInt(len(s.Parties))
	for _, p := range s.Parties {
		writeData([]byte(p.ID))
	}

	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

func (s *Session) String() string {
	return fmt.Sprintf("Q=%s, S=%d^%d, σ=%d, parties=%v",
		FormatModulus(s.Ring.Modulus()), s.Codec.Base(), s.Codec.Precision(),
		s.StatSecurity, s.Parties.IDs())
}

// Handshake exchanges the session fingerprints with all peers. It
// returns ErrPrecisionMismatch if any peer has different parameters.
func (s *Session) Handshake(ctx context.Context, nw comm.Network) error {
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	peers := s.Parties.Others(s.Self.Index)
	for _, peer := range peers {
		if err := nw.Send(ctx, peer, s.fingerprint[:]); err != nil {
			return err
		}
	}
	var mismatch []string
	for _, peer := range peers {
		data, err := nw.Recv(ctx, peer)
		if err != nil {
			return err
		}
		if !bytes.Equal(data, s.fingerprint[:]) {
			mismatch = append(mismatch, peer.ID)
		}
	}
	if len(mismatch) > 0 {
		return xerrors.Errorf("session: peers %v: %w", mismatch,
			ErrPrecisionMismatch)
	}
	return nil
}
