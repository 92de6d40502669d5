//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"

	"github.com/markkurossi/mpc/ot"
	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/xerrors"
)

var (
	_ Generator = &OTGenerator{}
)

// OTGenerator generates preprocessing material jointly without a
// dealer. Each party samples its own triple shares a_i and b_i and
// every cross term a_i*b_j is converted into additive shares with
// Gilboa's OT-based multiplication on IKNP extended OTs. The generator
// is secure against semi-honest parties.
type OTGenerator struct {
	eng       *Engine
	rand      io.Reader
	senders   map[int]*otLink
	receivers map[int]*otLink
}

// NewOTGenerator creates an OT-based generator for the engine. The
// engine must be set up before generating material.
func NewOTGenerator(eng *Engine) *OTGenerator {
	return &OTGenerator{
		eng:       eng,
		rand:      rand.Reader,
		senders:   make(map[int]*otLink),
		receivers: make(map[int]*otLink),
	}
}

// MulTriple implements Generator.MulTriple.
func (g *OTGenerator) MulTriple(ctx context.Context, shape field.Shape) (
	*Triple, error) {

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	ring := g.eng.sess.Ring
	a, err := ring.RandomTensor(g.rand, shape)
	if err != nil {
		return nil, err
	}
	b, err := ring.RandomTensor(g.rand, shape)
	if err != nil {
		return nil, err
	}
	c, err := ring.Mul(a, b)
	if err != nil {
		return nil, err
	}

	// One entry per element: the sender vector is [a_t] and the
	// receiver scalar is b_t.
	vecs := make([][]*big.Int, len(a.Values))
	for t, v := range a.Values {
		vecs[t] = []*big.Int{v}
	}
	cross, err := g.crossShares(ctx, vecs, b.Values, 1)
	if err != nil {
		return nil, err
	}
	for t := range c.Values {
		c.Values[t] = ring.AddElem(c.Values[t], cross[t][0])
	}
	return NewTriple(KindMul, a, b, c), nil
}

// MatMulTriple implements Generator.MatMulTriple.
func (g *OTGenerator) MatMulTriple(ctx context.Context, m, k, n int) (
	*Triple, error) {

	if err := (field.Shape{m, k, n}).Validate(); err != nil {
		return nil, err
	}
	ring := g.eng.sess.Ring
	a, err := ring.RandomTensor(g.rand, field.Shape{m, k})
	if err != nil {
		return nil, err
	}
	b, err := ring.RandomTensor(g.rand, field.Shape{k, n})
	if err != nil {
		return nil, err
	}
	c, err := ring.MatMul(a, b)
	if err != nil {
		return nil, err
	}

	// One entry per b[l][col]: the sender vector is the column
	// a[:,l] and the product vector adds to the column c[:,col].
	vecs := make([][]*big.Int, k*n)
	ys := make([]*big.Int, k*n)
	for l := 0; l < k; l++ {
		col := make([]*big.Int, m)
		for r := 0; r < m; r++ {
			col[r] = a.Values[r*k+l]
		}
		for j := 0; j < n; j++ {
			vecs[l*n+j] = col
			ys[l*n+j] = b.Values[l*n+j]
		}
	}
	cross, err := g.crossShares(ctx, vecs, ys, m)
	if err != nil {
		return nil, err
	}
	for l := 0; l < k; l++ {
		for j := 0; j < n; j++ {
			for r := 0; r < m; r++ {
				idx := r*n + j
				c.Values[idx] = ring.AddElem(c.Values[idx], cross[l*n+j][r])
			}
		}
	}
	return NewTriple(KindMatMul, a, b, c), nil
}

// TruncPair implements Generator.TruncPair. Each party samples its
// pair locally with r_i below (Q-2H)/n so the sum r stays below Q-2H.
func (g *OTGenerator) TruncPair(ctx context.Context, shape field.Shape) (
	*TruncPair, error) {

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	sess := g.eng.sess
	limit := new(big.Int).Lsh(sess.Bound(), 1)
	limit.Sub(sess.Ring.Modulus(), limit)
	limit.Div(limit, big.NewInt(int64(sess.NumParties())))

	scale := sess.Codec.Scale()
	r := field.NewTensor(shape)
	rt := field.NewTensor(shape)
	for i := range r.Values {
		v, err := sess.Ring.RandomBelow(g.rand, limit)
		if err != nil {
			return nil, err
		}
		r.Values[i] = v
		rt.Values[i] = new(big.Int).Div(v, scale)
	}
	return NewTruncPair(r, rt), nil
}

// SigmoidShares implements Generator.SigmoidShares. The public
// coefficients are shared with PRSS.
func (g *OTGenerator) SigmoidShares(ctx context.Context,
	shape field.Shape) (*SigmoidShares, error) {

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if g.eng.prss == nil {
		return nil, ErrNotSetup
	}
	encoded, err := sigmoidCoefficients(g.eng.sess.Codec)
	if err != nil {
		return nil, err
	}
	var w []*field.Tensor
	for _, e := range encoded {
		t, err := g.eng.prss.zeroConst(shape, e)
		if err != nil {
			return nil, err
		}
		w = append(w, t)
	}
	return completeSigmoidShares(ctx, g, shape, w)
}

// crossShares computes this party's additive shares of the cross
// terms sum_{i!=j} vecs_i[e]*ys_j[e] for all entries e. The pairwise
// sessions run in the global order of (sender, receiver) pairs so all
// parties make progress.
func (g *OTGenerator) crossShares(ctx context.Context, vecs [][]*big.Int,
	ys []*big.Int, width int) ([][]*big.Int, error) {

	acc := make([][]*big.Int, len(vecs))
	for e := range acc {
		acc[e] = make([]*big.Int, width)
		for r := range acc[e] {
			acc[e][r] = new(big.Int)
		}
	}
	add := func(out [][]*big.Int) {
		for e := range out {
			for r, v := range out[e] {
				acc[e][r] = g.eng.sess.Ring.AddElem(acc[e][r], v)
			}
		}
	}

	self := g.eng.sess.Self.Index
	parties := g.eng.sess.Parties
	for _, sender := range parties {
		for _, receiver := range parties {
			if sender.Index == receiver.Index {
				continue
			}
			switch self {
			case sender.Index:
				out, err := g.gilboaSend(ctx, receiver, vecs)
				if err != nil {
					return nil, err
				}
				add(out)

			case receiver.Index:
				out, err := g.gilboaReceive(ctx, sender, ys, width)
				if err != nil {
					return nil, err
				}
				add(out)
			}
		}
	}
	return acc, nil
}

// otLink holds the IKNP OT extension state for one direction of the
// link to a peer. The base OTs run once when the link is created and
// later sessions only extend.
type otLink struct {
	pio      *comm.PeerIO
	sender   *ot.IKNPSender
	receiver *ot.IKNPReceiver
}

// link returns the OT extension link to peer, creating it with CO
// base OTs on first use. The link's I/O runs under ctx.
func (g *OTGenerator) link(ctx context.Context, peer *comm.Party,
	sender bool) (*otLink, error) {

	links := g.receivers
	if sender {
		links = g.senders
	}
	if l, ok := links[peer.Index]; ok {
		l.pio.SetContext(ctx)
		return l, nil
	}

	l := &otLink{
		pio: comm.NewPeerIO(ctx, g.eng.nw, peer),
	}
	co := ot.NewCO()
	var err error
	if sender {
		if err = co.InitSender(l.pio); err != nil {
			return nil, g.otError(ctx, peer, err)
		}
		l.sender, err = ot.NewIKNPSender(co, l.pio, g.rand, nil)
	} else {
		if err = co.InitReceiver(l.pio); err != nil {
			return nil, g.otError(ctx, peer, err)
		}
		l.receiver, err = ot.NewIKNPReceiver(co, l.pio, g.rand)
	}
	if err != nil {
		return nil, g.otError(ctx, peer, err)
	}
	links[peer.Index] = l

	g.eng.log.Debug().Str("peer", peer.ID).Bool("sender", sender).
		Msg("OT extension ready")

	return l, nil
}

// gilboaSend runs the sender side of Gilboa multiplication with the
// peer. For each entry e and bit k of the receiver's scalar, the
// parties extend one correlated OT. The sender hashes its labels q
// and q^Δ into the pads s0 and s1 and sends the correction
// s0 + x*2^k - s1 so the receiver's choice gives s0 + bit*x*2^k. The
// sender's share is the negated sum of the s0 values.
func (g *OTGenerator) gilboaSend(ctx context.Context, peer *comm.Party,
	vecs [][]*big.Int) ([][]*big.Int, error) {

	ctx, cancel := g.eng.sess.WithTimeout(ctx)
	defer cancel()

	l, err := g.link(ctx, peer, true)
	if err != nil {
		return nil, err
	}

	ring := g.eng.sess.Ring
	bits := ring.Modulus().BitLen()

	q, err := l.sender.Send(len(vecs)*bits, false)
	if err != nil {
		return nil, g.otError(ctx, peer, err)
	}

	elLen := ring.ByteLen()
	out := make([][]*big.Int, len(vecs))
	for e, vec := range vecs {
		width := len(vec)
		out[e] = make([]*big.Int, width)
		for r := range out[e] {
			out[e][r] = new(big.Int)
		}
		corr := make([]byte, bits*width*elLen)
		ofs := 0
		for k := 0; k < bits; k++ {
			idx := e*bits + k
			l1 := q[idx]
			l1.Xor(l.sender.Delta)

			s0 := expandLabel(ring, q[idx], uint64(idx), width)
			s1 := expandLabel(ring, l1, uint64(idx), width)
			pow := ring.Pow2(k)
			for r := 0; r < width; r++ {
				v := ring.MulElem(vec[r], pow)
				v = ring.AddElem(v, s0[r])
				v = ring.SubElem(v, s1[r])
				v.FillBytes(corr[ofs : ofs+elLen])
				ofs += elLen

				out[e][r] = ring.SubElem(out[e][r], s0[r])
			}
		}
		if err := l.pio.SendData(corr); err != nil {
			return nil, g.otError(ctx, peer, err)
		}
	}
	return out, nil
}

// gilboaReceive runs the receiver side of Gilboa multiplication with
// the peer using the bits of ys as choices.
func (g *OTGenerator) gilboaReceive(ctx context.Context, peer *comm.Party,
	ys []*big.Int, width int) ([][]*big.Int, error) {

	ctx, cancel := g.eng.sess.WithTimeout(ctx)
	defer cancel()

	l, err := g.link(ctx, peer, false)
	if err != nil {
		return nil, err
	}

	ring := g.eng.sess.Ring
	bits := ring.Modulus().BitLen()

	flags := make([]bool, len(ys)*bits)
	for e, y := range ys {
		for k := 0; k < bits; k++ {
			flags[e*bits+k] = y.Bit(k) == 1
		}
	}
	labels := make([]ot.Label, len(flags))
	if err := l.receiver.Receive(flags, labels, false); err != nil {
		return nil, g.otError(ctx, peer, err)
	}

	elLen := ring.ByteLen()
	out := make([][]*big.Int, len(ys))
	for e := range ys {
		corr, err := l.pio.ReceiveData()
		if err != nil {
			return nil, g.otError(ctx, peer, err)
		}
		if len(corr) != bits*width*elLen {
			return nil, xerrors.Errorf(
				"spdz: %s: got %d correction bytes, expected %d: %w",
				peer, len(corr), bits*width*elLen, ErrDesync)
		}
		out[e] = make([]*big.Int, width)
		for r := range out[e] {
			out[e][r] = new(big.Int)
		}
		ofs := 0
		for k := 0; k < bits; k++ {
			idx := e*bits + k
			t := expandLabel(ring, labels[idx], uint64(idx), width)
			for r := 0; r < width; r++ {
				v := t[r]
				if flags[idx] {
					c := new(big.Int).SetBytes(corr[ofs : ofs+elLen])
					v = ring.AddElem(v, c)
				}
				ofs += elLen
				out[e][r] = ring.AddElem(out[e][r], v)
			}
		}
	}
	return out, nil
}

func (g *OTGenerator) otError(ctx context.Context, peer *comm.Party,
	err error) error {
	if ctx.Err() != nil {
		return comm.ContextError(ctx, peer)
	}
	return xerrors.Errorf("spdz: OT with %s: %w", peer, err)
}

// expandLabel hashes the OT label into n ring elements with ChaCha20.
// The OT index is the nonce so equal labels at different indices give
// unrelated pads.
func expandLabel(ring *field.Ring, l ot.Label, idx uint64,
	n int) []*big.Int {

	var data ot.LabelData
	l.GetData(&data)

	key := make([]byte, chacha20.KeySize)
	for i := range key {
		key[i] = data[i%len(data)]
	}
	nonce := make([]byte, chacha20.NonceSize)
	bo.PutUint64(nonce[chacha20.NonceSize-8:], idx)
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		panic(err)
	}

	elLen := ring.ByteLen() + 8
	stream := make([]byte, n*elLen)
	c.XORKeyStream(stream, stream)

	result := make([]*big.Int, n)
	for i := range result {
		result[i] = ring.FromBytes(stream[i*elLen : (i+1)*elLen])
	}
	return result
}
