//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/crypto/field"
	"github.com/markkurossi/spdz/session"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// OpState defines the states of interactive operations.
type OpState int

// Operation states. An operation moves forward through the states
// and ends in StateDone or StateAborted.
const (
	StatePending OpState = iota
	StateTripleAcquired
	StateBlinded
	StateOpened
	StateCombined
	StateTruncated
	StateDone
	StateAborted
)

var opStateNames = map[OpState]string{
	StatePending:        "pending",
	StateTripleAcquired: "triple-acquired",
	StateBlinded:        "blinded",
	StateOpened:         "opened",
	StateCombined:       "combined",
	StateTruncated:      "truncated",
	StateDone:           "done",
	StateAborted:        "aborted",
}

func (s OpState) String() string {
	name, ok := opStateNames[s]
	if ok {
		return name
	}
	return fmt.Sprintf("{OpState %d}", s)
}

// Operation tracks one interactive operation.
type Operation struct {
	ID    xid.ID
	Name  string
	State OpState
	Err   error

	log zerolog.Logger
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s[%s]: %v", op.Name, op.ID, op.State)
}

func (op *Operation) advance(state OpState) {
	if state <= op.State {
		panic(fmt.Sprintf("spdz: %s: invalid transition %v->%v",
			op.Name, op.State, state))
	}
	op.State = state
	op.log.Debug().Str("state", state.String()).Msg("advance")
}

// Stats holds engine operation counters.
type Stats struct {
	Inputs   uint64
	Opens    uint64
	Muls     uint64
	MatMuls  uint64
	Truncs   uint64
	Sigmoids uint64
}

// Engine implements the secure operations of one party. The engine
// is not safe for concurrent use and all parties must invoke the
// collective operations in the same order.
type Engine struct {
	sess  *session.Session
	nw    comm.Network
	pool  *Pool
	log   zerolog.Logger
	ch    *channel
	prss  *PRSS
	rand  io.Reader
	last  *Operation
	stats Stats
}

// NewEngine creates a new engine for the local party of the session.
// The pool provides the preprocessing material for the Mul, MatMul,
// Truncate, and Sigmoid operations.
func NewEngine(sess *session.Session, nw comm.Network, pool *Pool,
	log zerolog.Logger) *Engine {

	return &Engine{
		sess: sess,
		nw:   nw,
		pool: pool,
		log:  log.With().Str("party", sess.Self.ID).Logger(),
		ch:   newChannel(nw, sess.Ring),
		rand: rand.Reader,
	}
}

// Setup verifies that all parties use the same session parameters
// and agrees on the pairwise PRSS seeds.
func (eng *Engine) Setup(ctx context.Context) error {
	if err := eng.sess.Handshake(ctx, eng.nw); err != nil {
		return err
	}
	ctx, cancel := eng.sess.WithTimeout(ctx)
	defer cancel()

	prss, err := setupPRSS(ctx, eng.ch, eng.sess.Self)
	if err != nil {
		return err
	}
	eng.prss = prss
	eng.log.Debug().Str("session", eng.sess.String()).Msg("setup")
	return nil
}

// Session returns the engine's session.
func (eng *Engine) Session() *session.Session {
	return eng.sess
}

// Network returns the engine's network.
func (eng *Engine) Network() comm.Network {
	return eng.nw
}

// Pool returns the engine's preprocessing pool.
func (eng *Engine) Pool() *Pool {
	return eng.pool
}

// Self returns the local party index.
func (eng *Engine) Self() int {
	return eng.sess.Self.Index
}

// Stats returns the operation counters.
func (eng *Engine) Stats() Stats {
	return eng.stats
}

// LastOperation returns the most recent interactive operation.
func (eng *Engine) LastOperation() *Operation {
	return eng.last
}

func (eng *Engine) begin(name string) *Operation {
	id := xid.New()
	op := &Operation{
		ID:    id,
		Name:  name,
		State: StatePending,
		log: eng.log.With().Str("op", name).Str("id", id.String()).
			Logger(),
	}
	eng.last = op
	op.log.Debug().Msg("begin")
	return op
}

func (eng *Engine) finish(op *Operation, err error) error {
	if err != nil {
		op.State = StateAborted
		op.Err = err
		op.log.Warn().Err(err).Msg("aborted")
		return err
	}
	op.advance(StateDone)
	return nil
}

func (eng *Engine) share(v *field.Tensor) *Share {
	return NewShare(eng.sess.Self.Index, v)
}

// Add adds the shares locally.
func (eng *Engine) Add(x, y *Share) (*Share, error) {
	v, err := eng.sess.Ring.Add(x.Value, y.Value)
	if err != nil {
		return nil, err
	}
	return eng.share(v), nil
}

// Sub subtracts the shares locally.
func (eng *Engine) Sub(x, y *Share) (*Share, error) {
	v, err := eng.sess.Ring.Sub(x.Value, y.Value)
	if err != nil {
		return nil, err
	}
	return eng.share(v), nil
}

// Neg negates the share locally.
func (eng *Engine) Neg(x *Share) *Share {
	return eng.share(eng.sess.Ring.Neg(x.Value))
}

// Scale multiplies the share with the public integer c. The result
// has the same fixed-point scale as x.
func (eng *Engine) Scale(x *Share, c int64) *Share {
	return eng.share(eng.sess.Ring.Scale(x.Value, big.NewInt(c)))
}

// PublicAdd adds the public real value c to the shared value.
func (eng *Engine) PublicAdd(x *Share, c float64) (*Share, error) {
	e, err := eng.sess.Codec.Encode(c)
	if err != nil {
		return nil, err
	}
	return PublicAdd(eng.sess.Ring, x, e), nil
}

// PublicAddTensor adds the public encoded tensor c to the shared
// value.
func (eng *Engine) PublicAddTensor(x *Share, c *field.Tensor) (
	*Share, error) {
	return PublicAddTensor(eng.sess.Ring, x, c)
}

// Transpose transposes the shared matrix locally.
func (eng *Engine) Transpose(x *Share) (*Share, error) {
	v, err := eng.sess.Ring.Transpose(x.Value)
	if err != nil {
		return nil, err
	}
	return eng.share(v), nil
}

// Zero returns a share of the public zero tensor.
func (eng *Engine) Zero(shape field.Shape) *Share {
	return eng.share(eng.sess.Ring.Zero(shape))
}

// Constant returns a share of the public value c in every element.
func (eng *Engine) Constant(shape field.Shape, c float64) (*Share, error) {
	return eng.PublicAdd(eng.Zero(shape), c)
}

// Input shares the owner's secret value with all parties. The owner
// passes its encoded value; other parties pass nil. All parties pass
// the value shape.
func (eng *Engine) Input(ctx context.Context, owner int,
	value *field.Tensor, shape field.Shape) (*Share, error) {

	if owner < 0 || owner >= eng.sess.NumParties() {
		return nil, xerrors.Errorf("spdz: input owner %d: %w", owner,
			comm.ErrUnknownParty)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	op := eng.begin("input")
	eng.stats.Inputs++

	ctx, cancel := eng.sess.WithTimeout(ctx)
	defer cancel()

	self := eng.sess.Self.Index
	if self != owner {
		t, err := eng.ch.recvShaped(ctx, eng.sess.Parties[owner], TagInput,
			shape)
		if err != nil {
			return nil, eng.finish(op, err)
		}
		return eng.share(t[0]), eng.finish(op, nil)
	}

	if value == nil || !value.Shape.Equal(shape) {
		return nil, eng.finish(op, xerrors.Errorf("spdz: input %v: %w",
			shape, ErrShapeMismatch))
	}
	shares, err := Split(eng.sess.Ring, eng.rand, value, eng.sess.NumParties())
	if err != nil {
		return nil, eng.finish(op, err)
	}
	for _, p := range eng.sess.Parties.Others(self) {
		if err := eng.ch.send(ctx, p, TagInput, shares[p.Index]); err != nil {
			return nil, eng.finish(op, err)
		}
	}
	return eng.share(shares[self]), eng.finish(op, nil)
}

// InputValues encodes the owner's real values and shares them with
// all parties. Non-owners pass nil values.
func (eng *Engine) InputValues(ctx context.Context, owner int,
	values []float64, shape field.Shape) (*Share, error) {

	var value *field.Tensor
	if eng.sess.Self.Index == owner {
		var err error
		value, err = eng.sess.Codec.EncodeTensor(shape, values)
		if err != nil {
			return nil, err
		}
	}
	return eng.Input(ctx, owner, value, shape)
}

// exchange sends the tensors to all peers and receives the peers'
// corresponding tensors in one barrier. The result is indexed by
// party.
func (eng *Engine) exchange(ctx context.Context, tag Tag,
	tensors ...*field.Tensor) ([][]*field.Tensor, error) {

	ctx, cancel := eng.sess.WithTimeout(ctx)
	defer cancel()

	self := eng.sess.Self.Index
	peers := eng.sess.Parties.Others(self)

	for _, p := range peers {
		if err := eng.ch.send(ctx, p, tag, tensors...); err != nil {
			return nil, err
		}
	}
	shapes := make([]field.Shape, len(tensors))
	for i, t := range tensors {
		shapes[i] = t.Shape
	}
	result := make([][]*field.Tensor, eng.sess.NumParties())
	result[self] = tensors
	for _, p := range peers {
		t, err := eng.ch.recvShaped(ctx, p, tag, shapes...)
		if err != nil {
			return nil, err
		}
		result[p.Index] = t
	}
	return result, nil
}

// open reconstructs the tensors in one barrier.
func (eng *Engine) open(ctx context.Context, tag Tag,
	tensors ...*field.Tensor) ([]*field.Tensor, error) {

	all, err := eng.exchange(ctx, tag, tensors...)
	if err != nil {
		return nil, err
	}
	result := make([]*field.Tensor, len(tensors))
	for i := range tensors {
		parts := make([]*field.Tensor, len(all))
		for p := range all {
			parts[p] = all[p][i]
		}
		result[i], err = eng.sess.Ring.Sum(parts...)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Open reconstructs the shared value at all parties.
func (eng *Engine) Open(ctx context.Context, x *Share) (
	*field.Tensor, error) {

	op := eng.begin("open")
	eng.stats.Opens++

	result, err := eng.open(ctx, TagOpen, x.Value)
	if err != nil {
		return nil, eng.finish(op, err)
	}
	op.advance(StateOpened)
	return result[0], eng.finish(op, nil)
}

// OpenTo reconstructs the shared value only at the receiver parties.
// Receivers get the value and other parties get nil.
func (eng *Engine) OpenTo(ctx context.Context, x *Share,
	receivers ...int) (*field.Tensor, error) {

	n := eng.sess.NumParties()
	isReceiver := make([]bool, n)
	for _, r := range receivers {
		if r < 0 || r >= n {
			return nil, xerrors.Errorf("spdz: receiver %d: %w", r,
				comm.ErrUnknownParty)
		}
		isReceiver[r] = true
	}

	op := eng.begin("open-to")
	eng.stats.Opens++

	ctx, cancel := eng.sess.WithTimeout(ctx)
	defer cancel()

	self := eng.sess.Self.Index
	for _, p := range eng.sess.Parties.Others(self) {
		if !isReceiver[p.Index] {
			continue
		}
		if err := eng.ch.send(ctx, p, TagOpen, x.Value); err != nil {
			return nil, eng.finish(op, err)
		}
	}
	if !isReceiver[self] {
		return nil, eng.finish(op, nil)
	}

	parts := []*field.Tensor{x.Value}
	for _, p := range eng.sess.Parties.Others(self) {
		t, err := eng.ch.recvShaped(ctx, p, TagOpen, x.Value.Shape)
		if err != nil {
			return nil, eng.finish(op, err)
		}
		parts = append(parts, t[0])
	}
	result, err := eng.sess.Ring.Sum(parts...)
	if err != nil {
		return nil, eng.finish(op, err)
	}
	op.advance(StateOpened)
	return result, eng.finish(op, nil)
}

// SwapShares exchanges this party's share of x with the peer and
// returns the peer's share. Both parties must call SwapShares.
func (eng *Engine) SwapShares(ctx context.Context, x *Share, peer int) (
	*field.Tensor, error) {

	if peer < 0 || peer >= eng.sess.NumParties() ||
		peer == eng.sess.Self.Index {
		return nil, xerrors.Errorf("spdz: swap with %d: %w", peer,
			comm.ErrUnknownParty)
	}
	op := eng.begin("swap")

	ctx, cancel := eng.sess.WithTimeout(ctx)
	defer cancel()

	p := eng.sess.Parties[peer]
	if err := eng.ch.send(ctx, p, TagSwap, x.Value); err != nil {
		return nil, eng.finish(op, err)
	}
	t, err := eng.ch.recvShaped(ctx, p, TagSwap, x.Value.Shape)
	if err != nil {
		return nil, eng.finish(op, err)
	}
	return t[0], eng.finish(op, nil)
}

// Decode decodes the opened tensor into real values.
func (eng *Engine) Decode(t *field.Tensor) []float64 {
	return eng.sess.Codec.DecodeTensor(t)
}

// Reveal opens the shared value at all parties and decodes it.
func (eng *Engine) Reveal(ctx context.Context, x *Share) ([]float64, error) {
	t, err := eng.Open(ctx, x)
	if err != nil {
		return nil, err
	}
	return eng.Decode(t), nil
}
