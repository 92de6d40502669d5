//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package spdz

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/markkurossi/spdz/comm"
	"github.com/markkurossi/spdz/crypto/field"
	"golang.org/x/xerrors"
)

var (
	bo = binary.BigEndian
)

// Tag identifies the protocol step of a message.
type Tag byte

// Protocol message tags.
const (
	TagInput Tag = iota + 1
	TagOpen
	TagSwap
	TagBeaver
	TagTrunc
	TagPRSS
	TagDealer
	TagGilboa
)

var tagNames = map[Tag]string{
	TagInput:  "input",
	TagOpen:   "open",
	TagSwap:   "swap",
	TagBeaver: "beaver",
	TagTrunc:  "trunc",
	TagPRSS:   "prss",
	TagDealer: "dealer",
	TagGilboa: "gilboa",
}

func (t Tag) String() string {
	name, ok := tagNames[t]
	if ok {
		return name
	}
	return fmt.Sprintf("{Tag %d}", t)
}

const headerLen = 5

// channel sends and receives tagged protocol messages. Each message
// carries a per-link sequence number so that missing, duplicated, or
// reordered protocol steps are detected.
type channel struct {
	nw      comm.Network
	ring    *field.Ring
	m       sync.Mutex
	sendSeq []uint32
	recvSeq []uint32
}

func newChannel(nw comm.Network, ring *field.Ring) *channel {
	n := len(nw.Parties())
	return &channel{
		nw:      nw,
		ring:    ring,
		sendSeq: make([]uint32, n),
		recvSeq: make([]uint32, n),
	}
}

func (ch *channel) sendData(ctx context.Context, to *comm.Party, tag Tag,
	payload []byte) error {

	ch.m.Lock()
	seq := ch.sendSeq[to.Index]
	ch.sendSeq[to.Index]++
	ch.m.Unlock()

	buf := make([]byte, headerLen+len(payload))
	buf[0] = byte(tag)
	bo.PutUint32(buf[1:], seq)
	copy(buf[headerLen:], payload)

	return ch.nw.Send(ctx, to, buf)
}

func (ch *channel) recvData(ctx context.Context, from *comm.Party,
	tag Tag) ([]byte, error) {

	data, err := ch.nw.Recv(ctx, from)
	if err != nil {
		return nil, err
	}
	if len(data) < headerLen {
		return nil, xerrors.Errorf("spdz: %s: short message: %w", from,
			ErrDesync)
	}

	ch.m.Lock()
	expected := ch.recvSeq[from.Index]
	ch.recvSeq[from.Index]++
	ch.m.Unlock()

	gotTag := Tag(data[0])
	seq := bo.Uint32(data[1:])
	if gotTag != tag || seq != expected {
		return nil, xerrors.Errorf("spdz: %s: got %v#%d, expected %v#%d: %w",
			from, gotTag, seq, tag, expected, ErrDesync)
	}
	return data[headerLen:], nil
}

func (ch *channel) send(ctx context.Context, to *comm.Party, tag Tag,
	tensors ...*field.Tensor) error {

	if len(tensors) > 255 {
		return xerrors.Errorf("spdz: too many tensors: %d", len(tensors))
	}
	payload := []byte{byte(len(tensors))}
	var hdr [4]byte
	for _, t := range tensors {
		data := ch.ring.Marshal(t)
		bo.PutUint32(hdr[:], uint32(len(data)))
		payload = append(payload, hdr[:]...)
		payload = append(payload, data...)
	}
	return ch.sendData(ctx, to, tag, payload)
}

func (ch *channel) recv(ctx context.Context, from *comm.Party, tag Tag,
	count int) ([]*field.Tensor, error) {

	data, err := ch.recvData(ctx, from, tag)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 || int(data[0]) != count {
		return nil, xerrors.Errorf("spdz: %s: %v: expected %d tensors: %w",
			from, tag, count, ErrDesync)
	}

	result := make([]*field.Tensor, count)
	ofs := 1
	for i := 0; i < count; i++ {
		if ofs+4 > len(data) {
			return nil, xerrors.Errorf("spdz: %s: truncated message: %w",
				from, ErrDesync)
		}
		l := int(bo.Uint32(data[ofs:]))
		ofs += 4
		if ofs+l > len(data) {
			return nil, xerrors.Errorf("spdz: %s: truncated message: %w",
				from, ErrDesync)
		}
		result[i], err = ch.ring.Unmarshal(data[ofs : ofs+l])
		if err != nil {
			return nil, err
		}
		ofs += l
	}
	return result, nil
}

// recvShaped receives tensors and checks their shapes.
func (ch *channel) recvShaped(ctx context.Context, from *comm.Party, tag Tag,
	shapes ...field.Shape) ([]*field.Tensor, error) {

	result, err := ch.recv(ctx, from, tag, len(shapes))
	if err != nil {
		return nil, err
	}
	for i, t := range result {
		if !t.Shape.Equal(shapes[i]) {
			return nil, xerrors.Errorf("spdz: %s: %v: got %v, expected %v: %w",
				from, tag, t.Shape, shapes[i], ErrShapeMismatch)
		}
	}
	return result, nil
}
