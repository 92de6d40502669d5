//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package comm

import (
	"context"
	"encoding/binary"

	"github.com/markkurossi/mpc/ot"
	"golang.org/x/xerrors"
)

var (
	_  ot.IO = &PeerIO{}
	bo       = binary.BigEndian
)

// PeerIO adapts the link to one peer into the ot.IO interface so that
// oblivious transfer protocols can run over any Network.
type PeerIO struct {
	ctx  context.Context
	nw   Network
	peer *Party
}

// NewPeerIO creates an ot.IO for the link to peer. All I/O runs under
// ctx.
func NewPeerIO(ctx context.Context, nw Network, peer *Party) *PeerIO {
	return &PeerIO{
		ctx:  ctx,
		nw:   nw,
		peer: peer,
	}
}

// SetContext sets the context for subsequent I/O. It lets a long-lived
// OT session run each exchange under its own deadline.
func (pio *PeerIO) SetContext(ctx context.Context) {
	pio.ctx = ctx
}

// SendData sends binary data.
func (pio *PeerIO) SendData(val []byte) error {
	data := make([]byte, len(val))
	copy(data, val)
	return pio.nw.Send(pio.ctx, pio.peer, data)
}

// SendUint32 sends an uint32 value.
func (pio *PeerIO) SendUint32(val int) error {
	var buf [4]byte
	bo.PutUint32(buf[:], uint32(val))
	return pio.nw.Send(pio.ctx, pio.peer, buf[:])
}

// Flush is a no-op since every Send is a complete message.
func (pio *PeerIO) Flush() error {
	return nil
}

// ReceiveData receives binary data.
func (pio *PeerIO) ReceiveData() ([]byte, error) {
	return pio.nw.Recv(pio.ctx, pio.peer)
}

// ReceiveUint32 receives an uint32 value.
func (pio *PeerIO) ReceiveUint32() (int, error) {
	data, err := pio.nw.Recv(pio.ctx, pio.peer)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, xerrors.Errorf("comm: %s: expected uint32, got %d bytes",
			pio.peer, len(data))
	}
	return int(bo.Uint32(data)), nil
}

// SendLabel sends an OT label.
func (pio *PeerIO) SendLabel(val ot.Label, data *ot.LabelData) error {
	return pio.SendData(val.Bytes(data))
}

// ReceiveLabel receives an OT label.
func (pio *PeerIO) ReceiveLabel(val *ot.Label, data *ot.LabelData) error {
	buf, err := pio.nw.Recv(pio.ctx, pio.peer)
	if err != nil {
		return err
	}
	if len(buf) != len(data) {
		return xerrors.Errorf("comm: %s: expected label, got %d bytes",
			pio.peer, len(buf))
	}
	copy(data[:], buf)
	val.SetData(data)
	return nil
}
