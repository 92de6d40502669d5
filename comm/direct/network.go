//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package direct implements comm.Network over point-to-point p2p
// connections between every pair of parties.
package direct

import (
	"context"
	"sync"

	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"golang.org/x/xerrors"
)

var (
	_ comm.Network = &Network{}
)

// MaxMessageSize defines the maximum message payload size. It is
// bounded by the p2p connection read buffer.
const MaxMessageSize = 1024*1024 - 4

// Network implements comm.Network with one p2p.Conn per peer. Each
// connection has a reader goroutine that pumps messages into the
// network's mailbox so Send never waits for the receiver.
type Network struct {
	self    *comm.Party
	parties comm.Parties
	mailbox *comm.Mailbox
	links   []*link
	wg      sync.WaitGroup

	m      sync.Mutex
	closed bool
}

type link struct {
	m    sync.Mutex
	conn *p2p.Conn
}

// New creates a network for the party self. The conns map holds the
// connection to each peer by party index.
func New(self *comm.Party, parties comm.Parties,
	conns map[int]*p2p.Conn) (*Network, error) {

	nw := &Network{
		self:    self,
		parties: parties,
		mailbox: comm.NewMailbox(parties),
		links:   make([]*link, len(parties)),
	}
	for _, peer := range parties.Others(self.Index) {
		conn, ok := conns[peer.Index]
		if !ok {
			return nil, xerrors.Errorf("direct: no connection to %s", peer)
		}
		nw.links[peer.Index] = &link{
			conn: conn,
		}
	}
	for idx, l := range nw.links {
		if l == nil {
			continue
		}
		nw.wg.Go(func() {
			nw.reader(idx, l.conn)
		})
	}
	return nw, nil
}

func (nw *Network) reader(from int, conn *p2p.Conn) {
	for {
		data, err := conn.ReceiveData()
		if err != nil {
			nw.mailbox.Fail(from, xerrors.Errorf("direct: %s: %v: %w",
				nw.parties[from], err, comm.ErrPeerUnavailable))
			return
		}
		if err := nw.mailbox.Push(from, data); err != nil {
			return
		}
	}
}

// Self implements comm.Network.Self.
func (nw *Network) Self() *comm.Party {
	return nw.self
}

// Parties implements comm.Network.Parties.
func (nw *Network) Parties() comm.Parties {
	return nw.parties
}

// Party implements comm.Network.Party.
func (nw *Network) Party(id string) (*comm.Party, error) {
	return nw.parties.Lookup(id)
}

// Send implements comm.Network.Send.
func (nw *Network) Send(ctx context.Context, to *comm.Party,
	data []byte) error {

	if err := comm.CheckPeer(nw.parties, nw.self, to); err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return xerrors.Errorf("direct: message too large: %d > %d",
			len(data), MaxMessageSize)
	}
	if err := ctx.Err(); err != nil {
		return comm.ContextError(ctx, to)
	}
	nw.m.Lock()
	closed := nw.closed
	nw.m.Unlock()
	if closed {
		return comm.ErrClosed
	}

	l := nw.links[to.Index]
	l.m.Lock()
	defer l.m.Unlock()

	if err := l.conn.SendData(data); err != nil {
		return xerrors.Errorf("direct: send to %s: %v: %w", to, err,
			comm.ErrPeerUnavailable)
	}
	if err := l.conn.Flush(); err != nil {
		return xerrors.Errorf("direct: send to %s: %v: %w", to, err,
			comm.ErrPeerUnavailable)
	}
	return nil
}

// Recv implements comm.Network.Recv.
func (nw *Network) Recv(ctx context.Context, from *comm.Party) (
	[]byte, error) {

	if err := comm.CheckPeer(nw.parties, nw.self, from); err != nil {
		return nil, err
	}
	return nw.mailbox.Pop(ctx, from.Index)
}

// Close implements comm.Network.Close.
func (nw *Network) Close() error {
	nw.m.Lock()
	if nw.closed {
		nw.m.Unlock()
		return nil
	}
	nw.closed = true
	nw.m.Unlock()

	var result error
	for _, l := range nw.links {
		if l == nil {
			continue
		}
		l.m.Lock()
		err := l.conn.Close()
		l.m.Unlock()
		if err != nil && result == nil {
			result = err
		}
	}
	nw.mailbox.Close()
	nw.wg.Wait()
	return result
}

// Stats returns the aggregated I/O statistics of all links.
func (nw *Network) Stats() p2p.IOStats {
	result := p2p.NewIOStats()
	for _, l := range nw.links {
		if l == nil {
			continue
		}
		result = result.Add(l.conn.Stats)
	}
	return result
}
