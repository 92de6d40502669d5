//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package broker

import (
	"context"
	"sync"

	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"golang.org/x/xerrors"
)

var (
	_ comm.Network = &Endpoint{}
)

// Endpoint implements comm.Network for one party attached to a hub.
type Endpoint struct {
	self    *comm.Party
	parties comm.Parties
	mailbox *comm.Mailbox
	send    func(env *Envelope) error
	close   func() error

	m      sync.Mutex
	closed bool
}

func newEndpoint(self *comm.Party, parties comm.Parties) *Endpoint {
	return &Endpoint{
		self:    self,
		parties: parties,
		mailbox: comm.NewMailbox(parties),
	}
}

func (ep *Endpoint) receive(env *Envelope) {
	switch env.Kind {
	case KindData:
		ep.mailbox.Push(env.From, env.Payload)
	case KindGone:
		if env.From >= 0 && env.From < len(ep.parties) {
			ep.mailbox.Fail(env.From, xerrors.Errorf("broker: %s left: %w",
				ep.parties[env.From], comm.ErrPeerUnavailable))
		}
	}
}

// Dial attaches the party self to a remote hub over the connection
// conn. The hub must serve the connection with Hub.ServeConn.
func Dial(conn *p2p.Conn, self *comm.Party, parties comm.Parties) (
	*Endpoint, error) {

	if err := conn.SendString(self.ID); err != nil {
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		return nil, err
	}

	ep := newEndpoint(self, parties)

	var m sync.Mutex
	ep.send = func(env *Envelope) error {
		m.Lock()
		defer m.Unlock()
		return sendEnvelope(conn, env)
	}
	done := make(chan struct{})
	ep.close = func() error {
		m.Lock()
		err := conn.Close()
		m.Unlock()
		<-done
		return err
	}

	go func() {
		defer close(done)
		for {
			env, err := receiveEnvelope(conn)
			if err != nil {
				for _, p := range parties.Others(self.Index) {
					ep.mailbox.Fail(p.Index, xerrors.Errorf(
						"broker: hub connection: %v: %w", err,
						comm.ErrPeerUnavailable))
				}
				return
			}
			ep.receive(env)
		}
	}()

	return ep, nil
}

// Self implements comm.Network.Self.
func (ep *Endpoint) Self() *comm.Party {
	return ep.self
}

// Parties implements comm.Network.Parties.
func (ep *Endpoint) Parties() comm.Parties {
	return ep.parties
}

// Party implements comm.Network.Party.
func (ep *Endpoint) Party(id string) (*comm.Party, error) {
	return ep.parties.Lookup(id)
}

// Send implements comm.Network.Send.
func (ep *Endpoint) Send(ctx context.Context, to *comm.Party,
	data []byte) error {

	if err := comm.CheckPeer(ep.parties, ep.self, to); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return comm.ContextError(ctx, to)
	}
	ep.m.Lock()
	closed := ep.closed
	ep.m.Unlock()
	if closed {
		return comm.ErrClosed
	}
	return ep.send(&Envelope{
		Kind:    KindData,
		From:    ep.self.Index,
		To:      to.Index,
		Payload: data,
	})
}

// Recv implements comm.Network.Recv.
func (ep *Endpoint) Recv(ctx context.Context, from *comm.Party) (
	[]byte, error) {

	if err := comm.CheckPeer(ep.parties, ep.self, from); err != nil {
		return nil, err
	}
	return ep.mailbox.Pop(ctx, from.Index)
}

// Close implements comm.Network.Close.
func (ep *Endpoint) Close() error {
	ep.m.Lock()
	if ep.closed {
		ep.m.Unlock()
		return nil
	}
	ep.closed = true
	ep.m.Unlock()

	err := ep.close()
	ep.mailbox.Close()
	return err
}
