//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package broker implements comm.Network with a message hub that
// relays messages between the parties. The parties need only a
// connection to the hub instead of a full mesh.
package broker

import (
	"bytes"
	"sync"

	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Hub routes envelopes between the attached parties. Messages to
// parties that have not attached yet are buffered until they attach.
type Hub struct {
	parties comm.Parties
	log     zerolog.Logger

	m       sync.Mutex
	routes  []route
	pending [][]*Envelope
	gone    []bool
}

type route interface {
	deliver(env *Envelope) error
}

type localRoute struct {
	ep *Endpoint
}

func (r *localRoute) deliver(env *Envelope) error {
	r.ep.receive(env)
	return nil
}

type remoteRoute struct {
	conn *p2p.Conn
}

func (r *remoteRoute) deliver(env *Envelope) error {
	return sendEnvelope(r.conn, env)
}

// NewHub creates a new hub for the parties.
func NewHub(parties comm.Parties, log zerolog.Logger) *Hub {
	return &Hub{
		parties: parties,
		log:     log.With().Str("component", "hub").Logger(),
		routes:  make([]route, len(parties)),
		pending: make([][]*Envelope, len(parties)),
		gone:    make([]bool, len(parties)),
	}
}

// Attach attaches the party to the hub and returns its in-process
// network endpoint.
func (hub *Hub) Attach(party *comm.Party) (*Endpoint, error) {
	ep := newEndpoint(party, hub.parties)
	ep.send = func(env *Envelope) error {
		env.Payload = bytes.Clone(env.Payload)
		return hub.route(env)
	}
	ep.close = func() error {
		hub.detach(party.Index)
		return nil
	}
	if err := hub.attach(party, &localRoute{ep: ep}); err != nil {
		return nil, err
	}
	return ep, nil
}

// ServeConn serves a remote party connected with Dial over conn. The
// function blocks until the connection closes.
func (hub *Hub) ServeConn(conn *p2p.Conn) error {
	id, err := conn.ReceiveString()
	if err != nil {
		conn.Close()
		return xerrors.Errorf("broker: hello: %w", err)
	}
	party, err := hub.parties.Lookup(id)
	if err != nil {
		conn.Close()
		return err
	}
	if err := hub.attach(party, &remoteRoute{conn: conn}); err != nil {
		conn.Close()
		return err
	}
	defer hub.detach(party.Index)

	for {
		env, err := receiveEnvelope(conn)
		if err != nil {
			hub.log.Debug().Str("party", party.ID).Err(err).
				Msg("connection closed")
			return nil
		}
		if env.Kind != KindData || env.From != party.Index {
			hub.log.Warn().Str("party", party.ID).Str("envelope", env.String()).
				Msg("dropping spoofed envelope")
			continue
		}
		if err := hub.route(env); err != nil {
			hub.log.Debug().Str("party", party.ID).Err(err).
				Msg("route failed")
		}
	}
}

func (hub *Hub) attach(party *comm.Party, r route) error {
	if party.Index < 0 || party.Index >= len(hub.parties) ||
		hub.parties[party.Index].ID != party.ID {
		return xerrors.Errorf("broker: %v: %w", party, comm.ErrUnknownParty)
	}

	hub.m.Lock()
	defer hub.m.Unlock()

	if hub.routes[party.Index] != nil || hub.gone[party.Index] {
		return xerrors.Errorf("broker: %s already attached", party)
	}
	for _, env := range hub.pending[party.Index] {
		if err := r.deliver(env); err != nil {
			return err
		}
	}
	hub.pending[party.Index] = nil
	hub.routes[party.Index] = r

	hub.log.Debug().Str("party", party.ID).Msg("attached")
	return nil
}

func (hub *Hub) detach(idx int) {
	hub.m.Lock()
	defer hub.m.Unlock()

	if hub.gone[idx] {
		return
	}
	hub.gone[idx] = true
	hub.routes[idx] = nil
	hub.pending[idx] = nil

	hub.log.Debug().Str("party", hub.parties[idx].ID).Msg("detached")

	for to := range hub.parties {
		if to == idx || hub.gone[to] {
			continue
		}
		env := &Envelope{
			Kind: KindGone,
			From: idx,
			To:   to,
		}
		if hub.routes[to] == nil {
			hub.pending[to] = append(hub.pending[to], env)
		} else {
			hub.routes[to].deliver(env)
		}
	}
}

func (hub *Hub) route(env *Envelope) error {
	if env.To < 0 || env.To >= len(hub.parties) {
		return xerrors.Errorf("broker: destination %d: %w", env.To,
			comm.ErrUnknownParty)
	}

	hub.m.Lock()
	defer hub.m.Unlock()

	if hub.gone[env.To] {
		return xerrors.Errorf("broker: %s: %w", hub.parties[env.To],
			comm.ErrPeerUnavailable)
	}
	r := hub.routes[env.To]
	if r == nil {
		hub.pending[env.To] = append(hub.pending[env.To], env)
		return nil
	}
	return r.deliver(env)
}
