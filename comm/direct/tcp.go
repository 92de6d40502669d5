//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package direct

import (
	"context"
	"net"
	"time"

	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"golang.org/x/xerrors"
)

// Mesh creates fully connected in-memory networks for the parties.
// The result is indexed by party index.
func Mesh(parties comm.Parties) ([]*Network, error) {
	conns := make([]map[int]*p2p.Conn, len(parties))
	for i := range conns {
		conns[i] = make(map[int]*p2p.Conn)
	}
	for i := 0; i < len(parties); i++ {
		for j := i + 1; j < len(parties); j++ {
			ci, cj := p2p.Pipe()
			conns[i][j] = ci
			conns[j][i] = cj
		}
	}
	result := make([]*Network, len(parties))
	for i, p := range parties {
		nw, err := New(p, parties, conns[i])
		if err != nil {
			return nil, err
		}
		result[i] = nw
	}
	return result, nil
}

// Connect creates a TCP network for the party self. The party dials
// all parties with a lower index and accepts connections from the
// parties with a higher index on the listener ln. The addrs map holds
// the listen address of each party by party ID.
func Connect(ctx context.Context, ln net.Listener, self *comm.Party,
	parties comm.Parties, addrs map[string]string) (*Network, error) {

	conns := make(map[int]*p2p.Conn)
	cleanup := func() {
		for _, c := range conns {
			c.Close()
		}
	}

	for _, peer := range parties[:self.Index] {
		addr, ok := addrs[peer.ID]
		if !ok {
			cleanup()
			return nil, xerrors.Errorf("direct: no address for %s", peer)
		}
		conn, err := dial(ctx, addr)
		if err != nil {
			cleanup()
			return nil, xerrors.Errorf("direct: dial %s: %v: %w", peer, err,
				comm.ErrPeerUnavailable)
		}
		if err := conn.SendString(self.ID); err != nil {
			conn.Close()
			cleanup()
			return nil, err
		}
		if err := conn.Flush(); err != nil {
			conn.Close()
			cleanup()
			return nil, err
		}
		conns[peer.Index] = conn
	}

	expected := len(parties) - self.Index - 1
	for expected > 0 {
		nc, err := accept(ctx, ln)
		if err != nil {
			cleanup()
			return nil, err
		}
		conn := p2p.NewConn(nc)
		id, err := conn.ReceiveString()
		if err != nil {
			conn.Close()
			cleanup()
			return nil, xerrors.Errorf("direct: hello: %w", err)
		}
		peer, err := parties.Lookup(id)
		if err != nil || peer.Index <= self.Index ||
			conns[peer.Index] != nil {
			conn.Close()
			cleanup()
			return nil, xerrors.Errorf("direct: unexpected peer %q", id)
		}
		conns[peer.Index] = conn
		expected--
	}

	return New(self, parties, conns)
}

func dial(ctx context.Context, addr string) (*p2p.Conn, error) {
	var d net.Dialer
	for {
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return p2p.NewConn(nc), nil
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	c := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		c <- result{conn, err}
	}()
	select {
	case r := <-c:
		return r.conn, r.err
	case <-ctx.Done():
		// The pending Accept returns when a peer connects late or the
		// caller closes ln. Late connections are closed.
		go func() {
			if r := <-c; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, comm.ContextError(ctx, nil)
	}
}
