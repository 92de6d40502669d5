//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

// Package comm defines the party-to-party communication contract
// used by the secure computation protocols. Concrete transports live
// in the direct and broker subpackages.
package comm

import (
	"context"

	"golang.org/x/xerrors"
)

var (
	// ErrTimeout is returned when a peer message did not arrive
	// before the deadline.
	ErrTimeout = xerrors.New("comm: timeout")

	// ErrPeerUnavailable is returned when the link to a peer failed.
	ErrPeerUnavailable = xerrors.New("comm: peer unavailable")

	// ErrClosed is returned for operations on a closed network.
	ErrClosed = xerrors.New("comm: network closed")

	// ErrUnknownParty is returned for party IDs and indices outside
	// the session party set.
	ErrUnknownParty = xerrors.New("comm: unknown party")
)

// Network implements message exchange between the parties of a
// session. Messages between a (source, destination) pair are
// delivered in FIFO order. Send does not wait for the receiver.
type Network interface {
	// Self returns the local party.
	Self() *Party

	// Parties returns the ordered session party set.
	Parties() Parties

	// Party returns the party handle by its ID.
	Party(id string) (*Party, error)

	// Send sends data to the party.
	Send(ctx context.Context, to *Party, data []byte) error

	// Recv receives the next message from the party.
	Recv(ctx context.Context, from *Party) ([]byte, error)

	// Close closes the network and all links.
	Close() error
}

// ContextError maps context errors into communication errors.
func ContextError(ctx context.Context, from *Party) error {
	err := ctx.Err()
	if xerrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Errorf("%w: waiting for %s", ErrTimeout, from)
	}
	return err
}

// CheckPeer verifies that the party is a valid remote peer of self in
// the party set.
func CheckPeer(parties Parties, self, peer *Party) error {
	if peer == nil || peer.Index < 0 || peer.Index >= len(parties) ||
		parties[peer.Index].ID != peer.ID {
		return xerrors.Errorf("%w: %v", ErrUnknownParty, peer)
	}
	if peer.Index == self.Index {
		return xerrors.Errorf("comm: %s: self-addressed message", self)
	}
	return nil
}
