//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package comm

import (
	"context"
	"sync"

	"golang.org/x/xerrors"
)

// Mailbox implements unbounded per-source FIFO message queues with
// context-aware blocking receive.
type Mailbox struct {
	mu      sync.Mutex
	parties Parties
	queues  []*queue
}

type queue struct {
	msgs [][]byte
	err  error
	wait chan struct{}
}

// NewMailbox creates a mailbox for messages from the parties.
func NewMailbox(parties Parties) *Mailbox {
	mb := &Mailbox{
		parties: parties,
		queues:  make([]*queue, len(parties)),
	}
	for i := range mb.queues {
		mb.queues[i] = &queue{
			wait: make(chan struct{}),
		}
	}
	return mb
}

func (q *queue) signal() {
	close(q.wait)
	q.wait = make(chan struct{})
}

// Push adds the message from the source party.
func (mb *Mailbox) Push(from int, data []byte) error {
	if from < 0 || from >= len(mb.queues) {
		return xerrors.Errorf("%w: index %d", ErrUnknownParty, from)
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queues[from]
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, data)
	q.signal()
	return nil
}

// Fail marks the source party failed. Pending messages can still be
// popped; after that Pop returns err.
func (mb *Mailbox) Fail(from int, err error) {
	if from < 0 || from >= len(mb.queues) {
		return
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()

	q := mb.queues[from]
	if q.err == nil {
		q.err = err
		q.signal()
	}
}

// Close fails all queues with ErrClosed.
func (mb *Mailbox) Close() {
	for i := range mb.queues {
		mb.Fail(i, ErrClosed)
	}
}

// Pop removes and returns the next message from the source party. It
// blocks until a message arrives, the source fails, or ctx is done.
func (mb *Mailbox) Pop(ctx context.Context, from int) ([]byte, error) {
	if from < 0 || from >= len(mb.queues) {
		return nil, xerrors.Errorf("%w: index %d", ErrUnknownParty, from)
	}
	for {
		mb.mu.Lock()
		q := mb.queues[from]
		if len(q.msgs) > 0 {
			msg := q.msgs[0]
			q.msgs[0] = nil
			q.msgs = q.msgs[1:]
			mb.mu.Unlock()
			return msg, nil
		}
		if q.err != nil {
			err := q.err
			mb.mu.Unlock()
			return nil, err
		}
		wait := q.wait
		mb.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ContextError(ctx, mb.parties[from])
		}
	}
}

// Pending returns the number of queued messages from the source.
func (mb *Mailbox) Pending(from int) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queues[from].msgs)
}
