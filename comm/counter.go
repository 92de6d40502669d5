//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package comm

import (
	"context"
	"sync/atomic"

	"github.com/markkurossi/mpc/p2p"
)

// Counter wraps a Network and records its traffic. Stats.Sent and
// Stats.Recvd count payload bytes and Stats.Flushed counts sent
// messages.
type Counter struct {
	Network
	Stats p2p.IOStats
	recvs atomic.Uint64
}

// NewCounter wraps the network with traffic counters.
func NewCounter(nw Network) *Counter {
	return &Counter{
		Network: nw,
		Stats:   p2p.NewIOStats(),
	}
}

// Send implements Network.Send.
func (c *Counter) Send(ctx context.Context, to *Party, data []byte) error {
	c.Stats.Flushed.Add(1)
	c.Stats.Sent.Add(uint64(len(data)))
	return c.Network.Send(ctx, to, data)
}

// Recv implements Network.Recv.
func (c *Counter) Recv(ctx context.Context, from *Party) ([]byte, error) {
	c.recvs.Add(1)
	data, err := c.Network.Recv(ctx, from)
	if err != nil {
		return nil, err
	}
	c.Stats.Recvd.Add(uint64(len(data)))
	return data, nil
}

// Messages returns the number of Send and Recv calls.
func (c *Counter) Messages() (sent, received uint64) {
	return c.Stats.Flushed.Load(), c.recvs.Load()
}

// Calls returns the total number of Send and Recv calls.
func (c *Counter) Calls() uint64 {
	return c.Stats.Flushed.Load() + c.recvs.Load()
}
