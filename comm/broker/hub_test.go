//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/markkurossi/mpc/p2p"
	"github.com/markkurossi/spdz/comm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newParties(t *testing.T, n int) comm.Parties {
	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("p%d", i))
	}
	parties, err := comm.NewParties(ids)
	require.NoError(t, err)
	return parties
}

func TestEnvelope(t *testing.T) {
	env := &Envelope{
		Kind:    KindData,
		From:    2,
		To:      1,
		Payload: []byte("payload"),
	}
	decoded, err := UnmarshalEnvelope(env.Marshal())
	require.NoError(t, err)
	require.Equal(t, env, decoded)

	_, err = UnmarshalEnvelope([]byte{0, 1})
	require.Error(t, err)

	data := env.Marshal()
	data[0] = 42
	_, err = UnmarshalEnvelope(data)
	require.Error(t, err)
}

func TestHubLocal(t *testing.T) {
	parties := newParties(t, 3)
	hub := NewHub(parties, zerolog.Nop())

	var eps []*Endpoint
	for _, p := range parties {
		ep, err := hub.Attach(p)
		require.NoError(t, err)
		eps = append(eps, ep)
	}
	defer func() {
		for _, ep := range eps {
			ep.Close()
		}
	}()

	_, err := hub.Attach(parties[0])
	require.Error(t, err)

	ctx := context.Background()
	for _, ep := range eps {
		for _, peer := range parties.Others(ep.Self().Index) {
			require.NoError(t, ep.Send(ctx, peer,
				[]byte(ep.Self().ID+peer.ID)))
		}
	}
	for _, ep := range eps {
		for _, peer := range parties.Others(ep.Self().Index) {
			data, err := ep.Recv(ctx, peer)
			require.NoError(t, err)
			require.Equal(t, peer.ID+ep.Self().ID, string(data))
		}
	}
}

func TestHubPendingDelivery(t *testing.T) {
	parties := newParties(t, 2)
	hub := NewHub(parties, zerolog.Nop())

	ep0, err := hub.Attach(parties[0])
	require.NoError(t, err)
	defer ep0.Close()

	ctx := context.Background()
	require.NoError(t, ep0.Send(ctx, parties[1], []byte("first")))
	require.NoError(t, ep0.Send(ctx, parties[1], []byte("second")))

	ep1, err := hub.Attach(parties[1])
	require.NoError(t, err)
	defer ep1.Close()

	for _, expected := range []string{"first", "second"} {
		data, err := ep1.Recv(ctx, parties[0])
		require.NoError(t, err)
		require.Equal(t, expected, string(data))
	}
}

func TestHubPeerGone(t *testing.T) {
	parties := newParties(t, 2)
	hub := NewHub(parties, zerolog.Nop())

	ep0, err := hub.Attach(parties[0])
	require.NoError(t, err)
	defer ep0.Close()
	ep1, err := hub.Attach(parties[1])
	require.NoError(t, err)

	require.NoError(t, ep1.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = ep0.Recv(ctx, parties[1])
	require.ErrorIs(t, err, comm.ErrPeerUnavailable)

	err = ep0.Send(ctx, parties[1], []byte("anybody there?"))
	require.ErrorIs(t, err, comm.ErrPeerUnavailable)
}

func TestHubTimeout(t *testing.T) {
	parties := newParties(t, 2)
	hub := NewHub(parties, zerolog.Nop())

	ep0, err := hub.Attach(parties[0])
	require.NoError(t, err)
	defer ep0.Close()

	ctx, cancel := context.WithTimeout(context.Background(),
		20*time.Millisecond)
	defer cancel()

	_, err = ep0.Recv(ctx, parties[1])
	require.ErrorIs(t, err, comm.ErrTimeout)
}

func TestHubRemote(t *testing.T) {
	parties := newParties(t, 3)
	hub := NewHub(parties, zerolog.Nop())

	local, err := hub.Attach(parties[0])
	require.NoError(t, err)
	defer local.Close()

	var remotes []*Endpoint
	for _, p := range parties[1:] {
		client, server := p2p.Pipe()
		go hub.ServeConn(server)
		ep, err := Dial(client, p, parties)
		require.NoError(t, err)
		remotes = append(remotes, ep)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, remotes[0].Send(ctx, parties[2], []byte("r->r")))
	require.NoError(t, remotes[1].Send(ctx, parties[0], []byte("r->l")))
	require.NoError(t, local.Send(ctx, parties[1], []byte("l->r")))

	data, err := remotes[1].Recv(ctx, parties[1])
	require.NoError(t, err)
	require.Equal(t, "r->r", string(data))

	data, err = local.Recv(ctx, parties[2])
	require.NoError(t, err)
	require.Equal(t, "r->l", string(data))

	data, err = remotes[0].Recv(ctx, parties[0])
	require.NoError(t, err)
	require.Equal(t, "l->r", string(data))

	require.NoError(t, remotes[1].Close())
	_, err = local.Recv(ctx, parties[2])
	require.ErrorIs(t, err, comm.ErrPeerUnavailable)

	require.NoError(t, remotes[0].Close())
}
