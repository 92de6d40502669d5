//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package broker

import (
	"encoding/binary"
	"fmt"

	"github.com/markkurossi/mpc/p2p"
	"golang.org/x/xerrors"
)

var (
	bo = binary.BigEndian
)

// Kind defines envelope kinds.
type Kind byte

// Envelope kinds.
const (
	KindData Kind = iota
	KindGone
)

var kindNames = map[Kind]string{
	KindData: "data",
	KindGone: "gone",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if ok {
		return name
	}
	return fmt.Sprintf("{Kind %d}", k)
}

const envelopeHeaderLen = 9

// Envelope carries one routed message. KindGone envelopes tell the
// receiver that the party From has left the hub.
type Envelope struct {
	Kind    Kind
	From    int
	To      int
	Payload []byte
}

func (env *Envelope) String() string {
	return fmt.Sprintf("%v %d->%d %d bytes", env.Kind, env.From, env.To,
		len(env.Payload))
}

// Marshal encodes the envelope.
func (env *Envelope) Marshal() []byte {
	buf := make([]byte, envelopeHeaderLen+len(env.Payload))
	buf[0] = byte(env.Kind)
	bo.PutUint32(buf[1:], uint32(env.From))
	bo.PutUint32(buf[5:], uint32(env.To))
	copy(buf[envelopeHeaderLen:], env.Payload)
	return buf
}

// UnmarshalEnvelope decodes the envelope from data.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	if len(data) < envelopeHeaderLen {
		return nil, xerrors.Errorf("broker: truncated envelope: %d bytes",
			len(data))
	}
	env := &Envelope{
		Kind:    Kind(data[0]),
		From:    int(bo.Uint32(data[1:])),
		To:      int(bo.Uint32(data[5:])),
		Payload: data[envelopeHeaderLen:],
	}
	if _, ok := kindNames[env.Kind]; !ok {
		return nil, xerrors.Errorf("broker: invalid envelope kind %v",
			env.Kind)
	}
	return env, nil
}

func sendEnvelope(conn *p2p.Conn, env *Envelope) error {
	if err := conn.SendData(env.Marshal()); err != nil {
		return err
	}
	return conn.Flush()
}

func receiveEnvelope(conn *p2p.Conn) (*Envelope, error) {
	data, err := conn.ReceiveData()
	if err != nil {
		return nil, err
	}
	return UnmarshalEnvelope(data)
}
