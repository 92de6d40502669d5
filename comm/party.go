//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package comm

import (
	"golang.org/x/xerrors"
)

// Party identifies one computation party. The index defines the
// party's position in the session's share vector.
type Party struct {
	ID    string
	Index int
}

func (p *Party) String() string {
	if p == nil {
		return "<nil>"
	}
	return p.ID
}

// Parties defines the ordered party set of a session.
type Parties []*Party

// NewParties creates the ordered party set from the party IDs. The
// order of ids defines the share vector layout.
func NewParties(ids []string) (Parties, error) {
	if len(ids) < 2 {
		return nil, xerrors.Errorf("comm: need at least 2 parties, got %d",
			len(ids))
	}
	seen := make(map[string]bool)
	result := make(Parties, len(ids))
	for idx, id := range ids {
		if len(id) == 0 {
			return nil, xerrors.Errorf("comm: empty party ID at %d", idx)
		}
		if seen[id] {
			return nil, xerrors.Errorf("comm: duplicate party ID %q", id)
		}
		seen[id] = true
		result[idx] = &Party{
			ID:    id,
			Index: idx,
		}
	}
	return result, nil
}

// Lookup finds the party by its ID.
func (parties Parties) Lookup(id string) (*Party, error) {
	for _, p := range parties {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, xerrors.Errorf("%w: %q", ErrUnknownParty, id)
}

// IDs returns the party IDs in order.
func (parties Parties) IDs() []string {
	result := make([]string, len(parties))
	for i, p := range parties {
		result[i] = p.ID
	}
	return result
}

// Others returns all parties except the one with the index self.
func (parties Parties) Others(self int) Parties {
	var result Parties
	for _, p := range parties {
		if p.Index != self {
			result = append(result, p)
		}
	}
	return result
}
