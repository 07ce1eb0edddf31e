package session

import (
	"time"

	"github.com/ent0n29/txlens/internal/pairing"
	"github.com/ent0n29/txlens/internal/sessionstore"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhasePendingApproval Phase = "pending_approval"
	PhaseConnected       Phase = "connected"
	PhaseDisconnected    Phase = "disconnected"
)

// Session is the read-only view of the single active pairing.
type Session struct {
	Phase           Phase         `json:"phase"`
	Connected       bool          `json:"connected"`
	Peer            *pairing.Peer `json:"peer,omitempty"`
	Accounts        []string      `json:"accounts"`
	ChainID         int64         `json:"chain_id"`
	PairingURI      string        `json:"pairing_uri,omitempty"`
	Restored        bool          `json:"restored"`
	SelectedAccount string        `json:"selected_account,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CreateParams selects how a channel is built. Exactly one field must be set.
type CreateParams struct {
	URI      string
	Restored *sessionstore.Record
}

func clone(s Session) Session {
	c := s
	c.Accounts = append([]string{}, s.Accounts...)
	if s.Peer != nil {
		p := *s.Peer
		p.Icons = append([]string(nil), s.Peer.Icons...)
		c.Peer = &p
	}
	return c
}
