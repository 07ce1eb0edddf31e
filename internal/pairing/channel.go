package pairing

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrChannel wraps failures reported by the pairing channel itself.
var ErrChannel = errors.New("pairing channel error")

// Peer describes the remote application asking for a session.
type Peer struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

// SessionState is the channel's own serializable view of a session. It is
// what gets persisted and later handed back to resume the same pairing.
type SessionState struct {
	Connected      bool     `json:"connected"`
	Accounts       []string `json:"accounts"`
	ChainID        int64    `json:"chainId"`
	Bridge         string   `json:"bridge,omitempty"`
	Key            string   `json:"key,omitempty"`
	ClientID       string   `json:"clientId,omitempty"`
	PeerID         string   `json:"peerId,omitempty"`
	PeerMeta       *Peer    `json:"peerMeta,omitempty"`
	HandshakeID    int64    `json:"handshakeId,omitempty"`
	HandshakeTopic string   `json:"handshakeTopic,omitempty"`
}

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	c := s
	if s.Accounts != nil {
		c.Accounts = append([]string(nil), s.Accounts...)
	}
	if s.PeerMeta != nil {
		p := *s.PeerMeta
		p.Icons = append([]string(nil), s.PeerMeta.Icons...)
		c.PeerMeta = &p
	}
	return c
}

// PeerRequest is one inbound RPC call forwarded by the peer.
type PeerRequest struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// EventType is the closed set of lifecycle events a channel emits.
type EventType string

const (
	EventPairingRequested EventType = "pairing_requested"
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventPeerRequest      EventType = "peer_request"
	EventError            EventType = "error"
)

// Event is delivered on Channel.Events. Session carries the channel state at
// emission time; Request is set for EventPeerRequest and Err for EventError.
type Event struct {
	Type    EventType
	Session SessionState
	Request *PeerRequest
	Err     error
}

// Approval is the payload for Approve and Update.
type Approval struct {
	Accounts []string `json:"accounts"`
	ChainID  int64    `json:"chainId"`
}

// CreateParams selects between a fresh pairing URI and a restored session.
type CreateParams struct {
	URI     string
	Session *SessionState
}

// Channel is one live pairing with a peer.
type Channel interface {
	// Events is closed once the channel is gone.
	Events() <-chan Event
	Approve(ctx context.Context, a Approval) error
	Reject(ctx context.Context, reason string) error
	Update(ctx context.Context, a Approval) error
	Kill(ctx context.Context) error
	Connected() bool
	Session() SessionState
}

// Factory builds channels.
type Factory interface {
	Create(ctx context.Context, params CreateParams) (Channel, error)
}
