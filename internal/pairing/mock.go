package pairing

import (
	"context"
	"fmt"
	"sync"
)

// MockFactory builds in-process channels driven by the caller. It backs
// PAIRING_MODE=mock and the package tests of its consumers.
type MockFactory struct {
	mu       sync.Mutex
	channels []*MockChannel

	// CreateErr, when set, is returned by the next Create call.
	CreateErr error
	// ConnectedOnCreate makes URI-built channels report connected immediately,
	// as a resumed transport does when the bridge still holds the pairing.
	ConnectedOnCreate bool
	// ResumedAccounts and ResumedChainID describe the binding a resumed
	// channel reports before any update.
	ResumedAccounts []string
	ResumedChainID  int64
	// UpdateErr is copied to every channel built after it is set.
	UpdateErr error
	// Peer is announced with pairing_requested right after a URI channel is built.
	Peer *Peer
}

func NewMockFactory() *MockFactory { return &MockFactory{} }

func (f *MockFactory) Create(_ context.Context, params CreateParams) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		err := f.CreateErr
		f.CreateErr = nil
		return nil, fmt.Errorf("%w: %v", ErrChannel, err)
	}

	ch := &MockChannel{events: make(chan Event, 64), params: params}
	switch {
	case params.Session != nil:
		ch.state = params.Session.Clone()
	default:
		ch.state = SessionState{
			Connected:      f.ConnectedOnCreate,
			HandshakeTopic: fmt.Sprintf("mock-%d", len(f.channels)+1),
		}
		if f.ConnectedOnCreate {
			ch.state.Accounts = append([]string(nil), f.ResumedAccounts...)
			ch.state.ChainID = f.ResumedChainID
		}
	}
	ch.UpdateErr = f.UpdateErr
	f.channels = append(f.channels, ch)
	if params.URI != "" && f.Peer != nil && !ch.state.Connected {
		peer := *f.Peer
		ch.RequestPairing(peer)
	}
	return ch, nil
}

// Channels returns every channel built so far, oldest first.
func (f *MockFactory) Channels() []*MockChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockChannel(nil), f.channels...)
}

// Last returns the most recently built channel or nil.
func (f *MockFactory) Last() *MockChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

// MockChannel records every command it receives.
type MockChannel struct {
	mu     sync.Mutex
	events chan Event
	params CreateParams
	state  SessionState
	closed bool

	approvals []Approval
	updates   []Approval
	rejects   []string
	killed    bool

	RejectErr  error
	KillErr    error
	ApproveErr error
	UpdateErr  error
}

func (c *MockChannel) Events() <-chan Event { return c.events }

func (c *MockChannel) Params() CreateParams { return c.params }

func (c *MockChannel) Approve(_ context.Context, a Approval) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApproveErr != nil {
		return c.ApproveErr
	}
	c.approvals = append(c.approvals, a)
	c.state.Connected = true
	c.state.Accounts = append([]string(nil), a.Accounts...)
	c.state.ChainID = a.ChainID
	c.emitLocked(Event{Type: EventConnected})
	return nil
}

func (c *MockChannel) Reject(_ context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects = append(c.rejects, reason)
	if c.RejectErr != nil {
		return c.RejectErr
	}
	c.closeLocked()
	return nil
}

func (c *MockChannel) Update(_ context.Context, a Approval) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, a)
	if c.UpdateErr != nil {
		return fmt.Errorf("%w: %v", ErrChannel, c.UpdateErr)
	}
	c.state.Accounts = append([]string(nil), a.Accounts...)
	c.state.ChainID = a.ChainID
	return nil
}

func (c *MockChannel) Kill(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = true
	if c.KillErr != nil {
		return c.KillErr
	}
	c.state.Connected = false
	c.emitLocked(Event{Type: EventDisconnected})
	c.closeLocked()
	return nil
}

func (c *MockChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Connected
}

func (c *MockChannel) Session() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// RequestPairing simulates the peer announcing itself.
func (c *MockChannel) RequestPairing(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PeerMeta = &peer
	c.emitLocked(Event{Type: EventPairingRequested})
}

// Connect simulates the bridge confirming the session out of band.
func (c *MockChannel) Connect(accounts []string, chainID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Connected = true
	c.state.Accounts = append([]string(nil), accounts...)
	c.state.ChainID = chainID
	c.emitLocked(Event{Type: EventConnected})
}

// DropPeer simulates the peer ending the session.
func (c *MockChannel) DropPeer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Connected = false
	c.emitLocked(Event{Type: EventDisconnected})
	c.closeLocked()
}

// Send delivers a peer request.
func (c *MockChannel) Send(req PeerRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(Event{Type: EventPeerRequest, Request: &req})
}

// Fail delivers a channel-level error.
func (c *MockChannel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrChannel, err)})
}

func (c *MockChannel) Approvals() []Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Approval(nil), c.approvals...)
}

func (c *MockChannel) Updates() []Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Approval(nil), c.updates...)
}

func (c *MockChannel) Rejects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rejects...)
}

func (c *MockChannel) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

func (c *MockChannel) emitLocked(ev Event) {
	if c.closed {
		return
	}
	ev.Session = c.state.Clone()
	select {
	case c.events <- ev:
	default:
		// Buffer full; the consumer is gone or stalled.
	}
}

func (c *MockChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}
