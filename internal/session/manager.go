package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/txlens/internal/networks"
	"github.com/ent0n29/txlens/internal/observability"
	"github.com/ent0n29/txlens/internal/pairing"
	"github.com/ent0n29/txlens/internal/policy"
	"github.com/ent0n29/txlens/internal/protocol"
	"github.com/ent0n29/txlens/internal/router"
	"github.com/ent0n29/txlens/internal/sessionstore"
)

const DefaultDeclineReason = "DECLINED_BY_USER"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotRunning      = errors.New("session manager is not running")
)

// RequestRouter handles peer requests of a connected session.
type RequestRouter interface {
	Route(ctx context.Context, req pairing.PeerRequest) router.Kind
}

// Publisher receives presentation events.
type Publisher interface {
	Publish(msg any)
}

type Options struct {
	Factory        pairing.Factory
	Store          sessionstore.Store
	Router         RequestRouter
	Publisher      Publisher
	Networks       *networks.Table
	DefaultNetwork string
	KillTimeout    time.Duration
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

type command struct {
	ctx   context.Context
	fn    func(context.Context) error
	reply chan error
}

type channelEvent struct {
	gen    uint64
	ev     pairing.Event
	closed bool
}

// Manager owns the lifecycle of the single pairing session. All state below
// the loop marker is touched only by the Run goroutine; readers use State.
type Manager struct {
	factory     pairing.Factory
	store       sessionstore.Store
	router      RequestRouter
	out         Publisher
	networks    *networks.Table
	network     string
	killTimeout time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger

	cmds    chan command
	events  chan channelEvent
	done    chan struct{}
	running atomic.Bool

	mu   sync.RWMutex
	view Session

	// loop-owned
	ch       pairing.Channel
	gen      uint64
	phase    Phase
	uri      string
	restored bool
	awaiting bool
	peer     *pairing.Peer
	accounts []string
	chainID  int64
	selected string
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	table := opts.Networks
	if table == nil {
		table = networks.Default()
	}
	network := strings.ToLower(strings.TrimSpace(opts.DefaultNetwork))
	if network == "" {
		network = "ethereum"
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewUnregisteredMetrics()
	}
	killTimeout := opts.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	m := &Manager{
		factory:     opts.Factory,
		store:       opts.Store,
		router:      opts.Router,
		out:         opts.Publisher,
		networks:    table,
		network:     network,
		killTimeout: killTimeout,
		metrics:     metrics,
		logger:      logger.With("component", "session"),
		cmds:        make(chan command),
		events:      make(chan channelEvent, 64),
		done:        make(chan struct{}),
		phase:       PhaseIdle,
	}
	m.view = Session{Phase: PhaseIdle, Accounts: []string{}, UpdatedAt: time.Now().UTC()}
	return m
}

// Run serves commands and channel events until ctx is canceled. The active
// channel is left untouched on shutdown so the persisted record can be
// restored by the next process.
//
// Channel teardown runs on this loop so a replaced channel is always dead
// before its successor is created. While a kill or reject is in flight,
// commands and events wait, for at most the kill timeout per channel; events
// buffer in the meantime and stale ones are dropped once it returns.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("session manager already running")
	}
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-m.cmds:
			cmd.reply <- cmd.fn(cmd.ctx)
		case ce := <-m.events:
			m.handleEvent(ctx, ce)
		}
	}
}

// State returns a copy of the current session view.
func (m *Manager) State() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.view)
}

// CreateSession builds a channel from a pairing URI or a restored record,
// tearing down any active channel first.
func (m *Manager) CreateSession(ctx context.Context, params CreateParams) error {
	uri := strings.TrimSpace(params.URI)
	if (uri == "") == (params.Restored == nil) {
		return fmt.Errorf("%w: exactly one of uri or restored record is required", ErrInvalidArgument)
	}
	if uri != "" && !strings.HasPrefix(strings.ToLower(uri), "wc:") {
		return fmt.Errorf("%w: pairing uri must start with wc:", ErrInvalidArgument)
	}
	params.URI = uri
	return m.do(ctx, func(ctx context.Context) error {
		return m.create(ctx, params)
	})
}

// Approve accepts the pending pairing with the given accounts. An empty
// account list leaves the session pending. chainID 0 selects the default
// network.
func (m *Manager) Approve(ctx context.Context, accounts []string, chainID int64) error {
	accounts = cleanAccounts(accounts)
	if len(accounts) == 0 {
		return nil
	}
	return m.do(ctx, func(ctx context.Context) error {
		if m.ch == nil || m.phase != PhasePendingApproval || !m.awaiting {
			return fmt.Errorf("%w: no pairing request awaiting approval", ErrInvalidArgument)
		}
		if chainID == 0 {
			chainID = m.defaultChainID()
		}
		if err := m.ch.Approve(ctx, pairing.Approval{Accounts: accounts, ChainID: chainID}); err != nil {
			m.logger.Warn("approve failed", "error", err)
			return fmt.Errorf("approve pairing: %w", err)
		}
		state := m.ch.Session()
		state.Connected = true
		state.Accounts = append([]string(nil), accounts...)
		state.ChainID = chainID
		m.connect(ctx, state, "approve")
		return nil
	})
}

// Decline rejects the pending pairing. Local state is discarded even when the
// channel rejects the call.
func (m *Manager) Decline(ctx context.Context, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultDeclineReason
	}
	return m.do(ctx, func(ctx context.Context) error {
		if m.ch == nil || m.phase != PhasePendingApproval {
			return fmt.Errorf("%w: no pairing to decline", ErrInvalidArgument)
		}
		ch := m.retire()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.killTimeout)
		defer cancel()
		if err := ch.Reject(rctx, reason); err != nil {
			m.logger.Warn("reject failed; discarding pairing anyway", "error", err)
		}
		m.reset()
		m.countSession("decline")
		m.logger.Info("pairing declined", "reason", reason)
		m.publishState()
		return nil
	})
}

// Disconnect ends the active session and clears the persisted record. It is
// a no-op when idle.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.do(ctx, func(ctx context.Context) error {
		if m.ch == nil {
			return nil
		}
		m.teardown(ctx)
		m.finishDisconnect(ctx, "user")
		return nil
	})
}

// SelectAccount records the locally selected account.
func (m *Manager) SelectAccount(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidArgument)
	}
	return m.do(ctx, func(context.Context) error {
		m.selected = address
		m.logger.Info("account selected", "account", policy.ShortAddress(address))
		m.publishState()
		return nil
	})
}

// Restore rebuilds the channel from the persisted record, if any. A corrupt
// record is cleared and the manager stays idle.
func (m *Manager) Restore(ctx context.Context) error {
	return m.do(ctx, func(ctx context.Context) error {
		rec, err := m.store.Load(ctx)
		switch {
		case err == nil:
		case errors.Is(err, sessionstore.ErrNotFound):
			m.logger.Info("no persisted session")
			return nil
		case errors.Is(err, sessionstore.ErrCorruptState):
			m.logger.Warn("persisted session is corrupt; clearing", "error", err)
			m.countSession("restore_corrupt")
			if cerr := m.store.Clear(ctx); cerr != nil {
				return fmt.Errorf("clear corrupt session: %w", cerr)
			}
			return nil
		default:
			return fmt.Errorf("restore session: %w", err)
		}
		return m.create(ctx, CreateParams{Restored: &rec})
	})
}

func (m *Manager) do(ctx context.Context, fn func(context.Context) error) error {
	cmd := command{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-m.done:
		return ErrNotRunning
	}
}

func (m *Manager) create(ctx context.Context, params CreateParams) error {
	if m.ch != nil {
		m.logger.Info("tearing down active channel before new pairing", "phase", m.phase)
		m.teardown(ctx)
		m.clearStore(ctx)
		m.reset()
		m.countSession("replaced")
	}

	cp := pairing.CreateParams{URI: params.URI}
	if params.Restored != nil {
		state := params.Restored.Session.Clone()
		cp.Session = &state
	}

	ch, err := m.newChannel(ctx, cp)
	if err != nil {
		return err
	}
	m.attach(ch)

	if params.Restored != nil {
		return m.adoptRestored(ctx, params.Restored)
	}

	m.uri = params.URI
	m.logger.Info("pairing channel created", "uri", policy.RedactPairingURI(params.URI))
	if ch.Connected() {
		if m.selected != "" {
			m.logger.Info("channel already connected on a new uri; recreating with the selected account")
			m.countSession("reconnect")
			m.teardown(ctx)
			m.reset()
			return m.rebind(ctx, params.URI)
		}
		m.connect(ctx, ch.Session(), "resumed")
		return nil
	}

	m.phase = PhasePendingApproval
	m.countSession("pending")
	m.publishState()
	return nil
}

func (m *Manager) newChannel(ctx context.Context, cp pairing.CreateParams) (pairing.Channel, error) {
	start := time.Now()
	ch, err := m.factory.Create(ctx, cp)
	m.metrics.Latency.Observe(observability.StageChannelCreate, time.Since(start))
	if err != nil {
		m.logger.Error("create pairing channel failed", "error", err)
		m.metrics.ChannelEvents.WithLabelValues("create_failed").Inc()
		m.publishState()
		return nil, fmt.Errorf("create pairing channel: %w", err)
	}
	return ch, nil
}

// rebind recreates the channel for uri and binds it to the selected account
// before anything is persisted. A channel that refuses the binding is
// discarded so the peer's previous accounts never become the session.
func (m *Manager) rebind(ctx context.Context, uri string) error {
	ch, err := m.newChannel(ctx, pairing.CreateParams{URI: uri})
	if err != nil {
		return err
	}
	m.attach(ch)
	m.uri = uri
	if !ch.Connected() {
		m.phase = PhasePendingApproval
		m.countSession("pending")
		m.publishState()
		return nil
	}

	update := pairing.Approval{Accounts: []string{m.selected}, ChainID: m.defaultChainID()}
	if err := ch.Update(ctx, update); err != nil {
		m.logger.Warn("binding recreated channel failed; discarding", "error", err)
		m.publishChannelError(err)
		m.teardown(ctx)
		m.clearStore(ctx)
		m.reset()
		m.countSession("reconnect_failed")
		m.publishState()
		return fmt.Errorf("update recreated channel: %w", err)
	}
	state := ch.Session()
	state.Accounts = update.Accounts
	state.ChainID = update.ChainID
	m.connect(ctx, state, "rebind")
	return nil
}

func (m *Manager) adoptRestored(ctx context.Context, rec *sessionstore.Record) error {
	m.restored = true
	m.uri = rec.URI
	if !m.ch.Connected() && !rec.Session.Connected {
		m.logger.Warn("restored session is not connected; discarding")
		m.teardown(ctx)
		m.finishDisconnect(ctx, "restore_stale")
		return nil
	}
	state := m.ch.Session()
	if !state.Connected {
		state = rec.Session.Clone()
	}
	m.connect(ctx, state, "restore")
	return m.applySelected(ctx)
}

// applySelected pushes the selected account and default chain to a connected
// channel.
func (m *Manager) applySelected(ctx context.Context) error {
	if m.ch == nil || m.phase != PhaseConnected || m.selected == "" {
		return nil
	}
	update := pairing.Approval{Accounts: []string{m.selected}, ChainID: m.defaultChainID()}
	if err := m.ch.Update(ctx, update); err != nil {
		m.logger.Warn("session update failed", "error", err)
		m.publishChannelError(err)
		return nil
	}
	state := m.ch.Session()
	state.Connected = true
	state.Accounts = update.Accounts
	state.ChainID = update.ChainID
	m.connect(ctx, state, "update")
	return nil
}

func (m *Manager) attach(ch pairing.Channel) {
	m.gen++
	m.ch = ch
	gen := m.gen
	go func() {
		for ev := range ch.Events() {
			select {
			case m.events <- channelEvent{gen: gen, ev: ev}:
			case <-m.done:
				return
			}
		}
		select {
		case m.events <- channelEvent{gen: gen, closed: true}:
		case <-m.done:
		}
	}()
}

// retire detaches the active channel so its late events are dropped.
func (m *Manager) retire() pairing.Channel {
	ch := m.ch
	m.ch = nil
	m.gen++
	return ch
}

// teardown kills the active channel best effort within the kill timeout.
func (m *Manager) teardown(ctx context.Context) {
	ch := m.retire()
	if ch == nil {
		return
	}
	kctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.killTimeout)
	defer cancel()
	start := time.Now()
	err := ch.Kill(kctx)
	m.metrics.Latency.Observe(observability.StageChannelKill, time.Since(start))
	if err != nil {
		m.logger.Warn("channel kill failed; continuing", "error", err)
		m.metrics.ChannelEvents.WithLabelValues("kill_failed").Inc()
	}
}

func (m *Manager) handleEvent(ctx context.Context, ce channelEvent) {
	if m.ch == nil || ce.gen != m.gen {
		return
	}
	if ce.closed {
		m.logger.Warn("pairing channel closed unexpectedly")
		m.publishChannelError(errors.New("pairing channel closed"))
		return
	}

	ev := ce.ev
	m.metrics.ChannelEvents.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case pairing.EventPairingRequested:
		if m.phase != PhasePendingApproval {
			m.logger.Warn("pairing request outside pending phase", "phase", m.phase)
			return
		}
		m.awaiting = true
		m.peer = ev.Session.PeerMeta
		name := ""
		if m.peer != nil {
			name = m.peer.Name
		}
		m.logger.Info("peer requested pairing", "peer", name)
		m.publishState()
	case pairing.EventConnected:
		m.connect(ctx, ev.Session, "connected")
	case pairing.EventDisconnected:
		m.retire()
		m.finishDisconnect(ctx, "peer")
	case pairing.EventPeerRequest:
		if ev.Request == nil {
			return
		}
		if m.phase != PhaseConnected {
			m.logger.Warn("dropping peer request outside connected phase", "method", ev.Request.Method, "phase", m.phase)
			return
		}
		m.router.Route(ctx, *ev.Request)
	case pairing.EventError:
		err := ev.Err
		if err == nil {
			err = pairing.ErrChannel
		}
		m.logger.Warn("pairing channel error", "error", err)
		m.publishChannelError(err)
	default:
		m.logger.Debug("ignoring channel event", "type", ev.Type)
	}
}

// connect moves to Connected and persists the record. Repeated calls refresh
// the view and record without counting a new transition.
func (m *Manager) connect(ctx context.Context, state pairing.SessionState, source string) {
	already := m.phase == PhaseConnected
	state.Connected = true
	if len(state.Accounts) == 0 {
		state.Accounts = m.accounts
	}
	if state.ChainID == 0 {
		state.ChainID = m.chainID
	}
	if state.PeerMeta == nil {
		state.PeerMeta = m.peer
	}

	m.phase = PhaseConnected
	m.awaiting = false
	m.peer = state.PeerMeta
	m.accounts = append([]string(nil), state.Accounts...)
	m.chainID = state.ChainID

	rec := sessionstore.Record{Session: state}
	if !m.restored {
		rec.URI = m.uri
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Error("persist session failed", "error", err)
	}
	if !already {
		m.countSession(source)
		m.logger.Info("session connected", "source", source, "chain_id", m.chainID, "accounts", len(m.accounts))
	}
	m.publishState()
}

func (m *Manager) finishDisconnect(ctx context.Context, source string) {
	m.clearStore(ctx)
	m.phase = PhaseDisconnected
	m.publishState()
	m.reset()
	m.countSession("disconnect_" + source)
	m.logger.Info("session disconnected", "source", source)
	m.publishState()
}

func (m *Manager) clearStore(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("clear persisted session failed", "error", err)
	}
}

// reset returns loop state to Idle. The selected account survives.
func (m *Manager) reset() {
	m.phase = PhaseIdle
	m.uri = ""
	m.restored = false
	m.awaiting = false
	m.peer = nil
	m.accounts = nil
	m.chainID = 0
}

func (m *Manager) defaultChainID() int64 {
	n, err := m.networks.Lookup(m.network)
	if err != nil {
		return 1
	}
	return n.ChainID
}

func (m *Manager) countSession(event string) {
	m.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Manager) publishChannelError(err error) {
	m.out.Publish(protocol.ChannelError{Type: protocol.TypeChannelError, Detail: err.Error()})
}

func (m *Manager) publishState() {
	now := time.Now().UTC()
	view := Session{
		Phase:           m.phase,
		Connected:       m.phase == PhaseConnected,
		Accounts:        append([]string{}, m.accounts...),
		ChainID:         m.chainID,
		PairingURI:      policy.RedactPairingURI(m.uri),
		Restored:        m.restored,
		SelectedAccount: m.selected,
		UpdatedAt:       now,
	}
	if m.peer != nil {
		p := *m.peer
		view.Peer = &p
	}

	m.mu.Lock()
	m.view = view
	m.mu.Unlock()

	if view.Connected {
		m.metrics.ActiveSessions.Set(1)
	} else {
		m.metrics.ActiveSessions.Set(0)
	}

	msg := protocol.SessionState{
		Type:      protocol.TypeSessionState,
		Phase:     string(view.Phase),
		Connected: view.Connected,
		Accounts:  view.Accounts,
		ChainID:   view.ChainID,
		TSMs:      now.UnixMilli(),
	}
	if view.Peer != nil {
		msg.Peer = &protocol.PeerInfo{
			Name:        view.Peer.Name,
			URL:         view.Peer.URL,
			Description: view.Peer.Description,
			Icons:       view.Peer.Icons,
		}
	}
	m.out.Publish(msg)
}

func cleanAccounts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
