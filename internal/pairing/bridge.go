package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	bridgeWriteTimeout     = 3 * time.Second
	bridgeHandshakeTimeout = 5 * time.Second
	bridgeReadLimit        = 1 << 20
)

var errBridgeClosed = errors.New("bridge connection closed")

// BridgeFactory opens channels through a pairing sidecar that owns the actual
// wire protocol. Each channel is one websocket connection to the sidecar.
type BridgeFactory struct {
	url    string
	dialer websocket.Dialer
	logger *slog.Logger
}

// bridgeFrame is the single JSON envelope used in both directions.
type bridgeFrame struct {
	Type     string        `json:"type"`
	ID       string        `json:"id,omitempty"`
	Event    EventType     `json:"event,omitempty"`
	URI      string        `json:"uri,omitempty"`
	Session  *SessionState `json:"session,omitempty"`
	Approval *Approval     `json:"approval,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Request  *PeerRequest  `json:"request,omitempty"`
	OK       bool          `json:"ok,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func NewBridgeFactory(rawURL string, logger *slog.Logger) (*BridgeFactory, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge url must use ws or wss, got %q", u.Scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeFactory{
		url: u.String(),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: bridgeHandshakeTimeout,
		},
		logger: logger.With("component", "pairing_bridge"),
	}, nil
}

func (f *BridgeFactory) Create(ctx context.Context, params CreateParams) (Channel, error) {
	if (params.URI == "") == (params.Session == nil) {
		return nil, errors.New("exactly one of uri or session is required")
	}
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial bridge: %v", ErrChannel, err)
	}
	conn.SetReadLimit(bridgeReadLimit)

	ch := &bridgeChannel{
		conn:    conn,
		logger:  f.logger,
		events:  make(chan Event, 64),
		pending: make(map[string]chan bridgeFrame),
		done:    make(chan struct{}),
	}
	go ch.readLoop()

	ack, err := ch.call(ctx, bridgeFrame{Type: "create", URI: params.URI, Session: params.Session})
	if err != nil {
		ch.close()
		return nil, err
	}
	if ack.Session != nil {
		ch.setState(*ack.Session)
	} else if params.Session != nil {
		ch.setState(*params.Session)
	}
	return ch, nil
}

type bridgeChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	state   SessionState
	pending map[string]chan bridgeFrame

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *bridgeChannel) Events() <-chan Event { return c.events }

func (c *bridgeChannel) Approve(ctx context.Context, a Approval) error {
	ack, err := c.call(ctx, bridgeFrame{Type: "approve", Approval: &a})
	if err != nil {
		return err
	}
	if ack.Session != nil {
		c.setState(*ack.Session)
	}
	return nil
}

func (c *bridgeChannel) Reject(ctx context.Context, reason string) error {
	defer c.close()
	_, err := c.call(ctx, bridgeFrame{Type: "reject", Reason: reason})
	return err
}

func (c *bridgeChannel) Update(ctx context.Context, a Approval) error {
	ack, err := c.call(ctx, bridgeFrame{Type: "update", Approval: &a})
	if err != nil {
		return err
	}
	if ack.Session != nil {
		c.setState(*ack.Session)
	}
	return nil
}

func (c *bridgeChannel) Kill(ctx context.Context) error {
	defer c.close()
	_, err := c.call(ctx, bridgeFrame{Type: "kill"})
	return err
}

func (c *bridgeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Connected
}

func (c *bridgeChannel) Session() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *bridgeChannel) setState(s SessionState) {
	c.mu.Lock()
	c.state = s.Clone()
	c.mu.Unlock()
}

func (c *bridgeChannel) call(ctx context.Context, frame bridgeFrame) (bridgeFrame, error) {
	frame.ID = uuid.NewString()
	reply := make(chan bridgeFrame, 1)

	c.mu.Lock()
	c.pending[frame.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return bridgeFrame{}, fmt.Errorf("%w: %s: %v", ErrChannel, frame.Type, err)
	}

	select {
	case <-ctx.Done():
		return bridgeFrame{}, ctx.Err()
	case <-c.done:
		return bridgeFrame{}, fmt.Errorf("%w: %s: %v", ErrChannel, frame.Type, errBridgeClosed)
	case ack := <-reply:
		if !ack.OK {
			return ack, fmt.Errorf("%w: %s rejected by bridge: %s", ErrChannel, frame.Type, ack.Error)
		}
		return ack, nil
	}
}

func (c *bridgeChannel) write(frame bridgeFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	return c.conn.WriteJSON(frame)
}

func (c *bridgeChannel) readLoop() {
	defer close(c.events)
	defer c.close()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("bridge read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed bridge frame", "error", err)
			continue
		}

		switch frame.Type {
		case "ack":
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- frame:
				default:
				}
			}
		case "event":
			ev, ok := c.toEvent(frame)
			if !ok {
				c.logger.Warn("dropping unknown bridge event", "event", frame.Event)
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		default:
			c.logger.Warn("dropping unknown bridge frame", "type", frame.Type)
		}
	}
}

func (c *bridgeChannel) toEvent(frame bridgeFrame) (Event, bool) {
	if frame.Session != nil {
		c.setState(*frame.Session)
	}
	ev := Event{Type: frame.Event, Session: c.Session()}
	switch frame.Event {
	case EventPairingRequested, EventConnected, EventDisconnected:
	case EventPeerRequest:
		if frame.Request == nil {
			return Event{}, false
		}
		ev.Request = frame.Request
	case EventError:
		msg := strings.TrimSpace(frame.Error)
		if msg == "" {
			msg = "unspecified bridge error"
		}
		ev.Err = fmt.Errorf("%w: %s", ErrChannel, msg)
	default:
		return Event{}, false
	}
	return ev, true
}

func (c *bridgeChannel) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}
