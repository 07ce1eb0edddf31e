package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/txlens/internal/protocol"
	"github.com/ent0n29/txlens/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleEventsWS streams presentation events and accepts client actions on
// the same socket.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event feed not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
				continue
			case m, ok := <-events:
				if !ok {
					cancel()
					return
				}
				msg = m
			case m := <-replies:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.reply(replies, errorEvent("invalid_client_message", false, err))
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		if err := s.dispatchClient(ctx, parsed); err != nil {
			status, code := errorStatus(err)
			s.reply(replies, errorEvent(code, status >= http.StatusInternalServerError, err))
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) dispatchClient(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientPair:
		return s.sessions.CreateSession(ctx, session.CreateParams{URI: m.URI})
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionApprove:
			return s.approve(ctx, m.Accounts, m.Network)
		case protocol.ActionDecline:
			return s.sessions.Decline(ctx, m.Reason)
		default:
			return s.sessions.Disconnect(ctx)
		}
	case protocol.ClientSelectAccount:
		return s.sessions.SelectAccount(ctx, m.Address)
	default:
		return nil
	}
}

// reply queues a direct answer to this client, dropping it when the writer is
// saturated.
func (s *Server) reply(replies chan<- any, msg any) {
	select {
	case replies <- msg:
	default:
		if t, ok := protocol.TypeOf(msg); ok {
			s.metrics.FeedDrops.WithLabelValues(string(t)).Inc()
		}
	}
}

func errorEvent(code string, retryable bool, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    "gateway",
		Retryable: retryable,
		Detail:    err.Error(),
	}
}
