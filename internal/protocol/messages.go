package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientPair          MessageType = "client_pair"
	TypeClientControl       MessageType = "client_control"
	TypeClientSelectAccount MessageType = "client_select_account"

	TypeSessionState       MessageType = "session_state"
	TypeRiskVerdict        MessageType = "risk_verdict"
	TypeRiskUnavailable    MessageType = "risk_unavailable"
	TypeRequestUnsupported MessageType = "request_unsupported"
	TypeRequestRejected    MessageType = "request_rejected"
	TypeChannelError       MessageType = "channel_error"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions accepted in ClientControl.
const (
	ActionApprove    = "approve"
	ActionDecline    = "decline"
	ActionDisconnect = "disconnect"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientPair struct {
	Type MessageType `json:"type"`
	URI  string      `json:"uri"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Accounts []string    `json:"accounts,omitempty"`
	Network  string      `json:"network,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type ClientSelectAccount struct {
	Type    MessageType `json:"type"`
	Address string      `json:"address"`
}

// PeerInfo is the presentation view of the connecting application.
type PeerInfo struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	Phase     string      `json:"phase"`
	Connected bool        `json:"connected"`
	Peer      *PeerInfo   `json:"peer,omitempty"`
	Accounts  []string    `json:"accounts"`
	ChainID   int64       `json:"chain_id"`
	TSMs      int64       `json:"ts_ms"`
}

type RiskVerdict struct {
	Type        MessageType     `json:"type"`
	RequestID   int64           `json:"request_id"`
	Method      string          `json:"method"`
	Transaction map[string]any  `json:"transaction"`
	Report      json.RawMessage `json:"report"`
}

type RiskUnavailable struct {
	Type      MessageType `json:"type"`
	RequestID int64       `json:"request_id"`
	Method    string      `json:"method"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

type RequestUnsupported struct {
	Type      MessageType     `json:"type"`
	RequestID int64           `json:"request_id"`
	Method    string          `json:"method"`
	Category  string          `json:"category"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Detail    string          `json:"detail"`
}

type RequestRejected struct {
	Type      MessageType `json:"type"`
	RequestID int64       `json:"request_id"`
	Method    string      `json:"method"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

type ChannelError struct {
	Type   MessageType `json:"type"`
	Detail string      `json:"detail"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientPair:
		var msg ClientPair
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.URI) == "" {
			return nil, errors.New("invalid client_pair")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionApprove, ActionDecline, ActionDisconnect:
		default:
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientSelectAccount:
		var msg ClientSelectAccount
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Address) == "" {
			return nil, errors.New("invalid client_select_account")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientPair:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case ClientSelectAccount:
		return m.Type, true
	case SessionState:
		return m.Type, true
	case RiskVerdict:
		return m.Type, true
	case RiskUnavailable:
		return m.Type, true
	case RequestUnsupported:
		return m.Type, true
	case RequestRejected:
		return m.Type, true
	case ChannelError:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
