package ws

import (
	"encoding/json"

	"github.com/dohr-michael/neorix/internal/modes"
)

// FrameType represents the type of WebSocket frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method represents a WebSocket request method.
type Method string

const (
	MethodSetMode     Method = "set_mode"
	MethodSendMessage Method = "send_message"
	MethodGetState    Method = "get_state"
	MethodListModes   Method = "list_modes"
)

// Frame is the WebSocket protocol envelope.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// SetModeParams are the params of set_mode.
type SetModeParams struct {
	Mode string `json:"mode"`
}

// SetModeResult answers set_mode. Changed is false when the mode was already active.
type SetModeResult struct {
	Mode    string `json:"mode"`
	Changed bool   `json:"changed"`
	Notice  string `json:"notice,omitempty"`
}

// SendMessageParams are the params of send_message.
type SendMessageParams struct {
	Content string `json:"content"`
}

// SendMessageResult answers send_message. The reply itself arrives as events.
type SendMessageResult struct {
	Status string `json:"status"` // "sent" or "ignored" for blank content
}

// ModeInfo describes one mode for list_modes and GET /api/modes.
type ModeInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
}

// ListModes returns the modes in presentation order.
func ListModes() []ModeInfo {
	all := modes.All()
	out := make([]ModeInfo, len(all))
	for i, m := range all {
		cfg := modes.ConfigFor(m)
		out[i] = ModeInfo{ID: string(m), Name: cfg.Name, Model: cfg.Model, Temperature: cfg.Temperature}
	}
	return out
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewRequestFrame creates a request Frame.
func NewRequestFrame(id string, method Method, params any) (Frame, error) {
	f := Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: string(method),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Frame{}, err
		}
		f.Params = data
	}
	return f, nil
}

// NewEventFrame creates a Frame for broadcasting an event.
func NewEventFrame(event string, sessionID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:      FrameTypeEvent,
		Event:     event,
		SessionID: sessionID,
		Payload:   data,
	}, nil
}

// NewResponseFrame creates a response Frame.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
