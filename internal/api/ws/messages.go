package ws

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
)

// Inbound control message types.
const (
	TypeInput  = "input"
	TypeResize = "resize"
	TypePing   = "ping"
)

// Outbound message types.
const (
	TypeAttached = "attached"
	TypePong     = "pong"
	TypeStatus   = "status"
	TypeError    = "error"
)

// ControlMessage is a decoded inbound text frame. Data carries input bytes
// base64 encoded, the same encoding as the HTTP input body; Input holds
// them decoded.
type ControlMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
	Input []byte `json:"-"`
}

// InputMessage builds the text frame that writes data to the terminal.
func InputMessage(data []byte) ControlMessage {
	return ControlMessage{Type: TypeInput, Data: base64.StdEncoding.EncodeToString(data)}
}

// ServerMessage is an outbound text frame.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Message   string `json:"message,omitempty"`
}

func decodeControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type == TypeInput {
		input, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return msg, fmt.Errorf("input data is not base64: %w", err)
		}
		msg.Input = input
	}
	return msg, nil
}

func encode(msg ServerMessage) ([]byte, error) {
	return sonic.Marshal(msg)
}

func errorMessage(text string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: text}
}
