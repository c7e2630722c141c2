package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Type names a relay message.
type Type string

const (
	TypeMaskUpdate         Type = "maskUpdate"
	TypeIsMaskOn           Type = "isMaskOn"
	TypeHistoryUpdate      Type = "historyUpdate"
	TypeContentScriptReady Type = "contentScriptReady"
)

// ErrInvalidMessage is wrapped by Validate and the typed accessors.
var ErrInvalidMessage = errors.New("relay: invalid message")

// Message is the envelope passed between the background side and a tab.
type Message struct {
	Type  Type            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MaskUpdate builds a maskUpdate message.
func MaskUpdate(v float64) Message { return newMessage(TypeMaskUpdate, v) }

// IsMaskOn builds an isMaskOn message.
func IsMaskOn(on bool) Message { return newMessage(TypeIsMaskOn, on) }

// HistoryUpdate builds a historyUpdate message.
func HistoryUpdate(url string) Message { return newMessage(TypeHistoryUpdate, url) }

// ContentScriptReady builds the handshake probe.
func ContentScriptReady() Message { return Message{Type: TypeContentScriptReady} }

// newMessage leaves Value empty when v cannot be encoded, so Validate
// rejects the message.
func newMessage(t Type, v any) Message {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("relay: encode message value", "type", t, "error", err)
		return Message{Type: t}
	}
	return Message{Type: t, Value: b}
}

// Validate checks that the type is known and the value has the right shape.
func (m Message) Validate() error {
	switch m.Type {
	case TypeMaskUpdate:
		_, err := m.MaskValue()
		return err
	case TypeIsMaskOn:
		_, err := m.MaskOn()
		return err
	case TypeHistoryUpdate:
		_, err := m.URL()
		return err
	case TypeContentScriptReady:
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
}

// MaskValue decodes a maskUpdate value. It must be a finite number above 0.
func (m Message) MaskValue() (float64, error) {
	var v float64
	if err := m.decode(TypeMaskUpdate, &v); err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: mask value %v must be greater than 0", ErrInvalidMessage, v)
	}
	return v, nil
}

// MaskOn decodes an isMaskOn value.
func (m Message) MaskOn() (bool, error) {
	var on bool
	err := m.decode(TypeIsMaskOn, &on)
	return on, err
}

// URL decodes a historyUpdate value.
func (m Message) URL() (string, error) {
	var u string
	err := m.decode(TypeHistoryUpdate, &u)
	return u, err
}

func (m Message) decode(want Type, dst any) error {
	if m.Type != want {
		return fmt.Errorf("%w: type %q is not %q", ErrInvalidMessage, m.Type, want)
	}
	if len(m.Value) == 0 {
		return fmt.Errorf("%w: %s has no value", ErrInvalidMessage, m.Type)
	}
	if err := json.Unmarshal(m.Value, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, m.Type, err)
	}
	return nil
}
