package core

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Chat/internal/domain"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is one encoded outbound event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks: a full queue yields ErrBackpressure.
	TrySend(Frame) error
	Close()
}

type envelope struct {
	Type domain.EventName `json:"type"`
	Data any              `json:"data"`
}

// Encode wraps an event into the {"type": ..., "data": ...} wire envelope.
func Encode(ev domain.Event) (Frame, error) {
	b, err := json.Marshal(envelope{Type: ev.EventName(), Data: ev})
	if err != nil {
		return nil, err
	}
	return b, nil
}
