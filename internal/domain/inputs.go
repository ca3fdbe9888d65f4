package domain

import "encoding/json"

// Inbound payloads, one per client event.

type ConversationInput struct {
	ConversationID ConversationID `json:"conversationId"`
}

type TypingInput struct {
	ConversationID ConversationID `json:"conversationId"`
	IsTyping       bool           `json:"isTyping"`
}

type MessageReadInput struct {
	ConversationID ConversationID `json:"conversationId"`
	MessageID      MessageID      `json:"messageId"`
}

type InitiateCallInput struct {
	ConversationID ConversationID `json:"conversationId"`
	Type           MediaKind      `json:"type"`
	ParticipantIDs []UserID       `json:"participantIds"`
}

type CallInput struct {
	CallID CallID `json:"callId"`
}

// SignalInput accepts the payload under the field its kind uses
// (offer, answer, candidate) or under a generic data field.
type SignalInput struct {
	CallID    CallID          `json:"callId"`
	ToUserID  UserID          `json:"toUserId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s SignalInput) Payload() json.RawMessage {
	for _, raw := range []json.RawMessage{s.Offer, s.Answer, s.Candidate, s.Data} {
		if len(raw) > 0 {
			return raw
		}
	}
	return json.RawMessage("null")
}

type ToggleMuteInput struct {
	CallID CallID `json:"callId"`
	Muted  bool   `json:"muted"`
}

type ToggleVideoInput struct {
	CallID       CallID `json:"callId"`
	VideoEnabled bool   `json:"videoEnabled"`
}
