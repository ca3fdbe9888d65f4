package domain

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// EventName is the wire name of a real-time event on the /chat channel.
type EventName string

// Inbound (client -> server).
const (
	EvJoinConversation  EventName = "join_conversation"
	EvLeaveConversation EventName = "leave_conversation"
	EvTyping            EventName = "typing"
	EvMessageRead       EventName = "message_read"
	EvInitiateCall      EventName = "initiate_call"
	EvJoinCall          EventName = "join_call"
	EvLeaveCall         EventName = "leave_call"
	EvWebRTCOffer       EventName = "webrtc_offer"
	EvWebRTCAnswer      EventName = "webrtc_answer"
	EvWebRTCICE         EventName = "webrtc_ice_candidate"
	EvToggleMute        EventName = "toggle_mute"
	EvToggleVideo       EventName = "toggle_video"
	EvPing              EventName = "ping"
)

// Outbound (server -> client).
const (
	EvUserStatusChange        EventName = "user_status_change"
	EvNewMessage              EventName = "new_message"
	EvUserTyping              EventName = "user_typing"
	EvMessageReadReceipt      EventName = "message_read_receipt"
	EvJoinedConversation      EventName = "joined_conversation"
	EvLeftConversation        EventName = "left_conversation"
	EvCallInitiated           EventName = "call_initiated"
	EvIncomingCall            EventName = "incoming_call"
	EvCallJoined              EventName = "call_joined"
	EvCallLeft                EventName = "call_left"
	EvCallStarted             EventName = "call_started"
	EvCallEnded               EventName = "call_ended"
	EvParticipantJoined       EventName = "participant_joined"
	EvParticipantLeft         EventName = "participant_left"
	EvParticipantMuteChanged  EventName = "participant_mute_changed"
	EvParticipantVideoChanged EventName = "participant_video_changed"
	EvWebRTCSignaling         EventName = "webrtc_signaling"
	EvError                   EventName = "error"
	EvPong                    EventName = "pong"
)

// Event is the closed set of outbound payloads. Every payload type below
// implements it; nothing else should.
type Event interface {
	EventName() EventName
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type UserStatusChange struct {
	UserID   UserID         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

type MessageSender struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type MessageReply struct {
	ID      MessageID     `json:"id"`
	Content string        `json:"content"`
	Sender  MessageSender `json:"sender"`
}

type NewMessage struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       UserID         `json:"senderId"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	CreatedAt      time.Time      `json:"createdAt"`
	Sender         MessageSender  `json:"sender"`
	ReplyTo        *MessageReply  `json:"replyTo,omitempty"`
}

type UserTyping struct {
	UserID         UserID         `json:"userId"`
	ConversationID ConversationID `json:"conversationId"`
	IsTyping       bool           `json:"isTyping"`
	User           UserRef        `json:"user"`
}

type MessageReadReceipt struct {
	MessageID      MessageID      `json:"messageId"`
	ConversationID ConversationID `json:"conversationId"`
	ReadBy         UserID         `json:"readBy"`
	ReadAt         time.Time      `json:"readAt"`
}

type JoinedConversation struct {
	ConversationID ConversationID `json:"conversationId"`
}

type LeftConversation struct {
	ConversationID ConversationID `json:"conversationId"`
}

type CallInitiated struct {
	CallID CallID `json:"callId"`
}

type IncomingCall struct {
	CallID         CallID             `json:"callId"`
	ConversationID ConversationID     `json:"conversationId"`
	InitiatorID    UserID             `json:"initiatorId"`
	Type           MediaKind          `json:"type"`
	Participants   []UserID           `json:"participants"`
	ICEServers     []webrtc.ICEServer `json:"iceServers,omitempty"`
}

type CallJoined struct {
	CallID     CallID             `json:"callId"`
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`
}

type CallLeft struct {
	CallID CallID `json:"callId"`
}

type CallStarted struct {
	CallID CallID `json:"callId"`
}

const (
	EndReasonHangup  = "hangup"
	EndReasonEmpty   = "empty"
	EndReasonTimeout = "timeout"
)

type CallEnded struct {
	CallID CallID `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type ParticipantJoined struct {
	CallID      CallID      `json:"callId"`
	UserID      UserID      `json:"userId"`
	Participant Participant `json:"participant"`
}

type ParticipantLeft struct {
	CallID CallID `json:"callId"`
	UserID UserID `json:"userId"`
}

type ParticipantMuteChanged struct {
	CallID CallID `json:"callId"`
	UserID UserID `json:"userId"`
	Muted  bool   `json:"muted"`
}

type ParticipantVideoChanged struct {
	CallID       CallID `json:"callId"`
	UserID       UserID `json:"userId"`
	VideoEnabled bool   `json:"videoEnabled"`
}

// SignalKind is passed through untouched; offer, answer and ice-candidate are
// what clients send today.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

type WebRTCSignaling struct {
	CallID     CallID          `json:"callId"`
	FromUserID UserID          `json:"fromUserId"`
	Type       SignalKind      `json:"type"`
	Data       json.RawMessage `json:"data"`
}

type Error struct {
	Message string `json:"message"`
}

type Pong struct{}

func (UserStatusChange) EventName() EventName        { return EvUserStatusChange }
func (NewMessage) EventName() EventName              { return EvNewMessage }
func (UserTyping) EventName() EventName              { return EvUserTyping }
func (MessageReadReceipt) EventName() EventName      { return EvMessageReadReceipt }
func (JoinedConversation) EventName() EventName      { return EvJoinedConversation }
func (LeftConversation) EventName() EventName        { return EvLeftConversation }
func (CallInitiated) EventName() EventName           { return EvCallInitiated }
func (IncomingCall) EventName() EventName            { return EvIncomingCall }
func (CallJoined) EventName() EventName              { return EvCallJoined }
func (CallLeft) EventName() EventName                { return EvCallLeft }
func (CallStarted) EventName() EventName             { return EvCallStarted }
func (CallEnded) EventName() EventName               { return EvCallEnded }
func (ParticipantJoined) EventName() EventName       { return EvParticipantJoined }
func (ParticipantLeft) EventName() EventName         { return EvParticipantLeft }
func (ParticipantMuteChanged) EventName() EventName  { return EvParticipantMuteChanged }
func (ParticipantVideoChanged) EventName() EventName { return EvParticipantVideoChanged }
func (WebRTCSignaling) EventName() EventName         { return EvWebRTCSignaling }
func (Error) EventName() EventName                   { return EvError }
func (Pong) EventName() EventName                    { return EvPong }
