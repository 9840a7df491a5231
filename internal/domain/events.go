package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Inbound event types (client -> server).
const (
	EventMessageDelivered      = "messageDelivered"
	EventMessageRead           = "messageRead"
	EventTypingStart           = "typingStart"
	EventTypingStop            = "typingStop"
	EventGroupMessageDelivered = "groupMessageDelivered"
	EventGroupMessageRead      = "groupMessageRead"
	EventSendMessage           = "sendMessage"
	EventSendGroupMessage      = "sendGroupMessage"
	EventPing                  = "ping"
)

// Outbound event types (server -> client).
const (
	EventPresenceSnapshot         = "presenceSnapshot"
	EventMessageStatusUpdate      = "messageStatusUpdate"
	EventGroupMessageStatusUpdate = "groupMessageStatusUpdate"
	EventUserTyping               = "userTyping"
	EventUserStoppedTyping        = "userStoppedTyping"
	EventNewMessage               = "newMessage"
	EventNewGroupMessage          = "newGroupMessage"
	EventNewGroupMember           = "newGroupMember"
	EventMessageSent              = "messageSent"
	EventGroupMessageSent         = "groupMessageSent"
	EventError                    = "error"
	EventPong                     = "pong"
)

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is an envelope with a typed payload, marshalled once per emit.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client -> Server payloads

// MessageRef names a message. Clients send either a bare id string or
// an object {"messageId": "..."}.
type MessageRef struct {
	MessageID string `json:"messageId"`
}

func (r *MessageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.MessageID)
	}
	type plain MessageRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = MessageRef(p)
	return nil
}

type GroupAck struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type TypingSignal struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type SendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content
}

type SendGroupMessageRequest struct {
	GroupID string `json:"groupId"`
	Content
}

// Server -> Client payloads

type MessageStatusUpdate struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

type GroupMessageStatusUpdate struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
	UserID    string        `json:"userId"`
}

type TypingNotice struct {
	SenderID string `json:"senderId"`
}

type NewGroupMember struct {
	GroupID string `json:"groupId"`
	Member  string `json:"member"`
	AddedBy string `json:"addedBy"`
}

// MessageSent acknowledges a direct send to the sender.
type MessageSent struct {
	Message   *Message `json:"message"`
	Delivered bool     `json:"delivered"`
}

// GroupMessageSent acknowledges a group send to the sender.
type GroupMessageSent struct {
	Message    *GroupMessage `json:"message"`
	Recipients int           `json:"recipients"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code, message string) *Outbound {
	return &Outbound{
		Type: EventError,
		Data: ErrorPayload{Code: code, Message: message},
	}
}
