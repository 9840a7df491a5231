package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/lifecycle"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/internal/typing"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// eventHandler handles one inbound event type. A non-nil error is reported
// back to the connection as an error event.
type eventHandler func(ctx context.Context, c *hub.Client, data json.RawMessage) error

type chatService struct {
	hub      *hub.Hub
	tracker  *lifecycle.Tracker
	relay    *typing.Relay
	messages MessageService
	handlers map[string]eventHandler
}

func NewChatService(h *hub.Hub, tracker *lifecycle.Tracker, relay *typing.Relay, messages MessageService) ChatService {
	s := &chatService{
		hub:      h,
		tracker:  tracker,
		relay:    relay,
		messages: messages,
	}
	s.handlers = map[string]eventHandler{
		domain.EventMessageDelivered:      s.handleMessageDelivered,
		domain.EventMessageRead:           s.handleMessageRead,
		domain.EventGroupMessageDelivered: s.handleGroupMessageDelivered,
		domain.EventGroupMessageRead:      s.handleGroupMessageRead,
		domain.EventTypingStart:           s.handleTypingStart,
		domain.EventTypingStop:            s.handleTypingStop,
		domain.EventSendMessage:           s.handleSendMessage,
		domain.EventSendGroupMessage:      s.handleSendGroupMessage,
		domain.EventPing:                  s.handlePing,
	}
	return s
}

// HandleConnect routes the user to c. A previous connection of the same
// user stays open but no longer receives routed events.
func (s *chatService) HandleConnect(ctx context.Context, c *hub.Client) {
	s.hub.Register(c)
	audit.Log(ctx, audit.ActionConnect, c.UserID, c.ID, "websocket connected")
}

// HandleDisconnect runs after the read pump exits and has removed the
// connection from the hub.
func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) {
	audit.LogWithDetail(ctx, audit.ActionDisconnect, c.UserID, c.ID,
		time.Since(c.ConnectedAt).Round(time.Second).String(), "websocket disconnected")
}

func (s *chatService) HandleEvent(ctx context.Context, c *hub.Client, raw []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		metrics.InboundEvents.WithLabelValues("invalid", domain.ErrCodeBadRequest).Inc()
		s.replyError(ctx, c, "", domain.ErrInvalidPayload)
		return
	}

	handler, ok := s.handlers[env.Type]
	if !ok {
		metrics.InboundEvents.WithLabelValues("unknown", domain.ErrCodeBadRequest).Inc()
		s.replyError(ctx, c, env.Type, fmt.Errorf("unknown event type %q: %w", env.Type, domain.ErrInvalidPayload))
		return
	}

	err := handler(ctx, c, env.Data)
	result := "OK"
	if err != nil {
		result = domain.ErrorCode(err)
		s.replyError(ctx, c, env.Type, err)
	}
	metrics.InboundEvents.WithLabelValues(env.Type, result).Inc()
}

func (s *chatService) reply(c *hub.Client, event string, payload interface{}) {
	data, err := json.Marshal(&domain.Outbound{Type: event, Data: payload})
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldEvent, event).Msg("failed to encode reply")
		return
	}
	c.Enqueue(data)
}

func (s *chatService) replyError(ctx context.Context, c *hub.Client, event string, err error) {
	code := domain.ErrorCode(err)
	msg := err.Error()
	l := log.Ctx(ctx)
	if code == domain.ErrCodeInternalError {
		l.Error().Err(err).Str(log.FieldEvent, event).Msg("event failed")
		msg = "internal error, please retry"
	} else {
		l.Debug().Err(err).Str(log.FieldEvent, event).Str("code", code).Msg("event rejected")
	}
	out := domain.NewErrorEvent(code, msg)
	s.reply(c, out.Type, out.Data)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return domain.ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidPayload)
	}
	return nil
}

func (s *chatService) handleMessageDelivered(ctx context.Context, c *hub.Client, data json.RawMessage) error {
	var ref domain.MessageRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	_, err := s.tracker.MarkDelivered(ctx, ref.MessageID, c.UserID)
	return err
}

func (s *chatService) handleMessageRead(ctx context.Context, c *hub.Client, data json.RawMessage) error {
	var ref domain.MessageRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	_, err := s.tracker.MarkRead(ctx, ref.MessageID, c.UserID)
	return err
}

// groupAck decodes a group acknowledgement. The userId in the payload, if
// present, must name the connection's own user.
func groupAck(c *hub.Client, data json.RawMessage) (domain.GroupAck, error) {
	var ack domain.GroupAck
	if err := decode(data, &ack); err != nil {
		return ack, err
	}
	if ack.UserID != "" && ack.UserID != c.UserID {
		return ack, domain.ErrIdentityMismatch
	}
	return ack, nil
}

func (s *chatService) handleGroupMessageDelivered(ctx context.Context, c *hub.Client, data json.RawMessage) error {
	ack, err := groupAck(c, data)
	if err != nil {
		return err
	}
	_, err = s.tracker.MarkDeliveredForMember(ctx, ack.MessageID, c.UserID)
	return err
}

func (s *chatService) handleGroupMessageRead(ctx context.Context, c *hub.Client, data json.RawMessage) error {
	ack, err := groupAck(c, data)
	if err != nil {
		return err
	}
	_, err = s.tracker.MarkReadForMember(ctx, ack.MessageID, c.UserID)
	return err
}

func typingSignal(c *hub.Client, data json.RawMessage) (domain.TypingSignal, error) {
	var sig domain.TypingSignal
	if err := decode(data, &sig); err != nil {
		return sig, err
	}
	if sig.ReceiverID == "" {
		return sig, domain.ErrInvalidPayload
	}
	if sig.SenderID != "" && sig.SenderID != c.UserID {
		return sig, domain.ErrIdentityMismatch
	}
	return sig, nil
}

func (s *chatService) handleTypingStart(_ context.Context, c *hub.Client, data json.RawMessage) error {
	sig, err := typingSignal(c, data)
	if err != nil {
		return err
	}
	s.relay.Start(c.UserID, sig.ReceiverID)
	return nil
}

func (s *chatService) handleTypingStop(_ context.Context, c *hub.Client, data json.RawMessage) error {
	sig, err := typingSignal(c, data)
	if err != nil {
		return err
	}
	s.relay.Stop(c.UserID, sig.ReceiverID)
	return nil
}

func (s *chatService) handleSendMessage(ctx context.Context, c *hub.Client, data json.RawMessage) error {
	var req domain.SendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	sent, err := s.messages.SendDirectMessage(ctx, c.UserID, req)
	if err != nil {
		return err
	}
	s.reply(c, domain.EventMessageSent, sent)
	return nil
}

func (s *chatService) handleSendGroupMessage(ctx context.Context, c *hub.Client, data json.RawMessage) error {
	var req domain.SendGroupMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	sent, err := s.messages.SendGroupMessage(ctx, c.UserID, req)
	if err != nil {
		return err
	}
	s.reply(c, domain.EventGroupMessageSent, sent)
	return nil
}

func (s *chatService) handlePing(_ context.Context, c *hub.Client, _ json.RawMessage) error {
	s.reply(c, domain.EventPong, nil)
	return nil
}
