package typing

import (
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/router"
)

// Relay forwards typing indicators point to point. Nothing is stored.
type Relay struct {
	router *router.Router
}

func NewRelay(r *router.Router) *Relay {
	return &Relay{router: r}
}

// Start tells receiverID that senderID is typing. It reports whether the
// receiver was online.
func (r *Relay) Start(senderID, receiverID string) bool {
	return r.router.EmitToUser(receiverID, domain.EventUserTyping, domain.TypingNotice{SenderID: senderID})
}

// Stop tells receiverID that senderID stopped typing.
func (r *Relay) Stop(senderID, receiverID string) bool {
	return r.router.EmitToUser(receiverID, domain.EventUserStoppedTyping, domain.TypingNotice{SenderID: senderID})
}
