// Package audit writes security-relevant user actions to the log stream
// tagged log_type=audit.
package audit

import (
	"context"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const (
	ActionConnect          = "chat.connect"
	ActionConnectFailed    = "chat.connect_failed"
	ActionDisconnect       = "chat.disconnect"
	ActionSendMessage      = "chat.send_message"
	ActionSendGroupMessage = "chat.send_group_message"
	ActionGroupCreate      = "chat.group_create"
	ActionGroupAddMember   = "chat.group_add_member"
	ActionGroupRemove      = "chat.group_remove_member"
	ActionGroupLeave       = "chat.group_leave"
	ActionBlock            = "chat.block"
	ActionUnblock          = "chat.unblock"
	ActionPrivacy          = "chat.privacy_update"
)

const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits an audit entry for userID acting on targetID. targetID may be empty.
func Log(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	evt := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID)
	if targetID != "" {
		evt = evt.Str(FieldTargetID, targetID)
	}
	evt.Msg(msg)
}

// LogWithDetail is Log with a free-form detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	evt := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail)
	if targetID != "" {
		evt = evt.Str(FieldTargetID, targetID)
	}
	evt.Msg(msg)
}
