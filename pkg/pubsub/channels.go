package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for chat status events.
const (
	// Per-user status stream (direct message lifecycle, presence).
	ChannelUserStatus = "chat:user:%s:status"

	// Per-group status stream (group message lifecycle, membership).
	ChannelGroupStatus = "chat:group:%s:status"
)

// Event types published on status channels.
const (
	EventMessageStatus      = "message_status"
	EventGroupMessageStatus = "group_message_status"
	EventPresence           = "presence"
	EventMembership         = "membership"
)

// UserStatusChannel returns the status channel for a user.
func UserStatusChannel(userID string) string {
	return fmt.Sprintf(ChannelUserStatus, userID)
}

// GroupStatusChannel returns the status channel for a group.
func GroupStatusChannel(groupID string) string {
	return fmt.Sprintf(ChannelGroupStatus, groupID)
}

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and message key.
//
//	"chat:user:U1:status"  → topic: "chat-user-status",  key: "U1"
//	"chat:group:G1:status" → topic: "chat-group-status", key: "G1"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	topic = strings.Join([]string{parts[0], parts[1], parts[3]}, "-")
	return topic, parts[2], nil
}

// statusTopics lists the topics the Kafka driver provisions on startup.
func statusTopics() []string {
	user, _, _ := channelToTopicAndKey(UserStatusChannel("x"))
	group, _, _ := channelToTopicAndKey(GroupStatusChannel("x"))
	return []string{user, group}
}
