package domain

import (
	"strings"
	"time"
)

// FileAttachment describes a file shared in a message. The file itself
// lives in external storage.
type FileAttachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Content is the user-supplied body of a message.
type Content struct {
	Text  string          `json:"text,omitempty"`
	Image string          `json:"image,omitempty"`
	File  *FileAttachment `json:"file,omitempty"`
}

// Normalize trims the text and drops an attachment without a URL.
func (c Content) Normalize() Content {
	c.Text = strings.TrimSpace(c.Text)
	c.Image = strings.TrimSpace(c.Image)
	if c.File != nil && strings.TrimSpace(c.File.URL) == "" {
		c.File = nil
	}
	return c
}

func (c Content) IsEmpty() bool {
	return c.Text == "" && c.Image == "" && c.File == nil
}

// Message is a direct message between two users.
type Message struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"senderId"`
	ReceiverID  string          `json:"receiverId"`
	Text        string          `json:"text,omitempty"`
	Image       string          `json:"image,omitempty"`
	File        *FileAttachment `json:"file,omitempty"`
	Status      MessageStatus   `json:"status"`
	DeliveredAt *time.Time      `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time      `json:"readAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Receipt records one member acknowledging a group message.
type Receipt struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupMessage is a message posted to a group. DeliveredTo and ReadBy hold
// at most one receipt per member.
type GroupMessage struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"groupId"`
	SenderID    string          `json:"senderId"`
	Text        string          `json:"text,omitempty"`
	Image       string          `json:"image,omitempty"`
	File        *FileAttachment `json:"file,omitempty"`
	Status      MessageStatus   `json:"status"`
	DeliveredTo []Receipt       `json:"deliveredTo"`
	ReadBy      []Receipt       `json:"readBy"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Group is a named set of members with exactly one admin, who is always
// one of the members.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Admin       string    `json:"admin"`
	Members     []string  `json:"members"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int64     `json:"-"`
}

func (g *Group) IsMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (g *Group) IsAdmin(userID string) bool {
	return g.Admin == userID
}

// User is the chat-side view of an identity issued by the auth provider.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	FullName         string    `json:"fullName,omitempty"`
	BlockedUsers     []string  `json:"blockedUsers"`
	AllowMessaging   bool      `json:"allowMessaging"`
	ShowOnlineStatus bool      `json:"showOnlineStatus"`
	CreatedAt        time.Time `json:"createdAt"`
}

// HasBlocked reports whether u blocked userID.
func (u *User) HasBlocked(userID string) bool {
	for _, b := range u.BlockedUsers {
		if b == userID {
			return true
		}
	}
	return false
}

// PrivacySettings is a partial update; nil fields are left unchanged.
type PrivacySettings struct {
	ShowOnlineStatus *bool `json:"showOnlineStatus"`
	AllowMessaging   *bool `json:"allowMessaging"`
}

// Page bounds a history query.
type Page struct {
	Limit int
	Skip  int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200

	MaxTextLength  = 1000
	MaxQueryLength = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}
