package domain

import (
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/database"
)

// UserModel is the GORM model for users table.
type UserModel struct {
	ID               string               `gorm:"type:varchar(36);primaryKey"`
	Username         string               `gorm:"type:varchar(100);index"`
	FullName         string               `gorm:"type:varchar(200)"`
	BlockedUsers     database.StringArray `gorm:"type:text"`
	AllowMessaging   bool                 `gorm:"not null"`
	ShowOnlineStatus bool                 `gorm:"not null"`
	CreatedAt        time.Time            `gorm:"autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string { return "users" }

func (m *UserModel) ToDomain() *User {
	blocked := []string(m.BlockedUsers)
	if blocked == nil {
		blocked = []string{}
	}
	return &User{
		ID:               m.ID,
		Username:         m.Username,
		FullName:         m.FullName,
		BlockedUsers:     blocked,
		AllowMessaging:   m.AllowMessaging,
		ShowOnlineStatus: m.ShowOnlineStatus,
		CreatedAt:        m.CreatedAt,
	}
}

// MessageModel is the GORM model for direct messages.
type MessageModel struct {
	ID          string     `gorm:"type:varchar(36);primaryKey"`
	SenderID    string     `gorm:"type:varchar(36);index:idx_messages_pair;not null"`
	ReceiverID  string     `gorm:"type:varchar(36);index:idx_messages_pair;not null"`
	Text        string     `gorm:"type:text"`
	Image       string     `gorm:"type:text"`
	FileURL     string     `gorm:"type:text"`
	FileName    string     `gorm:"type:varchar(255)"`
	FileType    string     `gorm:"type:varchar(100)"`
	FileSize    int64
	Status      string     `gorm:"type:varchar(16);not null;index"`
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

func (MessageModel) TableName() string { return "messages" }

func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Text:        m.Text,
		Image:       m.Image,
		File:        fileFromColumns(m.FileURL, m.FileName, m.FileType, m.FileSize),
		Status:      MessageStatus(m.Status),
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
		CreatedAt:   m.CreatedAt,
	}
}

func MessageToModel(msg *Message) *MessageModel {
	m := &MessageModel{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		Text:        msg.Text,
		Image:       msg.Image,
		Status:      string(msg.Status),
		DeliveredAt: msg.DeliveredAt,
		ReadAt:      msg.ReadAt,
		CreatedAt:   msg.CreatedAt,
	}
	if msg.File != nil {
		m.FileURL, m.FileName, m.FileType, m.FileSize = msg.File.URL, msg.File.Name, msg.File.Type, msg.File.Size
	}
	return m
}

// GroupModel is the GORM model for groups.
type GroupModel struct {
	ID          string               `gorm:"type:varchar(36);primaryKey"`
	Name        string               `gorm:"type:varchar(200);not null"`
	Description string               `gorm:"type:text"`
	Admin       string               `gorm:"type:varchar(36);not null"`
	Members     database.StringArray `gorm:"type:text"`
	IsPrivate   bool
	Version     int64     `gorm:"not null;default:1"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (GroupModel) TableName() string { return "chat_groups" }

func (m *GroupModel) ToDomain() *Group {
	members := []string(m.Members)
	if members == nil {
		members = []string{}
	}
	return &Group{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Admin:       m.Admin,
		Members:     members,
		IsPrivate:   m.IsPrivate,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Version:     m.Version,
	}
}

func GroupToModel(g *Group) *GroupModel {
	return &GroupModel{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Admin:       g.Admin,
		Members:     database.StringArray(g.Members),
		IsPrivate:   g.IsPrivate,
		Version:     g.Version,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

// GroupMessageModel is the GORM model for group messages. Receipts live in
// their own table so that appending one is a single-row insert.
type GroupMessageModel struct {
	ID        string `gorm:"type:varchar(36);primaryKey"`
	GroupID   string `gorm:"type:varchar(36);not null;index"`
	SenderID  string `gorm:"type:varchar(36);not null"`
	Text      string `gorm:"type:text"`
	Image     string `gorm:"type:text"`
	FileURL   string `gorm:"type:text"`
	FileName  string `gorm:"type:varchar(255)"`
	FileType  string `gorm:"type:varchar(100)"`
	FileSize  int64
	Status    string    `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (GroupMessageModel) TableName() string { return "group_messages" }

func (m *GroupMessageModel) ToDomain(receipts []ReceiptModel) *GroupMessage {
	gm := &GroupMessage{
		ID:          m.ID,
		GroupID:     m.GroupID,
		SenderID:    m.SenderID,
		Text:        m.Text,
		Image:       m.Image,
		File:        fileFromColumns(m.FileURL, m.FileName, m.FileType, m.FileSize),
		Status:      MessageStatus(m.Status),
		DeliveredTo: []Receipt{},
		ReadBy:      []Receipt{},
		CreatedAt:   m.CreatedAt,
	}
	for _, r := range receipts {
		rc := Receipt{UserID: r.UserID, Timestamp: r.AckedAt}
		switch MessageStatus(r.Kind) {
		case StatusDelivered:
			gm.DeliveredTo = append(gm.DeliveredTo, rc)
		case StatusRead:
			gm.ReadBy = append(gm.ReadBy, rc)
		}
	}
	return gm
}

func GroupMessageToModel(msg *GroupMessage) *GroupMessageModel {
	m := &GroupMessageModel{
		ID:        msg.ID,
		GroupID:   msg.GroupID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		Image:     msg.Image,
		Status:    string(msg.Status),
		CreatedAt: msg.CreatedAt,
	}
	if msg.File != nil {
		m.FileURL, m.FileName, m.FileType, m.FileSize = msg.File.URL, msg.File.Name, msg.File.Type, msg.File.Size
	}
	return m
}

// ReceiptModel is one member's delivered or read acknowledgement of a group
// message. The unique index keeps a member from appearing twice per kind.
type ReceiptModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	MessageID string    `gorm:"type:varchar(36);not null;uniqueIndex:uidx_receipt"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:uidx_receipt"`
	Kind      string    `gorm:"type:varchar(16);not null;uniqueIndex:uidx_receipt"`
	AckedAt   time.Time `gorm:"not null"`
}

func (ReceiptModel) TableName() string { return "group_message_receipts" }

// Models lists every table the service migrates.
func Models() []interface{} {
	return []interface{}{
		&UserModel{},
		&MessageModel{},
		&GroupModel{},
		&GroupMessageModel{},
		&ReceiptModel{},
	}
}

func fileFromColumns(url, name, typ string, size int64) *FileAttachment {
	if url == "" {
		return nil
	}
	return &FileAttachment{URL: url, Name: name, Type: typ, Size: size}
}
