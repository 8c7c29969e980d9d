package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderAgent Sender = "agent"
)

// MessageType is the WhatsApp content type of a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
)

// Message is an immutable entry in a conversation. Seq is strictly increasing per conversation.
type Message struct {
	ID             int64       `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	MessageID      string      `json:"message_id" gorm:"column:message_id;uniqueIndex"`
	ConversationID string      `json:"conversation_id" gorm:"column:conversation_id;uniqueIndex:idx_messages_conversation_seq"`
	Seq            int64       `json:"seq" gorm:"column:seq;uniqueIndex:idx_messages_conversation_seq"`
	CompanyID      string      `json:"company_id,omitempty" gorm:"column:company_id"`
	Sender         Sender      `json:"sender" gorm:"column:sender"`
	Type           MessageType `json:"type" gorm:"column:type"`
	Text           string      `json:"text,omitempty" gorm:"column:text"`
	MediaURL       string      `json:"media_url,omitempty" gorm:"column:media_url"`
	SentAt         time.Time   `json:"sent_at" gorm:"column:sent_at"`
	CreatedAt      time.Time   `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}

// IsDocumentLike reports whether the message carries a file the team has to review.
func (m *Message) IsDocumentLike() bool {
	return m.Type == MessageDocument || m.Type == MessageImage
}
