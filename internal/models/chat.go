package models

import "time"

const (
	ConversationDirect  = "direct"
	ConversationGroup   = "group"
	ConversationSupport = "support"
)

const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
	ContentTypeVideo = "video"
	ContentTypeFile  = "file"
)

type Conversation struct {
	ID             int64                 `json:"id"`
	Kind           string                `json:"kind"`
	DisplayName    *string               `json:"display_name,omitempty"`
	ParticipantIDs []int64               `json:"participant_ids"`
	Participants   []UserSummary         `json:"participants,omitempty"`
	LastMessage    *LastMessage          `json:"last_message,omitempty"`
	UnreadCounts   map[int64]int         `json:"unread_counts"`
	Metadata       *ConversationMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// ConversationMetadata links a conversation to a coaching session or support
// ticket. The chat core stores it opaquely.
type ConversationMetadata struct {
	SessionID     *int64  `json:"session_id,omitempty"`
	SupportTicket *string `json:"support_ticket,omitempty"`
}

// LastMessage is the denormalized summary kept on the conversation row,
// refreshed transactionally with every append.
type LastMessage struct {
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       int64         `json:"sender_id"`
	Sender         *UserSummary  `json:"sender,omitempty"`
	Content        string        `json:"content"`
	ContentType    string        `json:"content_type"`
	MediaURL       *string       `json:"media_url,omitempty"`
	ReplyToID      *int64        `json:"reply_to_id,omitempty"`
	ReplyTo        *Message      `json:"reply_to,omitempty"`
	ReadBy         []ReadReceipt `json:"read_by"`
	CreatedAt      time.Time     `json:"created_at"`
}

type ReadReceipt struct {
	UserID int64     `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type PaginationMeta struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

func (c *Conversation) HasParticipant(userID int64) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func ValidConversationKind(kind string) bool {
	switch kind {
	case ConversationDirect, ConversationGroup, ConversationSupport:
		return true
	}
	return false
}

func ValidContentType(contentType string) bool {
	switch contentType {
	case ContentTypeText, ContentTypeImage, ContentTypeVideo, ContentTypeFile:
		return true
	}
	return false
}
