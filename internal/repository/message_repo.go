package repository

import (
	"context"
	"time"

	"github.com/tonylyon7/Fitness/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	id, conversation_id, sender_id, content, content_type, media_url, reply_to_id, created_at
`

func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
	contentType string,
	mediaURL *string,
	replyToID *int64,
) (*models.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, content, content_type, media_url, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + messageColumns

	var message models.Message
	err := r.db.QueryRow(ctx, query, conversationID, senderID, content, contentType, mediaURL, replyToID).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.ContentType,
		&message.MediaURL,
		&message.ReplyToID,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

func (r *MessageRepository) GetByIDInConversation(
	ctx context.Context,
	messageID int64,
	conversationID int64,
) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1 AND conversation_id = $2
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, messageID, conversationID).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.ContentType,
		&message.MediaURL,
		&message.ReplyToID,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation pages backward from the most recent message; callers
// reverse the page into reading order.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.ContentType,
			&message.MediaURL,
			&message.ReplyToID,
			&message.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (r *MessageRepository) ListByIDs(ctx context.Context, messageIDs []int64) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return []models.Message{}, nil
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, len(messageIDs))
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.ContentType,
			&message.MediaURL,
			&message.ReplyToID,
			&message.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// InsertReceipt records that a user has read one message. The primary key on
// (message_id, user_id) keeps readBy append-only with at most one entry per
// reader.
func (r *MessageRepository) InsertReceipt(
	ctx context.Context,
	messageID int64,
	userID int64,
	readAt time.Time,
) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, messageID, userID, readAt)
	return err
}

// MarkConversationRead appends a read receipt for every message in the
// conversation the reader has not yet read, and reports how many were
// appended. A repeat call appends nothing.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
	readAt time.Time,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, $3
		FROM messages m
		WHERE m.conversation_id = $1
		ON CONFLICT DO NOTHING
	`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListReceipts loads readBy entries for a page of messages in one query,
// keyed by message id.
func (r *MessageRepository) ListReceipts(
	ctx context.Context,
	messageIDs []int64,
) (map[int64][]models.ReadReceipt, error) {
	receipts := make(map[int64][]models.ReadReceipt, len(messageIDs))
	if len(messageIDs) == 0 {
		return receipts, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT message_id, user_id, read_at
		FROM message_reads
		WHERE message_id = ANY($1)
		ORDER BY message_id, read_at, user_id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var receipt models.ReadReceipt
		if err := rows.Scan(&messageID, &receipt.UserID, &receipt.ReadAt); err != nil {
			return nil, err
		}
		receipts[messageID] = append(receipts[messageID], receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return receipts, nil
}
