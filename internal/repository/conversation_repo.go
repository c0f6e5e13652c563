package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tonylyon7/Fitness/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	c.id,
	c.kind,
	c.display_name,
	c.session_id,
	c.support_ticket,
	c.last_message_sender_id,
	c.last_message_content,
	c.last_message_at,
	c.created_at,
	c.updated_at,
	array_agg(p.user_id ORDER BY p.user_id),
	array_agg(p.unread_count::bigint ORDER BY p.user_id)
`

// Create persists a conversation and one participant row per member, each
// starting at unread_count 0. For direct conversations the canonical
// participant key collides on the partial unique index, so a racing duplicate
// surfaces as a unique violation from the store.
func (r *ConversationRepository) Create(
	ctx context.Context,
	kind string,
	displayName *string,
	participantIDs []int64,
) (*models.Conversation, error) {
	var key *string
	if kind == models.ConversationDirect {
		k := directParticipantKey(participantIDs)
		key = &k
	}

	query := `
		INSERT INTO conversations (kind, display_name, participant_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	conversation := models.Conversation{
		Kind:           kind,
		DisplayName:    displayName,
		ParticipantIDs: append([]int64(nil), participantIDs...),
		UnreadCounts:   make(map[int64]int, len(participantIDs)),
	}
	err := r.db.QueryRow(ctx, query, kind, displayName, key).Scan(
		&conversation.ID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		SELECT $1, unnest($2::bigint[])
	`, conversation.ID, participantIDs)
	if err != nil {
		return nil, err
	}

	for _, id := range participantIDs {
		conversation.UnreadCounts[id] = 0
	}

	return &conversation, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE c.id = $1
		GROUP BY c.id
	`, conversationColumns)

	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

// ListForParticipant returns every conversation the user belongs to, most
// recently active first; conversations with no messages yet sort last.
func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE c.id IN (
			SELECT conversation_id
			FROM conversation_participants
			WHERE user_id = $1
		)
		GROUP BY c.id
		ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
	`, conversationColumns)

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conversations, nil
}

// TouchOnSend refreshes the denormalized last-message summary and bumps every
// other participant's unread counter. The increment is store-side arithmetic,
// never a counter read back into the application.
func (r *ConversationRepository) TouchOnSend(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
	sentAt time.Time,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_sender_id = $2,
		    last_message_content = $3,
		    last_message_at = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, conversationID, senderID, content, sentAt)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1
		  AND user_id <> $2
	`, conversationID, senderID)
	return err
}

// ResetUnread zeroes one participant's counter. It touches a different row
// than concurrent increments for other participants.
func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = $1
		  AND user_id = $2
	`, conversationID, userID)
	return err
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM conversation_participants
			WHERE conversation_id = $1
			  AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conversation      models.Conversation
		sessionID         sql.NullInt64
		supportTicket     sql.NullString
		lastSenderID      sql.NullInt64
		lastContent       sql.NullString
		lastAt            sql.NullTime
		participantIDs    []int64
		unreadCountValues []int64
	)

	if err := row.Scan(
		&conversation.ID,
		&conversation.Kind,
		&conversation.DisplayName,
		&sessionID,
		&supportTicket,
		&lastSenderID,
		&lastContent,
		&lastAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&participantIDs,
		&unreadCountValues,
	); err != nil {
		return nil, err
	}

	conversation.ParticipantIDs = participantIDs
	conversation.UnreadCounts = make(map[int64]int, len(participantIDs))
	for i, id := range participantIDs {
		if i < len(unreadCountValues) {
			conversation.UnreadCounts[id] = int(unreadCountValues[i])
		}
	}

	if sessionID.Valid || supportTicket.Valid {
		conversation.Metadata = &models.ConversationMetadata{}
		if sessionID.Valid {
			conversation.Metadata.SessionID = &sessionID.Int64
		}
		if supportTicket.Valid {
			conversation.Metadata.SupportTicket = &supportTicket.String
		}
	}

	if lastSenderID.Valid && lastAt.Valid {
		conversation.LastMessage = &models.LastMessage{
			SenderID:  lastSenderID.Int64,
			Content:   lastContent.String,
			Timestamp: lastAt.Time,
		}
	}

	return &conversation, nil
}

// directParticipantKey canonicalizes a direct pair so {A,B} and {B,A} map to
// the same unique-index key.
func directParticipantKey(participantIDs []int64) string {
	sorted := append([]int64(nil), participantIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ":")
}
