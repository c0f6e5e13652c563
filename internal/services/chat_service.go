package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonylyon7/Fitness/internal/models"
	"github.com/tonylyon7/Fitness/internal/repository"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrConversationExists  = errors.New("conversation already exists")
)

const uniqueViolationCode = "23505"

// Events emitted to participants' live connections.
const (
	EventNewConversation = "new_conversation"
	EventNewMessage      = "new_message"
	EventMessagesRead    = "messages_read"
)

// EventNotifier delivers an event to every live connection in a user's room.
// Delivery is fire-and-forget; a failed or offline recipient never fails the
// originating request.
type EventNotifier interface {
	NotifyUser(userID int64, event string, payload any)
}

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

type ChatService struct {
	db               *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         userReader
	notifier         EventNotifier
}

func NewChatService(
	db *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo userReader,
	notifier EventNotifier,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		notifier:         notifier,
	}
}

type CreateConversationInput struct {
	ParticipantIDs []int64
	Kind           string
	DisplayName    *string
}

type SendMessageInput struct {
	Content     string
	ContentType string
	MediaURL    *string
	ReplyToID   *int64
}

type newMessageEvent struct {
	ConversationID int64           `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

type messagesReadEvent struct {
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

func (s *ChatService) ListConversations(ctx context.Context, actorID int64) ([]models.Conversation, error) {
	conversations, err := s.conversationRepo.ListForParticipant(ctx, actorID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0)
	seen := make(map[int64]struct{})
	for _, conversation := range conversations {
		for _, id := range conversation.ParticipantIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	summaries, err := s.resolveSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range conversations {
		conversations[i].Participants = participantSummaries(conversations[i].ParticipantIDs, summaries)
	}

	return conversations, nil
}

func (s *ChatService) CreateConversation(
	ctx context.Context,
	actorID int64,
	in CreateConversationInput,
) (*models.Conversation, error) {
	kind := in.Kind
	if kind == "" {
		kind = models.ConversationDirect
	}
	if !models.ValidConversationKind(kind) {
		return nil, ErrInvalidInput
	}
	if len(in.ParticipantIDs) == 0 {
		return nil, ErrInvalidInput
	}

	participantIDs, err := normalizeParticipants(actorID, in.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	if kind == models.ConversationDirect && len(participantIDs) != 2 {
		return nil, ErrInvalidParticipants
	}
	if len(participantIDs) < 2 {
		return nil, ErrInvalidParticipants
	}

	summaries, err := s.resolveSummaries(ctx, participantIDs)
	if err != nil {
		return nil, err
	}
	if len(summaries) != len(participantIDs) {
		return nil, ErrUserNotFound
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)
	conversation, err := txConversationRepo.Create(ctx, kind, in.DisplayName, participantIDs)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrConversationExists
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	conversation.Participants = participantSummaries(conversation.ParticipantIDs, summaries)

	for _, participantID := range conversation.ParticipantIDs {
		s.notifier.NotifyUser(participantID, EventNewConversation, conversation)
	}

	return conversation, nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	in SendMessageInput,
) (*models.Message, error) {
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	content, contentType, mediaURL, err := validateMessageInput(in.Content, in.ContentType, in.MediaURL)
	if err != nil {
		return nil, err
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !conversation.HasParticipant(actorID) {
		return nil, ErrForbidden
	}

	var replyTo *models.Message
	if in.ReplyToID != nil {
		replyTo, err = s.messageRepo.GetByIDInConversation(ctx, *in.ReplyToID, conversationID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidInput
			}
			return nil, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, conversationID, actorID, content, contentType, mediaURL, in.ReplyToID)
	if err != nil {
		return nil, err
	}

	// The sender has read their own message at creation time.
	if err := txMessageRepo.InsertReceipt(ctx, message.ID, actorID, message.CreatedAt); err != nil {
		return nil, err
	}

	if err := txConversationRepo.TouchOnSend(ctx, conversationID, actorID, content, message.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	message.ReadBy = []models.ReadReceipt{{UserID: actorID, ReadAt: message.CreatedAt}}
	message.ReplyTo = replyTo

	senderIDs := []int64{actorID}
	if replyTo != nil {
		senderIDs = append(senderIDs, replyTo.SenderID)
	}
	summaries, err := s.resolveSummaries(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	attachSender(message, summaries)
	if replyTo != nil {
		attachSender(replyTo, summaries)
	}

	for _, participantID := range conversation.ParticipantIDs {
		if participantID == actorID {
			continue
		}
		s.notifier.NotifyUser(participantID, EventNewMessage, newMessageEvent{
			ConversationID: conversationID,
			Message:        message,
		})
	}

	return message, nil
}

// ListMessages returns one page of history in reading order. Pagination walks
// backward from the most recent message and the page is reversed before it is
// returned, so page 1 holds the newest messages oldest-first.
//
// Fetching also marks everything in the conversation read for the requester:
// missing receipts are appended, the requester's unread counter resets, and
// the other participants are told the messages were read.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	page int,
	limit int,
) ([]models.Message, int, error) {
	if conversationID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	if !conversation.HasParticipant(actorID) {
		return nil, 0, ErrForbidden
	}

	readAt := time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	messages, total, err := txMessageRepo.ListByConversation(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	marked, err := txMessageRepo.MarkConversationRead(ctx, conversationID, actorID, readAt)
	if err != nil {
		return nil, 0, err
	}

	if marked > 0 {
		if err := txConversationRepo.ResetUnread(ctx, conversationID, actorID); err != nil {
			return nil, 0, err
		}
	}

	messageIDs := make([]int64, 0, len(messages))
	for _, message := range messages {
		messageIDs = append(messageIDs, message.ID)
	}
	receipts, err := txMessageRepo.ListReceipts(ctx, messageIDs)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}

	for i := range messages {
		if entries, ok := receipts[messages[i].ID]; ok {
			messages[i].ReadBy = entries
		} else {
			messages[i].ReadBy = []models.ReadReceipt{}
		}
	}

	// Reverse the descending page into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := s.resolveMessagePage(ctx, messages); err != nil {
		return nil, 0, err
	}

	if marked > 0 {
		for _, participantID := range conversation.ParticipantIDs {
			if participantID == actorID {
				continue
			}
			s.notifier.NotifyUser(participantID, EventMessagesRead, messagesReadEvent{
				ConversationID: conversationID,
				UserID:         actorID,
				ReadAt:         readAt,
			})
		}
	}

	return messages, total, nil
}

func (s *ChatService) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	return s.conversationRepo.IsParticipant(ctx, conversationID, userID)
}

func (s *ChatService) ResolveUser(ctx context.Context, userID int64) (*models.UserSummary, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	summary := user.Summary()
	return &summary, nil
}

// resolveMessagePage attaches sender summaries and reply targets to a page of
// messages.
func (s *ChatService) resolveMessagePage(ctx context.Context, messages []models.Message) error {
	replyIDs := make([]int64, 0)
	for _, message := range messages {
		if message.ReplyToID != nil {
			replyIDs = append(replyIDs, *message.ReplyToID)
		}
	}

	replies := make(map[int64]*models.Message, len(replyIDs))
	if len(replyIDs) > 0 {
		replyMessages, err := s.messageRepo.ListByIDs(ctx, replyIDs)
		if err != nil {
			return err
		}
		for i := range replyMessages {
			replies[replyMessages[i].ID] = &replyMessages[i]
		}
	}

	senderIDs := make([]int64, 0, len(messages))
	seen := make(map[int64]struct{})
	collect := func(id int64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			senderIDs = append(senderIDs, id)
		}
	}
	for _, message := range messages {
		collect(message.SenderID)
	}
	for _, reply := range replies {
		collect(reply.SenderID)
	}

	summaries, err := s.resolveSummaries(ctx, senderIDs)
	if err != nil {
		return err
	}

	for i := range messages {
		attachSender(&messages[i], summaries)
		if messages[i].ReplyToID != nil {
			if reply, ok := replies[*messages[i].ReplyToID]; ok {
				attachSender(reply, summaries)
				messages[i].ReplyTo = reply
			}
		}
	}

	return nil
}

func (s *ChatService) resolveSummaries(ctx context.Context, ids []int64) (map[int64]models.UserSummary, error) {
	users, err := s.userRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make(map[int64]models.UserSummary, len(users))
	for i := range users {
		summaries[users[i].ID] = users[i].Summary()
	}
	return summaries, nil
}

func attachSender(message *models.Message, summaries map[int64]models.UserSummary) {
	if summary, ok := summaries[message.SenderID]; ok {
		message.Sender = &summary
	}
}

func participantSummaries(ids []int64, summaries map[int64]models.UserSummary) []models.UserSummary {
	resolved := make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if summary, ok := summaries[id]; ok {
			resolved = append(resolved, summary)
		}
	}
	return resolved
}

// normalizeParticipants deduplicates the requested participant set, always
// including the requester, and returns it in ascending order.
func normalizeParticipants(actorID int64, participantIDs []int64) ([]int64, error) {
	seen := map[int64]struct{}{actorID: {}}
	normalized := []int64{actorID}
	for _, id := range participantIDs {
		if id <= 0 {
			return nil, ErrInvalidInput
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, id)
	}

	sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })
	return normalized, nil
}

// validateMessageInput enforces the content/contentType/mediaUrl contract:
// text messages need non-empty content and carry no media, every other type
// needs a media URL and may use the content as caption.
func validateMessageInput(content, contentType string, mediaURL *string) (string, string, *string, error) {
	if contentType == "" {
		contentType = models.ContentTypeText
	}
	if !models.ValidContentType(contentType) {
		return "", "", nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)

	if contentType == models.ContentTypeText {
		if trimmed == "" {
			return "", "", nil, ErrInvalidInput
		}
		if mediaURL != nil && strings.TrimSpace(*mediaURL) != "" {
			return "", "", nil, ErrInvalidInput
		}
		return trimmed, contentType, nil, nil
	}

	if mediaURL == nil || strings.TrimSpace(*mediaURL) == "" {
		return "", "", nil, ErrInvalidInput
	}
	url := strings.TrimSpace(*mediaURL)
	return trimmed, contentType, &url, nil
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
