package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/tonylyon7/Fitness/internal/models"
	"github.com/tonylyon7/Fitness/internal/services"
	chatws "github.com/tonylyon7/Fitness/internal/websocket"
	"github.com/tonylyon7/Fitness/pkg/utils"
)

var validate = validator.New()

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, actorID int64, in services.CreateConversationInput) (*models.Conversation, error)
	ListMessages(ctx context.Context, actorID int64, conversationID int64, page int, limit int) ([]models.Message, int, error)
	SendMessage(ctx context.Context, actorID int64, conversationID int64, in services.SendMessageInput) (*models.Message, error)
	IsParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
	ResolveUser(ctx context.Context, userID int64) (*models.UserSummary, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

type createConversationRequest struct {
	ParticipantIDs []int64 `json:"participant_ids" validate:"required,min=1,dive,gt=0"`
	Kind           string  `json:"kind" validate:"omitempty,oneof=direct group support"`
	DisplayName    *string `json:"display_name" validate:"omitempty,max=120"`
}

type sendMessageRequest struct {
	Content     string  `json:"content" validate:"max=4000"`
	ContentType string  `json:"content_type" validate:"omitempty,oneof=text image video file"`
	MediaURL    *string `json:"media_url" validate:"omitempty,url"`
	ReplyToID   *int64  `json:"reply_to_id" validate:"omitempty,gt=0"`
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actorID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.service.ListConversations(c.Context(), actorID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	actorID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	conversation, err := h.service.CreateConversation(c.Context(), actorID, services.CreateConversationInput{
		ParticipantIDs: req.ParticipantIDs,
		Kind:           req.Kind,
		DisplayName:    req.DisplayName,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actorID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), actorID, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actorID, err := actorUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	message, err := h.service.SendMessage(c.Context(), actorID, conversationID, services.SendMessageInput{
		Content:     req.Content,
		ContentType: req.ContentType,
		MediaURL:    req.MediaURL,
		ReplyToID:   req.ReplyToID,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

// WebSocketAuth is the connection gatekeeper: it verifies the bearer
// credential and resolves the user before the upgrade completes. It runs once
// per connection; admitted connections are auto-joined to their user room.
func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	user, err := h.service.ResolveUser(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unknown user"})
	}

	c.Locals("ws_user", *user)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	user, ok := conn.Locals("ws_user").(models.UserSummary)
	if !ok {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, user)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func actorUserID(c *fiber.Ctx) (int64, error) {
	raw, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, errors.New("missing user id")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errors.New("invalid user id")
	}
	return userID, nil
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidParticipants):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Direct conversations must have exactly 2 participants"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrConversationExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Conversation already exists"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
