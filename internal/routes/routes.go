package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tonylyon7/Fitness/internal/config"
	"github.com/tonylyon7/Fitness/internal/handlers"
	"github.com/tonylyon7/Fitness/internal/middleware"
	"github.com/tonylyon7/Fitness/internal/repository"
	"github.com/tonylyon7/Fitness/internal/services"
	chatws "github.com/tonylyon7/Fitness/internal/websocket"
)

// RegisterRoutes wires repositories, services, the realtime hub and the HTTP
// surface. The hub is constructed here and handed to whoever emits events;
// there is no package-level server handle.
func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	chatHub := chatws.NewHub()
	go chatHub.Run()

	chatService := services.NewChatService(db, conversationRepo, messageRepo, userRepo, chatHub)

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chatService, chatHub, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	users := authProtected.Group("/users")
	users.Get("/:id", authHandler.GetUser)

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))
}
