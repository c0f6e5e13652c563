package chatws

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/tonylyon7/Fitness/internal/models"
	"github.com/tonylyon7/Fitness/internal/services"
)

// Hub is the room registry for realtime fan-out. Every admitted connection
// lives in its user's room; conversation rooms exist only for the advisory
// join/typing traffic. All registry state is confined to the Run goroutine
// and reached through channels, so concurrent connects, disconnects and
// emits serialize naturally. Enqueueing an event never blocks the caller: a
// full queue drops the event, a slow client is evicted.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	deliveries chan delivery
}

type subscription struct {
	client *Client
	room   string
	leave  bool
}

type delivery struct {
	room    string
	exclude *Client
	payload []byte
}

// Event is the envelope for every server-emitted frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	user  models.UserSummary
	send  chan []byte
	rooms map[string]struct{}

	// mu guards closed: the hub closes send on eviction while ReadPump may
	// still be writing error frames on the same channel.
	mu     sync.Mutex
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		deliveries: make(chan delivery, 256),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, user models.UserSummary) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		user:  user,
		send:  make(chan []byte, 32),
		rooms: make(map[string]struct{}),
	}
}

func userRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func conversationRoom(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.addToRoom(client, userRoom(client.user.ID))
		case client := <-h.unregister:
			h.removeClient(client)
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			if sub.leave {
				h.removeFromRoom(sub.client, sub.room)
			} else {
				h.addToRoom(sub.client, sub.room)
			}
		case d := <-h.deliveries:
			h.deliver(d)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// NotifyUser implements services.EventNotifier: the event reaches every
// connection currently in the user's room.
func (h *Hub) NotifyUser(userID int64, event string, payload any) {
	h.emit(userRoom(userID), nil, event, payload)
}

func (h *Hub) joinConversation(client *Client, conversationID int64) {
	h.subscribe <- subscription{client: client, room: conversationRoom(conversationID)}
}

func (h *Hub) leaveConversation(client *Client, conversationID int64) {
	h.subscribe <- subscription{client: client, room: conversationRoom(conversationID), leave: true}
}

func (h *Hub) emit(room string, exclude *Client, event string, payload any) {
	encoded, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		log.Printf("chat hub encode %s: %v", event, err)
		return
	}

	select {
	case h.deliveries <- delivery{room: room, exclude: exclude, payload: encoded}:
	default:
		log.Printf("chat hub queue full, dropping %s for %s", event, room)
	}
}

func (h *Hub) addToRoom(client *Client, room string) {
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Client]struct{})
		h.rooms[room] = set
	}
	set[client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) removeFromRoom(client *Client, room string) {
	delete(client.rooms, room)
	set, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for room := range client.rooms {
		h.removeFromRoom(client, room)
	}
	client.closeSend()
}

func (h *Hub) deliver(d delivery) {
	set, ok := h.rooms[d.room]
	if !ok {
		return
	}

	for client := range set {
		if client == d.exclude {
			continue
		}
		if !client.trySend(d.payload) {
			h.removeClient(client)
		}
	}
}

// trySend enqueues a frame without blocking. It reports false when the
// client's queue is full or the client has already been evicted.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type participantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

type clientEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type presencePayload struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Name           string `json:"name"`
}

// ReadPump handles the connection's client-initiated traffic: conversation
// room join/leave and the transient typing indicators. Everything else a
// client could want happens over HTTP.
func (c *Client) ReadPump(checker participantChecker) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var event clientEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			c.writeError("invalid event payload")
			continue
		}

		conversationID, err := strconv.ParseInt(event.ConversationID, 10, 64)
		if err != nil || conversationID <= 0 {
			c.writeError("invalid conversation id")
			continue
		}

		presence := presencePayload{
			ConversationID: conversationID,
			UserID:         c.user.ID,
			Name:           c.user.Name,
		}

		switch event.Type {
		case "join_chat":
			ok, err := checker.IsParticipant(context.Background(), conversationID, c.user.ID)
			if err != nil || !ok {
				c.writeError("not a participant")
				continue
			}
			c.hub.joinConversation(c, conversationID)
			c.hub.emit(conversationRoom(conversationID), c, "user_joined", presence)
		case "leave_chat":
			c.hub.leaveConversation(c, conversationID)
			c.hub.emit(conversationRoom(conversationID), c, "user_left", presence)
		case "typing_start":
			c.hub.emit(conversationRoom(conversationID), c, "user_typing", presence)
		case "typing_stop":
			c.hub.emit(conversationRoom(conversationID), c, "user_stopped_typing", presence)
		default:
			c.writeError("unsupported event type")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) writeError(message string) {
	payload, err := json.Marshal(Event{
		Type: "error",
		Data: map[string]string{
			"message":   message,
			"timestamp": services.FormatChatTimestamp(time.Now().UTC()),
		},
	})
	if err != nil {
		return
	}
	if !c.trySend(payload) {
		c.hub.Unregister(c)
	}
}
