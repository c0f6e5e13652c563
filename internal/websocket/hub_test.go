package chatws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tonylyon7/Fitness/internal/models"
)

func readEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case payload := <-client.send:
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected event: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyUserReachesOnlyThatUsersConnections(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	sender := NewClient(hub, nil, models.UserSummary{ID: 1, Name: "alice"})
	recipientPhone := NewClient(hub, nil, models.UserSummary{ID: 2, Name: "bob"})
	recipientLaptop := NewClient(hub, nil, models.UserSummary{ID: 2, Name: "bob"})

	hub.Register(sender)
	hub.Register(recipientPhone)
	hub.Register(recipientLaptop)

	hub.NotifyUser(2, "new_message", map[string]any{"conversation_id": 17})

	for _, client := range []*Client{recipientPhone, recipientLaptop} {
		event := readEvent(t, client)
		if event.Type != "new_message" {
			t.Fatalf("expected new_message, got %q", event.Type)
		}
	}
	assertNoEvent(t, sender)
}

func TestNotifyUserForOfflineUserIsDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	online := NewClient(hub, nil, models.UserSummary{ID: 1, Name: "alice"})
	hub.Register(online)

	hub.NotifyUser(99, "new_conversation", map[string]any{"id": 5})

	assertNoEvent(t, online)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, models.UserSummary{ID: 3, Name: "carol"})
	hub.Register(client)
	hub.Unregister(client)

	// The send channel closes on unregister.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected closed channel, got payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	hub.NotifyUser(3, "new_message", map[string]any{"conversation_id": 17})
}

func TestWriteErrorAfterEvictionDoesNotPanic(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, models.UserSummary{ID: 5, Name: "eve"})
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected closed channel, got payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// ReadPump may still be handling a malformed frame after the hub has
	// evicted the connection; the error write must not hit the closed channel.
	client.writeError("invalid event payload")

	if client.trySend([]byte(`{}`)) {
		t.Fatal("expected trySend to refuse an evicted client")
	}
}

func TestSlowClientEvictionDoesNotBreakRoomDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := NewClient(hub, nil, models.UserSummary{ID: 1, Name: "alice"})
	healthy := NewClient(hub, nil, models.UserSummary{ID: 2, Name: "bob"})
	hub.Register(slow)
	hub.Register(healthy)

	hub.joinConversation(slow, 17)
	hub.joinConversation(healthy, 17)

	// Fill the slow client's queue so the next room delivery evicts it.
	for i := 0; i < cap(slow.send); i++ {
		if !slow.trySend([]byte(`{}`)) {
			t.Fatal("expected queue slot while filling")
		}
	}

	hub.emit(conversationRoom(17), nil, "user_typing", presencePayload{ConversationID: 17, UserID: 3})
	event := readEvent(t, healthy)
	if event.Type != "user_typing" {
		t.Fatalf("expected user_typing, got %q", event.Type)
	}

	// Further writes on the evicted client are refused instead of panicking.
	slow.writeError("invalid event payload")
	hub.emit(conversationRoom(17), nil, "user_typing", presencePayload{ConversationID: 17, UserID: 3})
	if event := readEvent(t, healthy); event.Type != "user_typing" {
		t.Fatalf("expected user_typing, got %q", event.Type)
	}
}

func TestConversationRoomRelayExcludesActor(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	typing := NewClient(hub, nil, models.UserSummary{ID: 1, Name: "alice"})
	watching := NewClient(hub, nil, models.UserSummary{ID: 2, Name: "bob"})
	outside := NewClient(hub, nil, models.UserSummary{ID: 4, Name: "dave"})

	hub.Register(typing)
	hub.Register(watching)
	hub.Register(outside)

	hub.joinConversation(typing, 17)
	hub.joinConversation(watching, 17)

	hub.emit(conversationRoom(17), typing, "user_typing", presencePayload{
		ConversationID: 17,
		UserID:         1,
		Name:           "alice",
	})

	event := readEvent(t, watching)
	if event.Type != "user_typing" {
		t.Fatalf("expected user_typing, got %q", event.Type)
	}
	assertNoEvent(t, typing)
	assertNoEvent(t, outside)
}

func TestLeaveConversationStopsRoomDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, models.UserSummary{ID: 2, Name: "bob"})
	hub.Register(client)

	hub.joinConversation(client, 17)
	hub.leaveConversation(client, 17)

	hub.emit(conversationRoom(17), nil, "user_typing", presencePayload{ConversationID: 17, UserID: 1})

	assertNoEvent(t, client)
}

func TestEventsDeliverInEmitOrder(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, models.UserSummary{ID: 2, Name: "bob"})
	hub.Register(client)

	hub.NotifyUser(2, "new_message", map[string]any{"seq": 1})
	hub.NotifyUser(2, "new_message", map[string]any{"seq": 2})
	hub.NotifyUser(2, "messages_read", map[string]any{"seq": 3})

	wantTypes := []string{"new_message", "new_message", "messages_read"}
	for i, want := range wantTypes {
		event := readEvent(t, client)
		if event.Type != want {
			t.Fatalf("event %d: expected %q, got %q", i, want, event.Type)
		}
	}
}
