package ws

import (
	"testing"

	"github.com/gorilla/websocket"

	"messaging-service/internal/models"
)

func messageFixture() models.Message {
	return models.Message{ID: 1, GroupID: 7, SenderID: 1, Ciphertext: []byte{1}, IV: []byte{2}}
}

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient(2, nil, ConnInfo{ConnID: "c1", UserID: 1})
	if hub.ClientCount(2) != 1 {
		t.Fatalf("expected group room to be created")
	}

	hub.RemoveClient(2, nil)
	if hub.ClientCount(2) != 0 {
		t.Fatalf("expected group room to be removed")
	}
	if len(hub.rooms) != 0 {
		t.Fatalf("expected empty room to be dropped")
	}
}

func TestHubBroadcastSnapshotSurvivesRoomChanges(t *testing.T) {
	hub := NewHub()
	c1 := new(websocket.Conn)
	c2 := new(websocket.Conn)
	hub.AddClient(3, c1, ConnInfo{ConnID: "c1", UserID: 1})
	hub.AddClient(3, c2, ConnInfo{ConnID: "c2", UserID: 2})

	conns := hub.roomSnapshot(3)
	hub.RemoveClient(3, c1)

	// the snapshot taken for a broadcast is detached from the live room
	if len(conns) != 2 {
		t.Fatalf("expected snapshot of 2 connections, got %d", len(conns))
	}
	if hub.ClientCount(3) != 1 {
		t.Fatalf("expected 1 live connection after removal, got %d", hub.ClientCount(3))
	}
}

func TestHubBroadcastToEmptyRoom(t *testing.T) {
	hub := NewHub()

	// a group with no live connections is a no-op, not an error
	hub.BroadcastMessage(7, messageFixture())
}
