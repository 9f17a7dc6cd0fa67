package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisper/pairchat/internal/matching"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewStore(client, "test", zerolog.Nop())
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		roomID string
		state  matching.State
		want   string
	}{
		{"no room", "", "", StatusIdle},
		{"no room with stale state", "", matching.StateJoined, StatusIdle},
		{"waiting", "r", matching.StateWaiting, StatusWaiting},
		{"chatting", "r", matching.StateJoined, StatusChatting},
		{"partner left", "r", matching.StateLeft, StatusLeft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(tt.roomID, tt.state); got != tt.want {
				t.Errorf("statusOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObserveMirrorsPresence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()
	u := matching.User{ID: "presence-test", RoomID: "room-1", FirstSeen: now, LastSeen: now, Rooms: 1}
	t.Cleanup(func() { _ = s.Delete(ctx, u.ID) })

	s.Observe(matching.Event{Kind: matching.EventUserSeen, UserID: u.ID, Members: []string{u.ID}, State: matching.StateWaiting, User: &u})

	got, err := s.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a presence record")
	}
	if got.Status != StatusWaiting || got.RoomID != "room-1" || got.Server != "test" || got.Rooms != 1 {
		t.Errorf("unexpected record %+v", got)
	}
	if ttl := s.client.TTL(ctx, SessionPrefix+u.ID).Val(); ttl <= 0 {
		t.Errorf("expected a TTL, got %v", ttl)
	}

	s.Observe(matching.Event{Kind: matching.EventUserRemoved, UserID: u.ID, User: &u})
	got, err = s.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get after removal: %v", err)
	}
	if got != nil {
		t.Errorf("expected record gone, got %+v", got)
	}
}

func TestObserveRefreshesRoomMembers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()
	a := matching.User{ID: "refresh-a", RoomID: "room-r", FirstSeen: now, LastSeen: now, Rooms: 1}
	b := matching.User{ID: "refresh-b", RoomID: "room-r", FirstSeen: now, LastSeen: now, Rooms: 1}
	t.Cleanup(func() {
		for _, id := range []string{a.ID, b.ID, "refresh-ghost"} {
			_ = s.Delete(ctx, id)
		}
	})
	if err := s.Save(ctx, a, StatusWaiting); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, b, StatusWaiting); err != nil {
		t.Fatalf("Save: %v", err)
	}

	status := func(id string) *Session {
		t.Helper()
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		return got
	}

	members := []string{a.ID, b.ID, "refresh-ghost"}
	s.Observe(matching.Event{Kind: matching.EventRoomJoined, RoomID: "room-r", UserID: b.ID, Members: members, State: matching.StateJoined})
	if got := status(a.ID); got == nil || got.Status != StatusChatting {
		t.Errorf("expected A chatting after the join, got %+v", got)
	}
	if got := status(b.ID); got == nil || got.Status != StatusChatting {
		t.Errorf("expected B chatting after the join, got %+v", got)
	}
	if got := status("refresh-ghost"); got != nil {
		t.Errorf("members without a record must not be created, got %+v", got)
	}

	s.Observe(matching.Event{Kind: matching.EventRoomLeft, RoomID: "room-r", UserID: a.ID, Members: members, State: matching.StateLeft})
	if got := status(a.ID); got == nil || got.Status != StatusIdle || got.RoomID != "" {
		t.Errorf("expected A idle without a room, got %+v", got)
	}
	if got := status(b.ID); got == nil || got.Status != StatusLeft || got.RoomID != "room-r" {
		t.Errorf("expected B left in room-r, got %+v", got)
	}

	s.Observe(matching.Event{Kind: matching.EventRoomClosed, RoomID: "room-r", UserID: b.ID, Members: members, State: matching.StateLeft})
	if got := status(b.ID); got == nil || got.Status != StatusIdle || got.RoomID != "" {
		t.Errorf("expected B idle after the room closed, got %+v", got)
	}
}

func TestOnlineAndPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.client.Del(ctx, OnlineKey)
	t.Cleanup(func() { s.client.Del(ctx, OnlineKey) })

	old := time.Now().Add(-time.Hour)
	fresh := time.Now()
	_ = s.Save(ctx, matching.User{ID: "old", FirstSeen: old, LastSeen: old}, StatusIdle)
	_ = s.Save(ctx, matching.User{ID: "fresh", FirstSeen: fresh, LastSeen: fresh}, StatusIdle)
	t.Cleanup(func() {
		_ = s.Delete(ctx, "old")
		_ = s.Delete(ctx, "fresh")
	})

	n, err := s.Online(ctx, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("Online = %d, %v; want 1", n, err)
	}
	if n, _ := s.Prune(ctx, time.Minute); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
}
