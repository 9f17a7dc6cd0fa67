package matching

import "time"

// EventKind names a lobby state change.
type EventKind string

const (
	EventUserSeen    EventKind = "user_seen"
	EventUserRemoved EventKind = "user_removed"
	EventRoomOpened  EventKind = "room_opened"
	EventRoomJoined  EventKind = "room_joined"
	EventMessage     EventKind = "message"
	EventRoomLeft    EventKind = "room_left"
	EventRoomClosed  EventKind = "room_closed"
)

// Event describes one change. Room events, and user_seen events for a user in
// a room, carry the room's members and state so that consumers need not call
// back into the lobby.
type Event struct {
	Kind    EventKind `json:"kind"`
	RoomID  string    `json:"room_id,omitempty"`
	UserID  string    `json:"user_id,omitempty"`
	Members []string  `json:"members,omitempty"`
	Text    string    `json:"text,omitempty"`
	State   State     `json:"state,omitempty"` // room state after the change
	Ts      int64     `json:"ts"`

	// User is a snapshot for user events.
	User *User `json:"-"`
}

// Involves reports whether userID should care about e.
func (e Event) Involves(userID string) bool {
	if e.UserID == userID {
		return true
	}
	for _, m := range e.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Observer receives lobby events after the lobby lock is released.
// Implementations must not call back into the lobby synchronously.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

func userEvent(kind EventKind, u *User, now time.Time) Event {
	snap := *u
	return Event{Kind: kind, UserID: u.ID, RoomID: u.RoomID, User: &snap, Ts: now.UnixMilli()}
}
