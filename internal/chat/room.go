package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// MaxMembers is the size of every room.
	MaxMembers = 2

	msgInitiated = "Chat initiated"
	msgUserLeft  = "User left the room"
)

// Room is a two-person conversation. A room is created by its first member,
// joined by the second and terminated when either leaves.
type Room struct {
	ID         string
	Created    time.Time
	Terminator string // user who left; empty while the room is live

	members map[string]struct{}
	history *History
}

// NewRoom opens a room owned by initiator with a system greeting.
func NewRoom(id, initiator string, historySize int, now time.Time) *Room {
	r := &Room{
		ID:      id,
		Created: now,
		members: map[string]struct{}{initiator: {}},
		history: NewHistory(historySize),
	}
	r.history.Add(NewMessage("", msgInitiated, now))
	return r
}

// Join adds a member. It reports false if the room is already full.
func (r *Room) Join(userID string) bool {
	if r.IsMember(userID) {
		return true
	}
	if len(r.members) >= MaxMembers {
		return false
	}
	r.members[userID] = struct{}{}
	return true
}

// Size returns the member count.
func (r *Room) Size() int {
	return len(r.members)
}

// Waiting reports whether the room still looks for a second member.
func (r *Room) Waiting() bool {
	return len(r.members) < MaxMembers && !r.Terminated()
}

// Terminated reports whether a member has left.
func (r *Room) Terminated() bool {
	return r.Terminator != ""
}

// IsMember reports whether userID belongs to the room.
func (r *Room) IsMember(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

// Members returns the member ids sorted.
func (r *Room) Members() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Post appends a user message. Posting to a terminated room, or as a
// non-member, is an error.
func (r *Room) Post(from, text string, now time.Time) error {
	if !r.IsMember(from) {
		return fmt.Errorf("chat: %s is not a member of room %s", from, r.ID)
	}
	if r.Terminated() {
		return fmt.Errorf("chat: room %s is terminated", r.ID)
	}
	r.history.Add(NewMessage(from, text, now))
	return nil
}

// Terminate marks the room as left by userID.
func (r *Room) Terminate(userID string, now time.Time) {
	r.Terminator = userID
	r.history.Add(NewMessage("", msgUserLeft, now))
}

// Read renders the history newest first for viewer, marking the partner's
// messages as seen.
func (r *Room) Read(viewer string, now time.Time) []View {
	msgs := r.history.Newest()
	views := make([]View, len(msgs))
	for i, m := range msgs {
		views[i] = m.ReadBy(viewer, now)
	}
	return views
}

// Dump renders the history as time|sender|text lines, oldest first.
func (r *Room) Dump() string {
	msgs := r.history.Messages()
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		from := m.From
		if from == "" {
			from = "system"
		}
		lines[i] = fmt.Sprintf("%d|%s|%s", m.Time.UnixMilli(), from, m.Text)
	}
	return strings.Join(lines, "\n")
}
