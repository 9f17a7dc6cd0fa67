// Package matching pairs anonymous visitors into two-person chat rooms. The
// first visitor without a room opens one and waits; the next visitor joins it.
// All lobby state lives in memory behind a single mutex.
package matching

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/pairchat/internal/chat"
)

// State is what a user sees on the index page.
type State string

const (
	StateWaiting State = "Waiting"
	StateJoined  State = "Joined"
	StateLeft    State = "Left"
)

// messageField is the only form field accepted by Send.
const messageField = "message"

var (
	ErrUnknownUser = errors.New("matching: unknown user")
	ErrNoRoom      = errors.New("matching: user is not in a room")
	ErrRoomClosed  = errors.New("matching: room is terminated")
	ErrBadForm     = errors.New("matching: expected a single message field")
)

// Config holds lobby tunables.
type Config struct {
	HistorySize    int
	MaxIdleOutside time.Duration // idle limit for users without a live conversation
	MaxIdleInside  time.Duration // idle limit for users in a joined room
}

// DefaultConfig returns the stock lobby settings.
func DefaultConfig() Config {
	return Config{
		HistorySize:    chat.DefaultHistorySize,
		MaxIdleOutside: 20 * time.Second,
		MaxIdleInside:  300 * time.Second,
	}
}

// User is a visitor identified by the uid cookie.
type User struct {
	ID        string
	FirstSeen time.Time
	LastSeen  time.Time
	RoomID    string // empty when not in a room
	Rooms     int    // number of rooms entered
}

// Page is the result of a visit.
type Page struct {
	User    User
	State   State
	Online  int
	NewUser bool
}

// Stats is a point-in-time count of lobby contents.
type Stats struct {
	Users   int
	Rooms   int
	Waiting int
}

// Lobby owns users, rooms and the single room waiting for a partner.
type Lobby struct {
	mu    sync.Mutex
	cfg   Config
	users map[string]*User
	rooms map[string]*chat.Room
	next  *chat.Room

	observers []Observer
	now       func() time.Time
	newID     func() string
}

// NewLobby creates an empty lobby.
func NewLobby(cfg Config, observers ...Observer) *Lobby {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = chat.DefaultHistorySize
	}
	return &Lobby{
		cfg:       cfg,
		users:     make(map[string]*User),
		rooms:     make(map[string]*chat.Room),
		observers: observers,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// AddObserver registers o. It must be called before the lobby is shared.
func (l *Lobby) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// Visit records a page view by uid. An unknown or empty uid gets a fresh
// user. A user without a room joins the waiting room, or opens one.
func (l *Lobby) Visit(uid string) Page {
	l.mu.Lock()
	now := l.now()
	var events []Event

	user, ok := l.users[uid]
	if ok {
		user.LastSeen = now
	} else {
		user = &User{ID: l.uniqueID(l.hasUser), FirstSeen: now, LastSeen: now}
		l.users[user.ID] = user
	}

	room := l.roomOf(user)
	if room == nil {
		if l.next != nil && l.next.Join(user.ID) {
			room = l.next
			l.next = nil
			events = append(events, roomEvent(EventRoomJoined, room, user.ID, now))
		} else {
			room = chat.NewRoom(l.uniqueID(l.hasRoom), user.ID, l.cfg.HistorySize, now)
			l.rooms[room.ID] = room
			l.next = room
			events = append(events, roomEvent(EventRoomOpened, room, user.ID, now))
		}
		user.RoomID = room.ID
		user.Rooms++
	}
	seen := userEvent(EventUserSeen, user, now)
	seen.Members = room.Members()
	seen.State = stateOf(room)
	events = append(events, seen)

	page := Page{
		User:    *user,
		State:   stateOf(room),
		Online:  len(l.users),
		NewUser: !ok,
	}
	l.mu.Unlock()

	l.emit(events)
	return page
}

// Lookup reports the current page state for uid without recording a visit.
func (l *Lobby) Lookup(uid string) (Page, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	user, ok := l.users[uid]
	if !ok {
		return Page{}, false
	}
	page := Page{User: *user, Online: len(l.users)}
	if room := l.roomOf(user); room != nil {
		page.State = stateOf(room)
	}
	return page, true
}

// Send posts a url-encoded form body holding exactly one "message" field to
// the sender's room.
func (l *Lobby) Send(uid, body string) error {
	l.mu.Lock()
	now := l.now()

	user, ok := l.users[uid]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownUser
	}
	room := l.roomOf(user)
	if room == nil {
		l.mu.Unlock()
		return ErrNoRoom
	}

	text, err := parseMessageForm(body)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if room.Terminated() {
		l.mu.Unlock()
		return ErrRoomClosed
	}
	if err := chat.ValidateMessage(text); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := room.Post(user.ID, text, now); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("matching: post: %w", err)
	}

	ev := roomEvent(EventMessage, room, user.ID, now)
	ev.Text = text
	l.mu.Unlock()

	l.emit([]Event{ev})
	return nil
}

// Messages returns the user's room history newest first and marks the
// partner's messages as seen. ok is false when the user or room is unknown.
func (l *Lobby) Messages(uid string) ([]chat.View, bool) {
	l.mu.Lock()
	now := l.now()

	user, found := l.users[uid]
	if !found {
		l.mu.Unlock()
		return nil, false
	}
	user.LastSeen = now
	seen := userEvent(EventUserSeen, user, now)

	room := l.roomOf(user)
	if room == nil {
		l.mu.Unlock()
		l.emit([]Event{seen})
		return nil, false
	}
	seen.Members = room.Members()
	seen.State = stateOf(room)
	views := room.Read(user.ID, now)
	l.mu.Unlock()

	l.emit([]Event{seen})
	return views, true
}

// Exit takes uid out of its room. The last member to leave deletes the room,
// and leaving a room nobody joined yet deletes it too.
func (l *Lobby) Exit(uid string) error {
	l.mu.Lock()
	now := l.now()

	user, ok := l.users[uid]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownUser
	}
	room := l.roomOf(user)
	if room == nil {
		l.mu.Unlock()
		return ErrNoRoom
	}

	user.RoomID = ""
	var ev Event
	switch {
	case room.Terminated(), room == l.next:
		l.deleteRoom(room)
		ev = roomEvent(EventRoomClosed, room, user.ID, now)
	default:
		room.Terminate(user.ID, now)
		ev = roomEvent(EventRoomLeft, room, user.ID, now)
	}
	l.mu.Unlock()

	l.emit([]Event{ev})
	return nil
}

// Stats counts users, rooms and waiting rooms.
func (l *Lobby) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Users: len(l.users), Rooms: len(l.rooms)}
	if l.next != nil {
		s.Waiting = 1
	}
	return s
}

// Dump renders "uid: room" lines followed by "room -> [members]" lines,
// each block sorted.
func (l *Lobby) Dump() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	for _, id := range sortedKeys(l.users) {
		roomID := l.users[id].RoomID
		if roomID == "" {
			roomID = "none"
		}
		fmt.Fprintf(&b, "\n%s: %s", id, roomID)
	}
	for _, id := range sortedKeys(l.rooms) {
		fmt.Fprintf(&b, "\n%s -> %v", id, l.rooms[id].Members())
	}
	return b.String()
}

// RoomDump returns the message dump of uid's room.
func (l *Lobby) RoomDump(uid string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	user, ok := l.users[uid]
	if !ok {
		return "", false
	}
	room := l.roomOf(user)
	if room == nil {
		return "", false
	}
	return room.Dump(), true
}

// roomOf returns the user's room, repairing a dangling RoomID. Caller holds mu.
func (l *Lobby) roomOf(u *User) *chat.Room {
	if u.RoomID == "" {
		return nil
	}
	room, ok := l.rooms[u.RoomID]
	if !ok {
		u.RoomID = ""
		return nil
	}
	return room
}

// deleteRoom drops room and clears the waiting slot if it held it. Caller holds mu.
func (l *Lobby) deleteRoom(room *chat.Room) {
	delete(l.rooms, room.ID)
	if l.next == room {
		l.next = nil
	}
}

func (l *Lobby) hasUser(id string) bool {
	_, ok := l.users[id]
	return ok
}

func (l *Lobby) hasRoom(id string) bool {
	_, ok := l.rooms[id]
	return ok
}

// uniqueID draws ids until taken reports false. Caller holds mu.
func (l *Lobby) uniqueID(taken func(string) bool) string {
	for {
		id := l.newID()
		if id != "" && !taken(id) {
			return id
		}
	}
}

func (l *Lobby) emit(events []Event) {
	for _, e := range events {
		for _, o := range l.observers {
			o.Observe(e)
		}
	}
}

func stateOf(room *chat.Room) State {
	switch {
	case room.Terminated():
		return StateLeft
	case room.Waiting():
		return StateWaiting
	default:
		return StateJoined
	}
}

func roomEvent(kind EventKind, room *chat.Room, userID string, now time.Time) Event {
	return Event{
		Kind:    kind,
		RoomID:  room.ID,
		UserID:  userID,
		Members: room.Members(),
		State:   stateOf(room),
		Ts:      now.UnixMilli(),
	}
}

// parseMessageForm extracts the message text from an url-encoded body.
func parseMessageForm(body string) (string, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadForm, err)
	}
	pairs := 0
	for _, vs := range values {
		pairs += len(vs)
	}
	if pairs != 1 || len(values[messageField]) != 1 {
		return "", ErrBadForm
	}
	return values[messageField][0], nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
