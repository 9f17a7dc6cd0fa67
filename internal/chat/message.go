// Package chat holds the per-room data model: messages, the bounded message
// history and the two-person room itself. It has no locking of its own; the
// matching lobby serializes all access.
package chat

import (
	"fmt"
	"time"
)

// SenderKind describes a message's author relative to the viewing user.
type SenderKind string

const (
	SenderYou    SenderKind = "YOU"
	SenderThem   SenderKind = "THEM"
	SenderSystem SenderKind = "SYSTEM"
)

// Message is one entry of a room history. An empty From marks a system
// message.
type Message struct {
	From string
	Text string
	Time time.Time
	// Seen is set once the other member has read the message.
	Seen bool
}

// View is a message as rendered for one member.
type View struct {
	Kind SenderKind `json:"kind"`
	Age  string     `json:"age"`
	Text string     `json:"text"`
	Seen bool       `json:"seen"`
}

// NewMessage stamps a message with the given time.
func NewMessage(from, text string, now time.Time) *Message {
	return &Message{From: from, Text: text, Time: now}
}

// KindFor reports who wrote m from viewer's point of view.
func (m *Message) KindFor(viewer string) SenderKind {
	switch {
	case viewer == "" || m.From == "":
		return SenderSystem
	case m.From == viewer:
		return SenderYou
	default:
		return SenderThem
	}
}

// ViewFor renders m for viewer without changing it.
func (m *Message) ViewFor(viewer string, now time.Time) View {
	return View{
		Kind: m.KindFor(viewer),
		Age:  FormatAge(now.Sub(m.Time)),
		Text: m.Text,
		Seen: m.Seen,
	}
}

// ReadBy renders m for viewer and marks it seen when the viewer is the
// recipient. The returned view carries the state from before this read.
func (m *Message) ReadBy(viewer string, now time.Time) View {
	v := m.ViewFor(viewer, now)
	if v.Kind == SenderThem {
		m.Seen = true
	}
	return v
}

// FormatAge renders an elapsed duration the way the message list shows it:
// "now" under five seconds, then whole seconds, minutes or hours.
func FormatAge(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d < 5*time.Second:
		return "now"
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
