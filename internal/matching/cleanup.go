package matching

import (
	"context"
	"time"

	"github.com/whisper/pairchat/internal/logging"
)

// SweepResult counts what one cleanup pass removed.
type SweepResult struct {
	Users      int
	Rooms      int
	Terminated int
}

// Sweep evicts idle users. A user idle past MaxIdleOutside is removed unless
// they sit in a joined, live room; those get MaxIdleInside before the room is
// terminated on their behalf. Rooms nobody can return to are deleted.
func (l *Lobby) Sweep() SweepResult {
	l.mu.Lock()
	now := l.now()
	var (
		res    SweepResult
		events []Event
	)

	for id, u := range l.users {
		idle := now.Sub(u.LastSeen)
		if idle <= l.cfg.MaxIdleOutside {
			continue
		}

		room := l.roomOf(u)
		switch {
		case room == nil:
			// Nothing to clean beyond the user.
		case room.Terminated(), room.Size() < 2:
			// Partner already left, or nobody ever joined.
			l.deleteRoom(room)
			res.Rooms++
			events = append(events, roomEvent(EventRoomClosed, room, id, now))
		case idle > l.cfg.MaxIdleInside:
			room.Terminate(id, now)
			res.Terminated++
			events = append(events, roomEvent(EventRoomLeft, room, id, now))
		default:
			continue
		}

		delete(l.users, id)
		res.Users++
		events = append(events, userEvent(EventUserRemoved, u, now))
	}
	l.mu.Unlock()

	l.emit(events)
	return res
}

// StartCleanup runs Sweep every interval until ctx is done. It logs through
// the logger carried by ctx.
func StartCleanup(ctx context.Context, lobby *Lobby, interval time.Duration) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("cleanup loop stopped")
			return
		case <-ticker.C:
			res := lobby.Sweep()
			if res.Users > 0 || res.Rooms > 0 {
				logger.Debug().
					Int("users", res.Users).
					Int("rooms", res.Rooms).
					Int("terminated", res.Terminated).
					Msg("cleanup removed idle entries")
			}
		}
	}
}
