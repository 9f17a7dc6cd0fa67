package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisper/pairchat/internal/matching"
)

const (
	// SessionPrefix is the Redis key prefix for all presence hashes.
	SessionPrefix = "session:"

	// OnlineKey is a sorted set of user ids scored by last-seen millis.
	OnlineKey = "session:online"

	// SessionTTL bounds how long a hash outlives its last refresh.
	SessionTTL = 10 * time.Minute

	// Status values stored in the hash.
	StatusWaiting  = "waiting"
	StatusChatting = "chatting"
	StatusLeft     = "left"
	StatusIdle     = "idle"

	writeTimeout = 2 * time.Second
)

// Session is a user's presence record in Redis.
type Session struct {
	ID        string `redis:"id"`
	Status    string `redis:"status"`
	RoomID    string `redis:"room_id"`
	Server    string `redis:"server"`
	Rooms     int    `redis:"rooms"`
	FirstSeen int64  `redis:"first_seen"`
	LastSeen  int64  `redis:"last_seen"`
}

// Store writes presence to Redis. It implements matching.Observer.
type Store struct {
	client     *redis.Client
	serverName string
	logger     zerolog.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

// NewStore wraps an existing client.
func NewStore(client *redis.Client, serverName string, logger zerolog.Logger) *Store {
	return &Store{client: client, serverName: serverName, logger: logger}
}

// Observe mirrors user events and refreshes room members on room changes.
func (s *Store) Observe(e matching.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e.Kind {
	case matching.EventUserSeen:
		if e.User == nil {
			return
		}
		err = s.Save(ctx, *e.User, statusOf(e.User.RoomID, e.State))
	case matching.EventUserRemoved:
		err = s.Delete(ctx, e.UserID)
	case matching.EventRoomJoined, matching.EventRoomLeft, matching.EventRoomClosed:
		err = s.refreshMembers(ctx, e)
	}
	if err != nil {
		// Presence is best effort; the lobby keeps serving.
		s.logger.Warn().Err(err).Str("user", e.UserID).Str("event", string(e.Kind)).Msg("presence write failed")
	}
}

// refreshMembers rewrites status and room of every member that already has a
// presence record. Members without one are left alone.
func (s *Store) refreshMembers(ctx context.Context, e matching.Event) error {
	for _, id := range e.Members {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if sess == nil {
			continue
		}

		roomID, status := e.RoomID, statusOf(e.RoomID, e.State)
		if e.Kind == matching.EventRoomClosed || (e.Kind == matching.EventRoomLeft && id == e.UserID) {
			roomID, status = "", StatusIdle
		}
		if err := s.setStatus(ctx, id, roomID, status); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, userID, roomID, status string) error {
	key := SessionPrefix + userID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "room_id", roomID)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: set status %s: %w", userID, err)
	}
	return nil
}

// Save upserts the presence hash and refreshes its TTL.
func (s *Store) Save(ctx context.Context, u matching.User, status string) error {
	key := SessionPrefix + u.ID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         u.ID,
		"status":     status,
		"room_id":    u.RoomID,
		"server":     s.serverName,
		"rooms":      u.Rooms,
		"first_seen": u.FirstSeen.UnixMilli(),
		"last_seen":  u.LastSeen.UnixMilli(),
	})
	pipe.Expire(ctx, key, SessionTTL)
	pipe.ZAdd(ctx, OnlineKey, redis.Z{Score: float64(u.LastSeen.UnixMilli()), Member: u.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save %s: %w", u.ID, err)
	}
	return nil
}

// Get retrieves a presence record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+userID).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", userID, err)
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Delete removes a presence record.
func (s *Store) Delete(ctx context.Context, userID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+userID)
	pipe.ZRem(ctx, OnlineKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: delete %s: %w", userID, err)
	}
	return nil
}

// Online counts users seen within window, across every instance writing to
// this Redis.
func (s *Store) Online(ctx context.Context, window time.Duration) (int64, error) {
	since := time.Now().Add(-window).UnixMilli()
	n, err := s.client.ZCount(ctx, OnlineKey, fmt.Sprintf("%d", since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("session: online count: %w", err)
	}
	return n, nil
}

// Prune drops online-set entries older than window. Hash keys expire on
// their own.
func (s *Store) Prune(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	n, err := s.client.ZRemRangeByScore(ctx, OnlineKey, "-inf", fmt.Sprintf("(%d", cutoff)).Result()
	if err != nil {
		return 0, fmt.Errorf("session: prune: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// statusOf derives a presence status from the user's room and its state.
func statusOf(roomID string, state matching.State) string {
	if roomID == "" {
		return StatusIdle
	}
	switch state {
	case matching.StateWaiting:
		return StatusWaiting
	case matching.StateLeft:
		return StatusLeft
	default:
		return StatusChatting
	}
}
