package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"messaging-service/internal/models"
)

// Key layout: presence:user:{id} is a hash with fields status, socket_id, last_seen.
const (
	userKeyPrefix = "presence:user:"
	presenceTTL   = 24 * time.Hour
)

// Tracker maintains live connection state per user.
type Tracker interface {
	Connect(ctx context.Context, userID int, socketID string) error
	Disconnect(ctx context.Context, userID int, socketID string) error
	SetStatus(ctx context.Context, userID int, status string) error
	Get(ctx context.Context, userID int) (models.Presence, error)
	GetMany(ctx context.Context, userIDs []int) (map[int]models.Presence, error)
}

// RedisTracker is a Redis-backed Tracker. State is last-writer-wins; a user
// has at most one live socket and a reconnect overwrites the binding.
type RedisTracker struct {
	rdb *redis.Client
}

// NewRedisTracker constructs a RedisTracker.
func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb}
}

func userKey(userID int) string {
	return userKeyPrefix + strconv.Itoa(userID)
}

// Connect marks the user online and binds their socket id.
func (t *RedisTracker) Connect(ctx context.Context, userID int, socketID string) error {
	key := userKey(userID)
	err := t.rdb.HSet(ctx, key, map[string]interface{}{
		"status":    models.PresenceOnline,
		"socket_id": socketID,
		"last_seen": time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store presence: %w", err)
	}
	t.rdb.Expire(ctx, key, presenceTTL)
	return nil
}

// Disconnect marks the user offline, but only while the socket id still
// matches: a late disconnect from a replaced connection is ignored.
func (t *RedisTracker) Disconnect(ctx context.Context, userID int, socketID string) error {
	key := userKey(userID)
	current, err := t.rdb.HGet(ctx, key, "socket_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read presence: %w", err)
	}
	if current != socketID {
		return nil
	}

	err = t.rdb.HSet(ctx, key, map[string]interface{}{
		"status":    models.PresenceOffline,
		"socket_id": "",
		"last_seen": time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store presence: %w", err)
	}
	t.rdb.Expire(ctx, key, presenceTTL)
	return nil
}

// SetStatus applies a manual status toggle without touching the socket binding.
func (t *RedisTracker) SetStatus(ctx context.Context, userID int, status string) error {
	if !models.ValidPresenceStatus(status) {
		return fmt.Errorf("invalid presence status %q", status)
	}
	err := t.rdb.HSet(ctx, userKey(userID), map[string]interface{}{
		"status":    status,
		"last_seen": time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store presence: %w", err)
	}
	return nil
}

// Get returns the presence of one user; unknown users read as offline.
func (t *RedisTracker) Get(ctx context.Context, userID int) (models.Presence, error) {
	fields, err := t.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return models.Presence{}, fmt.Errorf("failed to read presence: %w", err)
	}
	return presenceFromFields(userID, fields), nil
}

// GetMany reads presence for a batch of users in one round trip.
func (t *RedisTracker) GetMany(ctx context.Context, userIDs []int) (map[int]models.Presence, error) {
	result := make(map[int]models.Presence, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	pipe := t.rdb.Pipeline()
	cmds := make(map[int]*redis.MapStringStringCmd, len(userIDs))
	for _, id := range userIDs {
		cmds[id] = pipe.HGetAll(ctx, userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read presence batch: %w", err)
	}
	for id, cmd := range cmds {
		result[id] = presenceFromFields(id, cmd.Val())
	}
	return result, nil
}

func presenceFromFields(userID int, fields map[string]string) models.Presence {
	p := models.Presence{UserID: userID, Status: models.PresenceOffline}
	if len(fields) == 0 {
		return p
	}
	if s := fields["status"]; s != "" {
		p.Status = s
	}
	p.SocketID = fields["socket_id"]
	if ls := fields["last_seen"]; ls != "" {
		if ts, err := time.Parse(time.RFC3339, ls); err == nil {
			p.LastSeen = ts
		}
	}
	return p
}
