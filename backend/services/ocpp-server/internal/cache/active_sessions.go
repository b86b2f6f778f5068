// Package cache keeps the active charging session of each station in redis so that meter
// readings and stop requests do not hit postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

// ErrMiss reports that no session is cached for the station.
var ErrMiss = errors.New("cache: miss")

// ActiveSessions manages the active session cache.
type ActiveSessions struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewActiveSessions returns redis-backed store.
func NewActiveSessions(client redis.Cmdable, ttl time.Duration) *ActiveSessions {
	return &ActiveSessions{client: client, ttl: ttl}
}

func key(stationID string) string {
	return fmt.Sprintf("ocpp:sessions:active:%s", stationID)
}

// Save caches the session under its station.
func (s *ActiveSessions) Save(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(session.StationID), data, s.ttl).Err()
}

// Get returns the cached session of the station.
func (s *ActiveSessions) Get(ctx context.Context, stationID string) (*models.Session, error) {
	result, err := s.client.Get(ctx, key(stationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes the cached session.
func (s *ActiveSessions) Delete(ctx context.Context, stationID string) error {
	return s.client.Del(ctx, key(stationID)).Err()
}
