package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"facade-monitor/internal/telemetry/domain"
)

const keyPattern = "facade:%s:%s:latest"

// LatestCache stores the last reading of each sensor as one hash field per
// sensor under a per-facade key.
type LatestCache struct {
	client goredis.Cmdable
}

// NewLatestCache constructs a cache over a Redis client.
func NewLatestCache(client goredis.Cmdable) (*LatestCache, error) {
	if client == nil {
		return nil, errors.New("latest cache: nil client")
	}
	return &LatestCache{client: client}, nil
}

// Key returns the hash key for a facade configuration.
func Key(facadeID string, facadeType telemetry.FacadeType) string {
	if facadeType == "" {
		facadeType = telemetry.FacadeUnknown
	}
	return fmt.Sprintf(keyPattern, facadeID, facadeType)
}

// Apply overwrites one field per measurement in a single pipelined round trip.
func (c *LatestCache) Apply(ctx context.Context, env telemetry.Envelope) error {
	if c == nil || c.client == nil {
		return errors.New("latest cache: nil client")
	}
	if len(env.Measurements) == 0 {
		return nil
	}
	key := Key(env.FacadeID, env.FacadeType)

	fields := make([]any, 0, len(env.Measurements)*2)
	for _, m := range env.Measurements {
		entry, err := json.Marshal(telemetry.CacheEntry{
			Value:      m.Value,
			TS:         m.TS.UTC(),
			DeviceID:   m.DeviceID,
			FacadeType: m.FacadeType,
		})
		if err != nil {
			return fmt.Errorf("latest cache: encode %s: %w", m.SensorName, err)
		}
		fields = append(fields, m.SensorName, string(entry))
	}

	_, err := c.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i := 0; i < len(fields); i += 2 {
			pipe.HSet(ctx, key, fields[i], fields[i+1])
		}
		return nil
	})
	return err
}

// Latest returns the cached entries of a facade. The boolean is false when
// nothing is cached, which is not an error.
func (c *LatestCache) Latest(ctx context.Context, facadeID string, facadeType telemetry.FacadeType) (map[string]telemetry.CacheEntry, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, errors.New("latest cache: nil client")
	}
	raw, err := c.client.HGetAll(ctx, Key(facadeID, facadeType)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	entries := make(map[string]telemetry.CacheEntry, len(raw))
	for sensor, value := range raw {
		var entry telemetry.CacheEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, false, fmt.Errorf("latest cache: decode %s: %w", sensor, err)
		}
		entries[sensor] = entry
	}
	return entries, true, nil
}

// Invalidate drops the cached entries of a facade configuration.
func (c *LatestCache) Invalidate(ctx context.Context, facadeID string, facadeType telemetry.FacadeType) (bool, error) {
	if c == nil || c.client == nil {
		return false, errors.New("latest cache: nil client")
	}
	removed, err := c.client.Del(ctx, Key(facadeID, facadeType)).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}
