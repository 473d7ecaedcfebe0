// Package cache stores the latest accumulated file-set snapshot per project
// in Redis so the preview surface can fetch fresh files without hitting the
// database on every chunk. The cache is optional: a nil client makes every
// operation a no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"lumen-build/internal/logging"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a project.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const snapshotTTL = 30 * time.Minute

// Snapshot is the payload pushed after every completed step and repair.
type Snapshot struct {
	ProjectID  uint              `json:"project_id"`
	BuildID    string            `json:"build_id"`
	EntryPoint string            `json:"entry_point"`
	Files      map[string]string `json:"files"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SnapshotCache is a Redis-backed snapshot store.
type SnapshotCache struct {
	client *redis.Client
}

// New connects to Redis at redisURL. An empty URL returns a disabled cache.
func New(redisURL string) *SnapshotCache {
	if redisURL == "" {
		return &SnapshotCache{}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logging.S().Warnw("invalid REDIS_URL, snapshot cache disabled", "error", err)
		return &SnapshotCache{}
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.S().Warnw("redis unreachable, snapshot cache disabled", "error", err)
		return &SnapshotCache{}
	}
	return &SnapshotCache{client: client}
}

// Enabled reports whether a Redis connection is live.
func (c *SnapshotCache) Enabled() bool {
	return c != nil && c.client != nil
}

func snapshotKey(projectID uint) string {
	return fmt.Sprintf("lumen:snapshot:%d", projectID)
}

// Put stores the snapshot for its project, replacing any prior one.
func (c *SnapshotCache) Put(ctx context.Context, snap *Snapshot) error {
	if !c.Enabled() {
		return nil
	}
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(snap.ProjectID), data, snapshotTTL).Err()
}

// Get fetches the latest snapshot for a project.
func (c *SnapshotCache) Get(ctx context.Context, projectID uint) (*Snapshot, error) {
	if !c.Enabled() {
		return nil, ErrSnapshotNotFound
	}
	data, err := c.client.Get(ctx, snapshotKey(projectID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Invalidate drops the snapshot for a project.
func (c *SnapshotCache) Invalidate(ctx context.Context, projectID uint) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, snapshotKey(projectID)).Err()
}

// Close releases the Redis connection.
func (c *SnapshotCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
