// Package presence tracks which identities are online across the fleet. Each live
// session holds one reference on its identity's counter; the online set contains
// exactly the identities with a positive count. Counter and set live in the broker so
// every node observes the same view.
package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// onlineSet holds the currently-online identities.
	onlineSet = "chat:online_users"
	// countPrefix prefixes the per-identity session refcount keys.
	countPrefix = "chat:online_count:"
)

// Store reads and writes the shared presence refcounts.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// MarkOnline increments the identity's session count. It returns true when this was
// the 0→1 edge, in which case the identity has been added to the online set and the
// caller should broadcast the transition. Only single-key commands are used; the
// broker guarantees their atomicity.
func (s *Store) MarkOnline(ctx context.Context, email string) (bool, error) {
	count, err := s.rdb.Incr(ctx, countPrefix+email).Result()
	if err != nil {
		return false, fmt.Errorf("incr online count for %s: %w", email, err)
	}
	if count != 1 {
		return false, nil
	}
	if err := s.rdb.SAdd(ctx, onlineSet, email).Err(); err != nil {
		return false, fmt.Errorf("add %s to online set: %w", email, err)
	}
	return true, nil
}

// MarkOffline decrements the identity's session count. When the count reaches zero
// (or below, after a missed increment) the counter key is deleted and the identity is
// removed from the online set; it returns true for that 1→0 edge.
func (s *Store) MarkOffline(ctx context.Context, email string) (bool, error) {
	count, err := s.rdb.Decr(ctx, countPrefix+email).Result()
	if err != nil {
		return false, fmt.Errorf("decr online count for %s: %w", email, err)
	}
	if count > 0 {
		return false, nil
	}
	if err := s.rdb.Del(ctx, countPrefix+email).Err(); err != nil {
		return false, fmt.Errorf("delete online count for %s: %w", email, err)
	}
	if err := s.rdb.SRem(ctx, onlineSet, email).Err(); err != nil {
		return false, fmt.Errorf("remove %s from online set: %w", email, err)
	}
	return true, nil
}

// Online returns a point-in-time snapshot of the online set. Order is unspecified.
func (s *Store) Online(ctx context.Context) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, onlineSet).Result()
	if err != nil {
		return nil, fmt.Errorf("read online set: %w", err)
	}
	return members, nil
}

// Count returns the identity's current session count. Missing keys count as zero.
func (s *Store) Count(ctx context.Context, email string) (int64, error) {
	count, err := s.rdb.Get(ctx, countPrefix+email).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read online count for %s: %w", email, err)
	}
	return count, nil
}
