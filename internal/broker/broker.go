// Package broker connects the hub to its Redis pub/sub fabric. Channel and key names
// shared by every node live here so the whole fleet agrees on them.
package broker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// MessageChannel carries directed chat messages between nodes.
	MessageChannel = "chat:messages"
	// PresenceChannel carries presence transitions between nodes.
	PresenceChannel = "chat:presence"
)

// Options controls the bounded connect retry loop.
type Options struct {
	// Attempts is the number of connection attempts before giving up. Values below 1
	// are treated as 1.
	Attempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// DialTimeout bounds each individual connection attempt.
	DialTimeout time.Duration
}

// Connect establishes and pings a Redis client, retrying up to opts.Attempts times
// with a fixed delay. The valkey:// scheme is accepted and rewritten to redis:// for
// go-redis compatibility. When every attempt fails the last error is returned; the
// caller decides whether that is fatal (REDIS_REQUIRED) or means single-node mode.
func Connect(ctx context.Context, rawURL string, opts Options, log zerolog.Logger) (*redis.Client, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := dial(ctx, rawURL, opts.DialTimeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Msg("Broker unavailable")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.Delay):
		}
	}

	return nil, fmt.Errorf("connect broker after %d attempts: %w", attempts, lastErr)
}

func dial(ctx context.Context, rawURL string, dialTimeout time.Duration) (*redis.Client, error) {
	// go-redis only understands the redis:// scheme, so replace valkey:// before
	// parsing.
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker URL: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse broker URL: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping broker: %w", err)
	}

	return client, nil
}
