package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/driftchat/drift-server/internal/broker"
)

// Publisher serialises hub events into pub/sub envelopes and publishes them on the
// broker channels. All publishes for a node go through one client connection, which
// preserves per-sender ordering at the recipient.
type Publisher struct {
	rdb    *redis.Client
	nodeID string
}

// NewPublisher creates a publisher stamping presence events with the given node id.
func NewPublisher(rdb *redis.Client, nodeID string) *Publisher {
	return &Publisher{rdb: rdb, nodeID: nodeID}
}

// PublishMessage publishes a directed message event. No origin is attached: the
// publishing node consumes its own message events, and whichever node holds the
// recipient's session performs the single delivery attempt.
func (p *Publisher) PublishMessage(ctx context.Context, frame MessageFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}
	env, err := json.Marshal(pubSubEvent{Event: eventMessage, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}
	if err := p.rdb.Publish(ctx, broker.MessageChannel, env).Err(); err != nil {
		return fmt.Errorf("publish message event: %w", err)
	}
	return nil
}

// PublishPresence publishes a presence transition stamped with this node's id so
// peers can tell it apart from their own broadcasts.
func (p *Publisher) PublishPresence(ctx context.Context, email string, online bool) error {
	payload, err := json.Marshal(presencePayload{Email: email, Online: online})
	if err != nil {
		return fmt.Errorf("marshal presence payload: %w", err)
	}
	env, err := json.Marshal(pubSubEvent{Event: eventPresence, Origin: p.nodeID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	if err := p.rdb.Publish(ctx, broker.PresenceChannel, env).Err(); err != nil {
		return fmt.Errorf("publish presence event: %w", err)
	}
	return nil
}
