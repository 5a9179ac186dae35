// Package hub implements the chat hub: the per-connection lifecycle from token
// handshake to teardown, the node-local client registry, directed message dispatch,
// refcounted presence, and the pub/sub fan-out that keeps peer nodes consistent.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/driftchat/drift-server/internal/auth"
	"github.com/driftchat/drift-server/internal/broker"
	"github.com/driftchat/drift-server/internal/metrics"
	"github.com/driftchat/drift-server/internal/presence"
)

// brokerOpTimeout bounds each individual broker call made on behalf of a session.
const brokerOpTimeout = 5 * time.Second

// Hub is the composition root. One Hub per process; its node id lives as long as the
// process. With a nil Redis client the hub runs in single-node mode: every register
// is a presence edge and delivery is always local.
type Hub struct {
	secret    string
	registry  *Registry
	rdb       *redis.Client
	presence  *presence.Store
	publisher *Publisher
	nodeID    string
	log       zerolog.Logger
}

// New creates a hub. rdb may be nil for single-node mode.
func New(jwtSecret string, rdb *redis.Client, logger zerolog.Logger) *Hub {
	nodeID := uuid.NewString()
	h := &Hub{
		secret:   jwtSecret,
		registry: NewRegistry(),
		rdb:      rdb,
		nodeID:   nodeID,
		log:      logger.With().Str("component", "hub").Str("node_id", nodeID).Logger(),
	}
	if rdb != nil {
		h.presence = presence.NewStore(rdb)
		h.publisher = NewPublisher(rdb, nodeID)
	}
	return h
}

// NodeID returns the process-lifetime node identifier stamped on presence events.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Run subscribes to the message and presence channels and dispatches incoming events
// until the context is cancelled or the subscription fails. A failure is logged by
// the caller and leaves the hub serving local clients only; client sessions are
// never terminated by broker trouble.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}

	sub := h.rdb.Subscribe(ctx, broker.MessageChannel, broker.PresenceChannel)
	defer func() { _ = sub.Close() }()

	h.log.Info().Msg("Subscribed to broker channels")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				h.log.Warn().Msg("Broker subscription closed, continuing with local delivery only")
				return nil
			}
			h.handlePubSubEvent(msg.Payload)
		}
	}
}

// ServeWebSocket runs one connection's full lifecycle and returns when the peer
// disconnects, is evicted, or fails authentication. queryToken is the token from the
// URL query, or "" when the client will authenticate with its first frame.
func (h *Hub) ServeWebSocket(conn Conn, queryToken string) {
	conn.SetReadLimit(maxMessageSize)

	client := newClient(conn, h.log)
	email, ok := h.authenticate(client, queryToken)
	if !ok {
		return
	}
	client.email = email

	h.register(email, client)
	metrics.ConnectionsActive.Inc()
	defer func() {
		h.unregister(email, client)
		metrics.ConnectionsActive.Dec()
		_ = conn.Close()
	}()

	h.sendUserList(client)
	h.log.Info().Str("email", email).Msg("Client connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug().Err(err).Str("email", email).Msg("Connection closed")
			return
		}
		h.route(email, client, raw)
	}
}

// authenticate resolves the connection's identity. The token comes from the query
// string or, failing that, from a single auth frame awaited for up to authWait. Any
// failure sends a final error frame and closes with the matching 4xxx code.
func (h *Hub) authenticate(client *Client, queryToken string) (string, bool) {
	token := queryToken
	if token == "" {
		token = h.awaitAuthFrame(client)
	}

	if token == "" {
		metrics.AuthFailures.WithLabelValues(metrics.ReasonMissingToken).Inc()
		client.send(NewErrorFrame("Missing auth token."))
		client.closeWithCode(CloseMissingToken, reasonMissingToken)
		return "", false
	}

	email, err := auth.VerifyToken(token, h.secret)
	if errors.Is(err, auth.ErrInvalidPayload) {
		metrics.AuthFailures.WithLabelValues(metrics.ReasonInvalidPayload).Inc()
		client.send(NewErrorFrame("Invalid auth payload."))
		client.closeWithCode(CloseInvalidPayload, reasonInvalidPayload)
		return "", false
	}
	if err != nil {
		metrics.AuthFailures.WithLabelValues(metrics.ReasonInvalidToken).Inc()
		client.send(NewErrorFrame("Invalid auth token."))
		client.closeWithCode(CloseInvalidToken, reasonInvalidToken)
		return "", false
	}

	return email, true
}

// awaitAuthFrame reads one frame under the auth deadline and extracts its token.
// Timeouts, malformed frames, and non-auth frames all yield "", which the caller
// reports as a missing token.
func (h *Hub) awaitAuthFrame(client *Client) string {
	_ = client.conn.SetReadDeadline(time.Now().Add(authWait))
	defer func() { _ = client.conn.SetReadDeadline(time.Time{}) }()

	_, raw, err := client.conn.ReadMessage()
	if err != nil {
		return ""
	}
	return authToken(raw)
}

// register binds the session, evicting any prior session for the identity, and
// broadcasts the online edge when this session took the identity's fleet-wide
// refcount from 0 to 1.
func (h *Hub) register(email string, client *Client) {
	if prior := h.registry.Bind(email, client); prior != nil {
		h.log.Debug().Str("email", email).Msg("Evicting prior session")
		prior.closeWithCode(CloseEvicted, reasonEvicted)
	}

	edge := true
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
		defer cancel()

		var err error
		edge, err = h.presence.MarkOnline(ctx, email)
		if err != nil {
			h.log.Warn().Err(err).Str("email", email).Msg("Failed to mark online")
			edge = false
		}
	}
	if edge {
		// The joining socket learns the fleet state from its user_list frame and is
		// excluded from its own online broadcast.
		h.broadcastUserStatus(email, true, client)
	}
}

// unregister is the reverse of register and runs exactly once per session, from the
// goroutine that owns the read loop. The refcount decrement is unconditional in
// broker mode: every register incremented it, including registers whose slot was
// later taken by a newer session. The is-current result only decides the local map
// removal and the single-node broadcast.
func (h *Hub) unregister(email string, client *Client) {
	removed := h.registry.UnbindIfCurrent(email, client)

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
		defer cancel()

		edge, err := h.presence.MarkOffline(ctx, email)
		if err != nil {
			h.log.Warn().Err(err).Str("email", email).Msg("Failed to mark offline")
			return
		}
		if edge {
			h.broadcastUserStatus(email, false, nil)
		}
		return
	}

	if removed {
		h.broadcastUserStatus(email, false, nil)
	}
}

// route dispatches one inbound frame by its type tag. Malformed frames are reported
// with an error frame and never close the connection.
func (h *Hub) route(email string, client *Client, raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		if json.Valid(raw) {
			client.send(NewErrorFrame("Invalid message payload."))
		} else {
			client.send(NewErrorFrame("Invalid JSON payload."))
		}
		return
	}

	switch probe.Type {
	case frameMessage:
		h.handleChatMessage(email, client, raw)
	case frameListUsers:
		h.sendUserList(client)
	default:
		client.send(NewErrorFrame("Unsupported message type."))
	}
}

// handleChatMessage validates a chat frame, stamps it with the sender identity and a
// UTC timestamp, and hands it to publish-or-deliver.
func (h *Hub) handleChatMessage(email string, client *Client, raw []byte) {
	var f struct {
		To      any `json:"to"`
		Content any `json:"content"`
	}
	_ = json.Unmarshal(raw, &f)

	to, ok := f.To.(string)
	if !ok || to == "" {
		client.send(NewErrorFrame("Missing recipient."))
		return
	}

	content, ok := f.Content.(string)
	trimmed := strings.TrimSpace(content)
	if !ok || trimmed == "" {
		client.send(NewErrorFrame("Message cannot be empty."))
		return
	}

	frame := NewMessageFrame(email, to, trimmed, time.Now().UTC().Format(time.RFC3339Nano))
	h.publishMessage(frame)
}

// publishMessage hands the frame to the broker so that whichever node owns the
// recipient's session performs the one delivery attempt. The publish is not retried;
// on failure (or without a broker) the frame is delivered locally instead, which
// keeps co-located recipients reachable during an outage.
func (h *Hub) publishMessage(frame MessageFrame) {
	if h.publisher == nil {
		h.deliverLocal(frame)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
	defer cancel()

	if err := h.publisher.PublishMessage(ctx, frame); err != nil {
		h.log.Error().Err(err).Msg("Failed to publish message, delivering locally")
		h.deliverLocal(frame)
		return
	}
	metrics.MessagesPublished.Inc()
}

// deliverLocal writes the frame to the recipient iff the recipient is bound on this
// node. Unknown recipients are dropped silently; the sender gets no negative
// acknowledgement.
func (h *Hub) deliverLocal(frame MessageFrame) {
	if frame.To == "" {
		return
	}
	recipient := h.registry.Get(frame.To)
	if recipient == nil {
		metrics.MessagesDropped.Inc()
		return
	}
	recipient.send(frame)
	metrics.MessagesDelivered.Inc()
}

// sendUserList sends a point-in-time snapshot of online identities: the broker's
// online set when one is configured, the local registry otherwise. A broker read
// failure degrades to the local view rather than failing the session.
func (h *Hub) sendUserList(client *Client) {
	var emails []string
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
		defer cancel()

		var err error
		emails, err = h.presence.Online(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read online set, using local registry")
			emails = h.registry.Identities()
		}
	} else {
		emails = h.registry.Identities()
	}

	client.send(NewUserListFrame(emails))
}

// broadcastUserStatus fans a presence transition out to this node's clients and
// publishes it for peer nodes. The local broadcast runs first so attached clients
// never depend on the pub/sub round-trip; a publish failure is logged and otherwise
// ignored.
func (h *Hub) broadcastUserStatus(email string, online bool, except *Client) {
	h.broadcastUserStatusLocal(email, online, except)

	transition := metrics.TransitionOffline
	if online {
		transition = metrics.TransitionOnline
	}
	metrics.PresenceEvents.WithLabelValues(transition).Inc()

	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), brokerOpTimeout)
	defer cancel()
	if err := h.publisher.PublishPresence(ctx, email, online); err != nil {
		h.log.Warn().Err(err).Str("email", email).Msg("Failed to publish presence event")
	}
}

// broadcastUserStatusLocal sends a user_status frame to every locally attached
// client except the given one. The snapshot is taken under the registry lock; the
// writes happen outside it, and per-socket failures never abort the fan-out.
func (h *Hub) broadcastUserStatusLocal(email string, online bool, except *Client) {
	frame := NewUserStatusFrame(email, online)
	for _, c := range h.registry.Snapshot() {
		if c == except {
			continue
		}
		c.send(frame)
	}
}

// handlePubSubEvent processes one event from the broker channels. Message events are
// delivered to locally bound recipients regardless of origin; presence events from
// this node are suppressed because the local broadcast already ran at publish time.
func (h *Hub) handlePubSubEvent(payload string) {
	var env pubSubEvent
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		h.log.Warn().Err(err).Msg("Invalid pub/sub envelope")
		return
	}

	switch env.Event {
	case eventMessage:
		var frame MessageFrame
		if err := json.Unmarshal(env.Payload, &frame); err != nil {
			h.log.Warn().Err(err).Msg("Invalid message event payload")
			return
		}
		h.deliverLocal(frame)
	case eventPresence:
		if env.Origin == h.nodeID {
			return
		}
		var p presencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.log.Warn().Err(err).Msg("Invalid presence event payload")
			return
		}
		if p.Email == "" {
			return
		}
		h.broadcastUserStatusLocal(p.Email, p.Online, nil)
	}
}

// Shutdown closes every attached connection with a going-away close. Pending read
// loops observe the close and unwind through their normal unregister path.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.Snapshot() {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info().Msg("Hub shut down")
}

// ClientCount returns the number of sessions bound on this node.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}
