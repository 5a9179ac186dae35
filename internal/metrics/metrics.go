// Package metrics registers the hub's prometheus instrumentation on the default
// registry, exposed through the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks authenticated sessions currently attached to this
	// node.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drift_connections_active",
		Help: "Number of authenticated WebSocket sessions attached to this node.",
	})

	// AuthFailures counts rejected connection attempts by reason.
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_auth_failures_total",
		Help: "Rejected connection attempts by reason.",
	}, []string{"reason"})

	// MessagesPublished counts message events handed to the broker.
	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drift_messages_published_total",
		Help: "Chat messages published to the broker.",
	})

	// MessagesDelivered counts messages written to a locally attached recipient.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drift_messages_delivered_total",
		Help: "Chat messages delivered to sessions on this node.",
	})

	// MessagesDropped counts delivery attempts whose recipient was not attached to
	// this node.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drift_messages_dropped_total",
		Help: "Chat messages dropped because the recipient was not attached to this node.",
	})

	// PresenceEvents counts presence edges this node originated.
	PresenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_presence_events_total",
		Help: "Presence transitions originated by this node.",
	}, []string{"transition"})
)

// Auth failure reasons.
const (
	ReasonMissingToken   = "missing_token"
	ReasonInvalidToken   = "invalid_token"
	ReasonInvalidPayload = "invalid_payload"
)

// Presence transition labels.
const (
	TransitionOnline  = "online"
	TransitionOffline = "offline"
)
