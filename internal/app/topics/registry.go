// Package topics owns the desired-topic set: which broker feeds should be
// live right now, independent of how often UI panes come and go. The
// transport forgets its subscriptions when a connection drops; this registry
// is the component that restores them.
package topics

import (
	"log/slog"
	"sync"

	"crmsync/internal/infra/transport"
)

// Broker is the transport surface the registry drives.
type Broker interface {
	Connect(onConnected func())
	Subscribe(topic string, handler transport.Handler) string
	Unsubscribe(id string)
	UnsubscribeAll()
	Connected() bool
}

// Live-map markers for subscriptions whose broker id the registry never
// received. A subscribe issued just as the connection dropped is parked in
// the broker's pending set and flushed by the broker itself on the next
// connect (subDeferred); once that connect happens the subscription is live
// under an id only the broker knows (subUnknown). Real ids are UUIDs, so
// the markers cannot collide.
const (
	subDeferred = "deferred"
	subUnknown  = "unknown"
)

// Registry tracks desired topics and keeps exactly one live subscription per
// distinct topic string across reconnects. Safe for concurrent use.
type Registry struct {
	broker Broker
	logger *slog.Logger

	mu      sync.Mutex
	desired map[string]transport.Handler
	live    map[string]string
	started bool
}

// NewRegistry builds an empty registry over the given broker.
func NewRegistry(broker Broker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		broker:  broker,
		logger:  logger,
		desired: make(map[string]transport.Handler),
		live:    make(map[string]string),
	}
}

// Start connects the broker and arms resubscription: after every successful
// (re)connect the whole desired set is subscribed exactly once per topic.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	r.broker.Connect(r.resubscribe)
}

// Ensure adds a topic to the desired set and subscribes it immediately when
// the connection is up. Calling Ensure again for a live topic is a no-op:
// equality is by topic string, not by caller. Topics are not removed when a
// conversation is merely deselected; only Teardown drops them.
func (r *Registry) Ensure(topic string, handler transport.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desired[topic] = handler
	if _, ok := r.live[topic]; ok {
		return
	}
	if !r.broker.Connected() {
		// Deferred: resubscribe picks it up on the next connect.
		return
	}
	id := r.broker.Subscribe(topic, handler)
	if id == "" {
		// The connection dropped mid-call; the broker parked the
		// subscribe and will flush it on the next connect.
		id = subDeferred
	}
	r.live[topic] = id
}

// Topics returns the desired topic strings, for diagnostics.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.desired))
	for topic := range r.desired {
		out = append(out, topic)
	}
	return out
}

// Teardown cancels every live subscription and empties the desired set. Used
// on full application shutdown.
func (r *Registry) Teardown() {
	r.mu.Lock()
	r.desired = make(map[string]transport.Handler)
	r.live = make(map[string]string)
	r.mu.Unlock()
	r.broker.UnsubscribeAll()
}

// resubscribe runs on every successful (re)connect. Server-side state from
// the previous connection is gone, so the live map starts empty and the
// whole desired set is issued once per topic.
func (r *Registry) resubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Subscribes the broker deferred mid-reconnect are flushed from its
	// pending set by the connect being handled now; issuing them again
	// here would leave two live subscriptions for one topic string.
	flushed := make(map[string]bool)
	for topic, id := range r.live {
		if id == subDeferred {
			flushed[topic] = true
		}
	}
	r.live = make(map[string]string, len(r.desired))
	for topic, handler := range r.desired {
		if flushed[topic] {
			r.live[topic] = subUnknown
			continue
		}
		id := r.broker.Subscribe(topic, handler)
		if id == "" {
			id = subDeferred
		}
		r.live[topic] = id
	}
	if len(r.desired) > 0 {
		r.logger.Info("broker topics subscribed", "count", len(r.desired))
	}
}
