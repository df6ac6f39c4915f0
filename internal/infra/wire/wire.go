// Package wire defines the frames exchanged between the sync client and the
// event broker endpoint. Both sides decode the same shapes; payloads inside
// Data are advisory (consumers re-fetch state rather than apply them).
package wire

import "encoding/json"

// Control actions sent from client to broker.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Control is a client-to-broker frame managing topic subscriptions.
type Control struct {
	Action string `json:"action"`
	ID     string `json:"id"`
	Topic  string `json:"topic"`
}

// Push is a broker-to-client frame carrying one event for one topic.
type Push struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}
