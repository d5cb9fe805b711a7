// Package websocket implements the real-time pub/sub hub that pushes
// notification events to connected browser clients. It uses
// gorilla/websocket under the hood and exposes a topic-based broadcast API
// consumed by the notification service.
//
// Topic naming convention:
//
//	notifications:<user_id>  — in-app notifications for a specific user
package websocket

// MessageType identifies the kind of event carried by a Message.
// The client uses this field to route the payload to the correct store update.
type MessageType string

const (
	// MsgNotification is sent when a new in-app notification is created for
	// the subscribed user.
	MsgNotification MessageType = "notification"

	// MsgPing is an application-level keepalive type. Nothing in this
	// package sends it: the writePump keeps connections alive with
	// WebSocket ping frames.
	MsgPing MessageType = "ping"
)

// Message is the envelope for every WebSocket frame sent to clients.
// The client deserializes this struct and dispatches on Type.
//
// JSON example:
//
//	{"type":"notification","topic":"notifications:018f...","payload":{"id":"...","message":"..."}}
type Message struct {
	// Type identifies the kind of event so the client can route it correctly.
	Type MessageType `json:"type"`

	// Topic is the pub/sub channel this message was published on.
	// Clients use it to associate the update with the correct UI element.
	Topic string `json:"topic"`

	// Payload carries the event-specific data. The shape varies by Type:
	//   - notification: {"id":"...","type":"...","message":"...","priority":0,"created_at":"..."}
	//   - ping:          {} (empty)
	Payload any `json:"payload"`
}