package liveserver

import "time"

// Message is one frame pushed to websocket clients
type Message struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// Message types mirror the pipeline event names
const (
	TypeSignal    = "signal"
	TypeRouting   = "routing"
	TypeExecution = "execution"
	TypePosition  = "position"
	TypeHealth    = "health"
	TypeHello     = "hello"
)

// NewMessage stamps a message with the current time
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Time: time.Now().UTC(), Data: data}
}

// Channel maps an event name such as "routing.decided" to its message type.
// Unknown prefixes pass through unchanged.
func Channel(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return eventType[:i]
		}
	}
	return eventType
}
