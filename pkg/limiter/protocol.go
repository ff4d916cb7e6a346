package limiter

import "encoding/json"

// messageType enumerates the coordination protocol's wire message kinds.
type messageType string

const (
	msgHello   messageType = "HELLO"
	msgWelcome messageType = "WELCOME"
	msgGoodbye messageType = "GOODBYE"
)

// message is the wire record published and received on a coordination
// channel. The wire format is not protocol-standardized beyond this
// package; any encoding is acceptable provided all peers agree, and JSON
// costs nothing observable at the message volumes this protocol produces.
type message struct {
	Type messageType `json:"type"`
	ID   string      `json:"id"`
	// T is the sender's wall-clock time in Unix milliseconds, not a
	// monotonic reading, used only for diagnostics; it plays no role in
	// admission or membership decisions.
	T int64 `json:"t,omitempty"`
}

func encodeMessage(m message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(payload []byte) (message, error) {
	var m message
	err := json.Unmarshal(payload, &m)
	return m, err
}
