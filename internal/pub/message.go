package pub

import (
	"bytes"
	"maps"
)

// messageOverhead approximates the per-message framing a broker adds on top
// of the payload, so that byte limits hold on the wire.
const messageOverhead = 20

// Message is a single outbound message.
type Message struct {
	// Data is the message payload.
	Data []byte
	// Attributes are optional key/value pairs carried alongside the payload.
	Attributes map[string]string
	// OrderingKey partitions messages into independently sequenced streams.
	// Messages without an ordering key are unordered.
	OrderingKey string
}

// Size returns the number of bytes the message contributes to a batch.
func (m Message) Size() int {
	n := len(m.Data) + len(m.OrderingKey) + messageOverhead
	for k, v := range m.Attributes {
		n += len(k) + len(v)
	}
	return n
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	return Message{
		Data:        bytes.Clone(m.Data),
		Attributes:  maps.Clone(m.Attributes),
		OrderingKey: m.OrderingKey,
	}
}
