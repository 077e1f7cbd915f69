package messagepipeline

import (
	"time"
)

// Attribute keys set on every commit message entering the pipeline.
const (
	AttrSource     = "source"
	AttrRepository = "repository"
	AttrRevision   = "revision"
	AttrDeliveryID = "delivery_id"
)

// Message is the canonical, internal representation of an event flowing through the
// pipeline. It contains the core data, metadata, and acknowledgment handles.
type Message struct {
	// MessageData contains the core payload.
	MessageData

	// Attributes holds routing metadata; they are forwarded as Pub/Sub attributes.
	Attributes map[string]string

	// Ack signals that processing was successful.
	Ack func()

	// Nack signals that processing has failed.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is unique per message; for commits it is "<delivery id>-<index>".
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is when the message entered the pipeline.
	PublishTime time.Time `json:"publishTime"`
}

func (m Message) ack() {
	if m.Ack != nil {
		m.Ack()
	}
}

func (m Message) nack() {
	if m.Nack != nil {
		m.Nack()
	}
}
