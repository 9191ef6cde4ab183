package model

// PublishRequest is a message handed to the publisher by a producer.
// It is never modified after it is queued.
type PublishRequest struct {
	Topic   string
	Payload []byte
}

// NewPublishRequest copies payload so the caller may reuse its buffer.
func NewPublishRequest(topic string, payload []byte) PublishRequest {
	p := make([]byte, len(payload))
	copy(p, payload)
	return PublishRequest{Topic: topic, Payload: p}
}
