package domain

import "time"

// MessageKind identifies the shape of a bus message
type MessageKind string

const (
	MessageKindSubscribeAck   MessageKind = "subscribe_ack"
	MessageKindUnsubscribeAck MessageKind = "unsubscribe_ack"
	MessageKindJob            MessageKind = "job"
	MessageKindAck            MessageKind = "ack"
	MessageKindRegister       MessageKind = "register"
	MessageKindClearWorker    MessageKind = "clear_worker"
	MessageKindShutdown       MessageKind = "shutdown"
)

// Well-known topics. The master topic name is configurable and is not
// listed here; the private topic of a worker is its identity.
const (
	TopicBroadcast = "broadcast"
	TopicShutdown  = "shutdown"
	TopicTopics    = "topics"
)

// Message is the envelope carried by the message bus.
type Message struct {
	ID        string                 `json:"id"`
	Kind      MessageKind            `json:"kind"`
	From      string                 `json:"from,omitempty"`
	Topic     string                 `json:"topic,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Job       *Job                   `json:"job,omitempty"`
	Snapshot  *WorkerSnapshot        `json:"snapshot,omitempty"`
	WorkerID  WorkerIdentity         `json:"worker_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
