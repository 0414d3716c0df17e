package relay

import (
	"time"

	"relaygram/internal/eventbus"
)

// Event types published on the bus.
const (
	EventQueueCreated    = "relay.queue.created"
	EventQueueClosed     = "relay.queue.closed"
	EventQueueDeleted    = "relay.queue.deleted"
	EventDrainScheduled  = "relay.drain.scheduled"
	EventDeliverySent    = "relay.delivery.sent"
	EventDeliveryFailed  = "relay.delivery.failed"
	EventSendingFinished = "relay.sending.finished"
)

// QueueEvent is the payload of queue lifecycle events.
type QueueEvent struct {
	QueueID int64  `json:"queue_id"`
	Profile string `json:"profile"`
	Source  string `json:"source"`
	MinID   int64  `json:"min_id"`
	MaxID   int64  `json:"max_id"`
}

// DrainEvent summarizes one queue drained by a tick.
type DrainEvent struct {
	RunID   string        `json:"run_id"`
	Profile string        `json:"profile"`
	Source  string        `json:"source"`
	Items   int           `json:"items"`
	Offset  time.Duration `json:"offset"`
}

// DeliveryEvent reports one delivery attempt.
type DeliveryEvent struct {
	Profile string `json:"profile"`
	Kind    string `json:"kind"`
	Error   string `json:"error,omitempty"`
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clk.Now(), Data: data})
}

func queueEvent(q *Queue) QueueEvent {
	return QueueEvent{QueueID: q.ID, Profile: q.Profile, Source: q.Source, MinID: q.MinID, MaxID: q.MaxID}
}
