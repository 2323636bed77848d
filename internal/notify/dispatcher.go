package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/example/cash-exchange/internal/models"
	"github.com/example/cash-exchange/internal/observability"
)

type EventType string

const (
	EventNewRequest       EventType = "new_request"
	EventRequestAccepted  EventType = "request_accepted"
	EventRequestCompleted EventType = "request_completed"

	// EventRequestCancelled only reaches the event stream; clients are not
	// notified of withdrawn requests.
	EventRequestCancelled EventType = "request_cancelled"
)

// Event is the envelope shipped to realtime clients and the event stream.
// Timestamp marshals as RFC 3339.
type Event struct {
	Type      EventType              `json:"type"`
	Data      models.ExchangeRequest `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Broadcaster is the registry surface the dispatcher fans out through.
type Broadcaster interface {
	BroadcastAll(payload []byte) int
	BroadcastToSubscribers(requestID string, payload []byte) int
}

// Sink receives a mirror of every event, e.g. a Kafka producer. Optional.
type Sink interface {
	Publish(ev Event) error
}

// Dispatcher builds typed event envelopes and routes them at the right
// fan-out scope. Dispatch is fire and forget: delivery failures are absorbed
// by the registry and never reach the triggering mutation.
type Dispatcher struct {
	Registry Broadcaster
	Sink     Sink
	Logger   *slog.Logger
}

func NewDispatcher(reg Broadcaster, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Registry: reg, Sink: sink, Logger: logger}
}

// NewRequest announces a freshly created request to every connected user:
// anyone nearby is a potential match.
func (d *Dispatcher) NewRequest(req models.ExchangeRequest) {
	ev := newEvent(EventNewRequest, req)
	n := d.Registry.BroadcastAll(d.encode(ev))
	d.finish(ev, n)
}

// Accepted notifies only the users subscribed to this request's lifecycle.
func (d *Dispatcher) Accepted(req models.ExchangeRequest) {
	ev := newEvent(EventRequestAccepted, req)
	n := d.Registry.BroadcastToSubscribers(req.ID, d.encode(ev))
	d.finish(ev, n)
}

// Completed notifies the request's subscribers of settlement.
func (d *Dispatcher) Completed(req models.ExchangeRequest) {
	ev := newEvent(EventRequestCompleted, req)
	n := d.Registry.BroadcastToSubscribers(req.ID, d.encode(ev))
	d.finish(ev, n)
}

// Cancelled mirrors the withdrawal to the event stream so downstream
// indexes can evict the request. No realtime fan-out.
func (d *Dispatcher) Cancelled(req models.ExchangeRequest) {
	d.finish(newEvent(EventRequestCancelled, req), 0)
}

func newEvent(t EventType, req models.ExchangeRequest) Event {
	return Event{Type: t, Data: req, Timestamp: time.Now().UTC()}
}

func (d *Dispatcher) encode(ev Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

func (d *Dispatcher) finish(ev Event, delivered int) {
	observability.EventsDispatched.WithLabelValues(string(ev.Type)).Inc()
	if d.Sink != nil {
		if err := d.Sink.Publish(ev); err != nil {
			d.Logger.Warn("event sink publish failed", "type", ev.Type, "request_id", ev.Data.ID, "error", err)
		}
	}
	d.Logger.Debug("event dispatched", "type", ev.Type, "request_id", ev.Data.ID, "delivered", delivered)
}
