package realtime

import (
	"log/slog"
	"sync"

	"github.com/example/cash-exchange/internal/observability"
)

// Channel is one live outbound path to a user. Implementations must be safe
// for concurrent Send calls.
type Channel interface {
	Send(payload []byte) error
	Close() error
}

// Registry tracks at most one live channel per user plus per-request
// subscriber sets. All state sits behind one mutex; broadcasts iterate over a
// snapshot so a prune triggered by a failed send cannot invalidate the walk.
//
// Delivery is best effort: a failed send unregisters the user and is reported
// only through the bool/count return, never as an error. Authoritative state
// lives in the store and can be re-fetched by the client.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]Channel
	subs   map[string]map[string]struct{} // request id -> subscribed user ids
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]Channel),
		subs:   make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Register installs ch as the user's channel. An existing channel for the
// same user is closed first, so a reconnect cannot leak the old handle.
func (r *Registry) Register(userID string, ch Channel) {
	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = ch
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	observability.ConnectionsActive.Set(float64(r.Len()))
}

// Unregister removes the user's channel and every subscription it holds.
// Unregistering an absent user is a no-op.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.conns, userID)
	for id, set := range r.subs {
		delete(set, userID)
		if len(set) == 0 {
			delete(r.subs, id)
		}
	}
	r.mu.Unlock()
	observability.ConnectionsActive.Set(float64(r.Len()))
}

// Subscribe records interest in a request's lifecycle. A subscription may
// precede or outlive the user's connection.
func (r *Registry) Subscribe(userID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[requestID]
	if !ok {
		set = make(map[string]struct{})
		r.subs[requestID] = set
	}
	set[userID] = struct{}{}
}

func (r *Registry) Unsubscribe(userID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[requestID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(r.subs, requestID)
		}
	}
}

// SendTo attempts delivery to one user. It returns false when the user has no
// connection or the send fails; a failed send also unregisters the user.
func (r *Registry) SendTo(userID string, payload []byte) bool {
	r.mu.Lock()
	ch, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := ch.Send(payload); err != nil {
		r.logger.Warn("dropping dead connection", "user_id", userID, "error", err)
		observability.DeliveriesFailed.Inc()
		r.drop(userID, ch)
		return false
	}
	observability.DeliveriesTotal.Inc()
	return true
}

// BroadcastAll sends payload to every registered user and returns how many
// deliveries succeeded. One dead connection never blocks the rest.
func (r *Registry) BroadcastAll(payload []byte) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	delivered := 0
	for _, id := range ids {
		if r.SendTo(id, payload) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToSubscribers sends payload to the request's subscribers.
// Subscribers without a live connection are skipped.
func (r *Registry) BroadcastToSubscribers(requestID string, payload []byte) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.subs[requestID]))
	for id := range r.subs[requestID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	delivered := 0
	for _, id := range ids {
		if r.SendTo(id, payload) {
			delivered++
		}
	}
	return delivered
}

// Release unregisters the user only if ch is still the registered channel,
// which keeps a finished read loop from evicting a replacement connection.
func (r *Registry) Release(userID string, ch Channel) { r.drop(userID, ch) }

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// drop removes the entry only if it still owns ch, so pruning a failed send
// cannot evict a connection registered in the meantime.
func (r *Registry) drop(userID string, ch Channel) {
	r.mu.Lock()
	if cur, ok := r.conns[userID]; ok && cur == ch {
		delete(r.conns, userID)
		for id, set := range r.subs {
			delete(set, userID)
			if len(set) == 0 {
				delete(r.subs, id)
			}
		}
	}
	r.mu.Unlock()
	_ = ch.Close()
	observability.ConnectionsActive.Set(float64(r.Len()))
}
