// Package fanout delivers engine events to WebSocket subscribers.
//
// Each subscriber owns a buffered channel drained by its connection's
// writer goroutine. Broadcast never blocks on a slow consumer: a full
// buffer drops the event and bumps a counter instead of stalling the
// tick loop.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fleetline/engine/pkg/core"
	"github.com/fleetline/engine/pkg/streaming"
)

// Class partitions subscribers by what they are allowed to see and send.
type Class string

const (
	ClassPassenger Class = "passenger"
	ClassOperator  Class = "operator"
	ClassAdmin     Class = "admin"
)

// SnapshotFunc supplies the full fleet state for new subscriptions.
type SnapshotFunc func() []core.Vehicle

// Subscription is one connected client's outbound stream. Read from C
// until it closes; call Unsubscribe exactly once per connection
// teardown (extra calls are harmless).
type Subscription struct {
	ID         string
	Class      Class
	OperatorID string
	C          chan streaming.Envelope

	hub  *Hub
	once sync.Once
}

// Unsubscribe detaches the subscription and closes C. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans engine events out to every live subscription.
type Hub struct {
	snapshot SnapshotFunc
	logger   *slog.Logger
	bufSize  int

	mu   sync.RWMutex
	subs map[Class]map[string]*Subscription

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
	gauge     metric.Int64ObservableGauge
}

// NewHub creates a Hub. bufSize is each subscriber's outbound queue
// depth; the snapshot sent on subscribe occupies one slot.
func NewHub(snapshot SnapshotFunc, bufSize int, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bufSize < 2 {
		bufSize = 64
	}
	h := &Hub{
		snapshot: snapshot,
		logger:   logger,
		bufSize:  bufSize,
		subs: map[Class]map[string]*Subscription{
			ClassPassenger: {},
			ClassOperator:  {},
			ClassAdmin:     {},
		},
	}

	m := meter()
	var err error
	h.delivered, err = m.Int64Counter(
		"fanout.events.delivered",
		metric.WithDescription("Events delivered to subscriber queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}
	h.dropped, err = m.Int64Counter(
		"fanout.events.dropped",
		metric.WithDescription("Events dropped on full subscriber queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	h.gauge, err = m.Int64ObservableGauge(
		"fanout.subscribers",
		metric.WithDescription("Current subscriber count"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating subscriber gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for class, set := range h.subs {
			o.ObserveInt64(h.gauge, int64(len(set)),
				metric.WithAttributes(attribute.String("class", string(class))))
		}
		return nil
	}, h.gauge)
	if err != nil {
		return nil, fmt.Errorf("registering subscriber callback: %w", err)
	}

	return h, nil
}

// Subscribe registers a new subscriber and queues the current fleet
// snapshot as its first message. operatorID is empty for passengers
// and admins.
func (h *Hub) Subscribe(class Class, operatorID string) *Subscription {
	sub := &Subscription{
		ID:         uuid.NewString(),
		Class:      class,
		OperatorID: operatorID,
		C:          make(chan streaming.Envelope, h.bufSize),
		hub:        h,
	}

	h.mu.Lock()
	h.subs[class][sub.ID] = sub
	if h.snapshot != nil {
		env, err := streaming.NewEnvelope(streaming.TypeSnapshot, streaming.SnapshotPayload{
			Vehicles: h.snapshot(),
		})
		if err != nil {
			h.logger.Error("snapshot encode failed", "error", err)
		} else {
			sub.C <- env // fresh channel, bufSize >= 2, cannot block
		}
	}
	h.mu.Unlock()

	h.logger.Debug("subscriber attached", "class", class, "id", sub.ID)
	return sub
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.Class][s.ID]; !ok {
		return
	}
	delete(h.subs[s.Class], s.ID)
	// All sends happen under the read lock, so closing here is safe.
	close(s.C)
	h.logger.Debug("subscriber detached", "class", s.Class, "id", s.ID)
}

// Counts returns the live subscriber count per class.
func (h *Hub) Counts() map[Class]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[Class]int, len(h.subs))
	for class, set := range h.subs {
		out[class] = len(set)
	}
	return out
}

// OperatorIDs returns the operator IDs with a live subscription.
func (h *Hub) OperatorIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs[ClassOperator]))
	for _, sub := range h.subs[ClassOperator] {
		ids = append(ids, sub.OperatorID)
	}
	return ids
}

// BroadcastDelta ships one simulation tick's movement batch to the
// watcher classes. Operators drive one vehicle and get only direct
// request/response traffic.
func (h *Hub) BroadcastDelta(vehicles []core.Vehicle) {
	env, err := streaming.NewEnvelope(streaming.TypeDelta, streaming.DeltaPayload{Vehicles: vehicles})
	if err != nil {
		h.logger.Error("delta encode failed", "error", err)
		return
	}
	h.broadcast(env, ClassPassenger, ClassAdmin)
}

// BroadcastOperatorUpdate ships a single accepted operator sample.
func (h *Hub) BroadcastOperatorUpdate(v core.Vehicle) {
	env, err := streaming.NewEnvelope(streaming.TypeOperatorUpdate, streaming.OperatorUpdatePayload{Vehicle: v})
	if err != nil {
		h.logger.Error("operator update encode failed", "error", err)
		return
	}
	h.broadcast(env, ClassPassenger, ClassAdmin)
}

// EmitOffline announces a vehicle reverting to simulation. Satisfies
// the ownership manager's emitter contract.
func (h *Hub) EmitOffline(v core.Vehicle, operatorID string) {
	env, err := streaming.NewEnvelope(streaming.TypeOffline, streaming.OfflinePayload{
		VehicleID:  v.ID,
		OperatorID: operatorID,
		At:         v.LastUpdateAt,
	})
	if err != nil {
		h.logger.Error("offline encode failed", "error", err)
		return
	}
	h.broadcast(env, ClassPassenger, ClassAdmin)
}

// Send queues one envelope to a single subscription, with the same
// drop-on-full policy as broadcast. Used for request/response traffic
// like acks and nearby answers.
func (h *Hub) Send(sub *Subscription, env streaming.Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[sub.Class][sub.ID]; !ok {
		return false
	}
	return h.offer(sub, env)
}

func (h *Hub) broadcast(env streaming.Envelope, classes ...Class) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, class := range classes {
		for _, sub := range h.subs[class] {
			h.offer(sub, env)
		}
	}
}

// offer is called with h.mu held (read side).
func (h *Hub) offer(sub *Subscription, env streaming.Envelope) bool {
	attrs := metric.WithAttributes(
		attribute.String("class", string(sub.Class)),
		attribute.String("type", env.Type),
	)
	select {
	case sub.C <- env:
		h.delivered.Add(context.Background(), 1, attrs)
		return true
	default:
		h.dropped.Add(context.Background(), 1, attrs)
		h.logger.Debug("subscriber queue full, event dropped",
			"class", sub.Class, "id", sub.ID, "type", env.Type)
		return false
	}
}
