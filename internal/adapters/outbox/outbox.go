// Package outbox queues messages sent by tile handlers to their map instance
// until the map drains them.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// DefaultMaxPending is the per-map queue bound used when none is configured.
const DefaultMaxPending = 1024

// Outbox implements output.MessageSender and input.MessageReader.
type Outbox struct {
	mu         sync.Mutex
	queues     map[domain.MapInstanceID][]domain.OutboundMessage
	maxPending int
	metrics    output.MetricsCollector
	now        func() time.Time
}

// New creates an outbox. Each map keeps at most maxPending messages; the
// oldest are dropped beyond that.
func New(maxPending int, metrics output.MetricsCollector) *Outbox {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Outbox{
		queues:     make(map[domain.MapInstanceID][]domain.OutboundMessage),
		maxPending: maxPending,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Send implements output.MessageSender.
func (o *Outbox) Send(_ context.Context, mapID domain.MapInstanceID, msgType string, data any) error {
	msg := domain.OutboundMessage{
		ID:     uuid.NewString(),
		Type:   msgType,
		MapID:  mapID,
		Data:   data,
		SentAt: o.now().UnixMilli(),
	}

	o.mu.Lock()
	q := append(o.queues[mapID], msg)
	if len(q) > o.maxPending {
		q = q[len(q)-o.maxPending:]
	}
	o.queues[mapID] = q
	o.mu.Unlock()

	o.metrics.IncOutboundMessages(msgType)
	return nil
}

// Drain implements input.MessageReader.
func (o *Outbox) Drain(_ context.Context, mapID domain.MapInstanceID) []domain.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queues[mapID]
	delete(o.queues, mapID)
	if q == nil {
		return []domain.OutboundMessage{}
	}
	return q
}

// Forget drops the pending messages of a released map instance.
func (o *Outbox) Forget(mapID domain.MapInstanceID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.queues, mapID)
}

// Pending returns the number of queued messages for mapID.
func (o *Outbox) Pending(mapID domain.MapInstanceID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[mapID])
}
