// Package queue implements the bounded durable event buffer between the
// trackers and the transport. Events are persisted to the local store on
// every successful mutation so a restart resumes with exactly the pending
// set, and a failed flush puts its batch back at the head of the line.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/kvstore"
)

// persistKey is the store key holding the pending queue snapshot.
const persistKey = "event_queue"

// FlushFunc delivers one batch to its destination (local store or ingest
// endpoint). A non-nil error requeues the batch.
type FlushFunc func(ctx context.Context, batch []event.Event) error

// Config sizes the queue.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBatches    int
}

// Queue is the bounded durable buffer. All mutations are serialized by an
// internal mutex; at most one flush is in flight at a time.
type Queue struct {
	mu           sync.Mutex
	events       []event.Event
	isProcessing bool

	cfg   Config
	store kvstore.Store
	sink  FlushFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue backed by store, delivering batches through sink.
func New(cfg Config, store kvstore.Store, sink FlushFunc) (*Queue, error) {
	if cfg.BatchSize <= 0 || cfg.MaxBatches <= 0 {
		return nil, fmt.Errorf("batch size and max batches must be positive")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if sink == nil {
		return nil, fmt.Errorf("flush sink is required")
	}
	q := &Queue{cfg: cfg, store: store, sink: sink}
	if err := q.loadPersisted(); err != nil {
		// A corrupt snapshot should not brick the client; start empty.
		log.Warn().Err(err).Msg("Failed to load persisted event queue; starting empty")
	}
	return q, nil
}

// Capacity returns the hard cap on resident events.
func (q *Queue) Capacity() int {
	return q.cfg.BatchSize * q.cfg.MaxBatches
}

// Size returns the number of pending events.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Enqueue appends an event, evicting the oldest when at capacity, persists
// the snapshot, and triggers a flush once a full batch is pending.
func (q *Queue) Enqueue(ctx context.Context, e event.Event) error {
	q.mu.Lock()
	if len(q.events) >= q.Capacity() {
		dropped := q.events[0]
		q.events = q.events[1:]
		log.Warn().
			Str("event_id", dropped.EventID).
			Str("event_type", string(dropped.EventType)).
			Msg("Event queue at capacity; dropping oldest event")
	}
	q.events = append(q.events, e)
	persistErr := q.persistLocked()
	shouldFlush := len(q.events) >= q.cfg.BatchSize
	q.mu.Unlock()

	if persistErr != nil {
		return fmt.Errorf("failed to persist event queue: %w", persistErr)
	}
	if shouldFlush {
		return q.Flush(ctx, false)
	}
	return nil
}

// Flush delivers the oldest batch. When another flush is already in flight
// it returns immediately; when the queue is empty it returns unless forced.
// On sink failure the batch is prepended back, preserving order.
func (q *Queue) Flush(ctx context.Context, force bool) error {
	q.mu.Lock()
	if q.isProcessing {
		q.mu.Unlock()
		return nil
	}
	if len(q.events) == 0 {
		// Nothing to deliver; forced flushes are also satisfied trivially.
		q.mu.Unlock()
		return nil
	}
	q.isProcessing = true
	n := q.cfg.BatchSize
	if n > len(q.events) {
		n = len(q.events)
	}
	inFlight := make([]event.Event, n)
	copy(inFlight, q.events[:n])
	q.events = q.events[n:]
	q.mu.Unlock()

	err := q.sink(ctx, inFlight)

	q.mu.Lock()
	defer func() {
		q.isProcessing = false
		q.mu.Unlock()
	}()

	if err != nil {
		// Requeue at the head so emission order survives the failure.
		// Enqueues that landed while the batch was in flight may push the
		// total past capacity; evict oldest-first back down to the cap.
		q.events = append(inFlight, q.events...)
		if over := len(q.events) - q.Capacity(); over > 0 {
			log.Warn().
				Int("dropped", over).
				Msg("Requeued events exceed queue capacity; dropping oldest")
			q.events = q.events[over:]
		}
		if perr := q.persistLocked(); perr != nil {
			log.Error().Err(perr).Msg("Failed to persist requeued events")
		}
		return fmt.Errorf("flush failed, %d events requeued: %w", len(inFlight), err)
	}
	if perr := q.persistLocked(); perr != nil {
		log.Error().Err(perr).Msg("Failed to persist event queue after flush")
	}
	return nil
}

// Start launches the periodic flush scheduler. Call Destroy to stop it.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		cancel()
		return
	}
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.Flush(ctx, false); err != nil {
					log.Debug().Err(err).Msg("Periodic flush failed; events retained for next cycle")
				}
			}
		}
	}()
}

// Destroy stops the scheduler and performs a final forced flush.
func (q *Queue) Destroy(ctx context.Context) error {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		q.wg.Wait()
	}
	return q.Flush(ctx, true)
}

// Clear drops all pending events and the persisted snapshot.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
	return q.store.Delete(persistKey)
}

// Snapshot returns a copy of the pending events for inspection.
func (q *Queue) Snapshot() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]event.Event, len(q.events))
	copy(out, q.events)
	return out
}

// persistLocked writes the full queue snapshot. Caller must hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.Marshal(q.events)
	if err != nil {
		return err
	}
	return q.store.Set(persistKey, string(data))
}

// loadPersisted populates the queue from the last persisted snapshot.
func (q *Queue) loadPersisted() error {
	raw, err := q.store.Get(persistKey)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	var events []event.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return fmt.Errorf("corrupt queue snapshot: %w", err)
	}
	q.mu.Lock()
	q.events = events
	q.mu.Unlock()
	return nil
}
