// Package transport delivers flushed event batches to their destination:
// the local persistent store in local mode, or the remote ingest endpoint in
// server mode. Failures surface as flush errors so the queue requeues the
// batch; retry happens implicitly on the next flush cycle.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mocksi/bilan-go/internal/bilanerr"
	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/kvstore"
)

// localEventCap bounds the local-mode event log; the oldest records are
// trimmed once it is exceeded.
const localEventCap = 1000

// Sender delivers one batch of events.
type Sender interface {
	Send(ctx context.Context, batch []event.Event) error
}

// Local appends batches to the per-user event log in the local store.
type Local struct {
	store  kvstore.Store
	userID string
}

// NewLocal returns a local-mode sender for userID.
func NewLocal(store kvstore.Store, userID string) *Local {
	return &Local{store: store, userID: userID}
}

// EventsKey returns the store key holding a user's local event log.
func EventsKey(userID string) string {
	return "events:" + userID
}

// Send implements Sender.
func (l *Local) Send(_ context.Context, batch []event.Event) error {
	key := EventsKey(l.userID)
	raw, err := l.store.Get(key)
	if err != nil {
		return bilanerr.NewStorage("read local events", err)
	}

	var existing []event.Event
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			// A corrupt log is replaced rather than wedging delivery.
			log.Warn().Err(err).Str("key", key).Msg("Corrupt local event log; resetting")
			existing = nil
		}
	}

	existing = append(existing, batch...)
	if len(existing) > localEventCap {
		existing = existing[len(existing)-localEventCap:]
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return bilanerr.NewStorage("encode local events", err)
	}
	if err := l.store.Set(key, string(data)); err != nil {
		return bilanerr.NewStorage("write local events", err)
	}
	return nil
}

// HTTP posts batches to {endpoint}/api/events with bearer auth.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP returns a server-mode sender. A nil client uses a 30s-timeout
// default.
func NewHTTP(endpoint, apiKey string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

// Send implements Sender. Any non-2xx response is a flush error; there is
// no retry at this layer.
func (h *HTTP) Send(ctx context.Context, batch []event.Event) error {
	body, err := json.Marshal(map[string]any{"events": batch})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/api/events", bytes.NewReader(body))
	if err != nil {
		return bilanerr.NewNetwork("build ingest request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return bilanerr.NewNetwork("post events", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return bilanerr.NewNetwork("post events",
			fmt.Errorf("ingest returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	log.Debug().Int("events", len(batch)).Msg("Batch delivered to ingest endpoint")
	return nil
}
