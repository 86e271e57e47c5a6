// Package config holds the SDK initialization config and the ingest server
// configuration. Client config is in-memory only; server config is env-first
// with optional .env support.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mocksi/bilan-go/internal/bilanerr"
	"github.com/mocksi/bilan-go/internal/privacy"
)

// Mode selects where flushed events go.
type Mode string

const (
	// ModeLocal appends batches to the local persistent store.
	ModeLocal Mode = "local"
	// ModeServer posts batches to a remote ingest endpoint.
	ModeServer Mode = "server"
)

// Batching controls the event queue.
type Batching struct {
	BatchSize       int // events per flush batch
	FlushIntervalMS int // periodic flush cadence
	MaxBatches      int // queue capacity = BatchSize * MaxBatches
}

// DefaultBatching returns the shipping queue defaults.
func DefaultBatching() Batching {
	return Batching{BatchSize: 10, FlushIntervalMS: 5000, MaxBatches: 10}
}

// Init is the client SDK configuration passed to bilan.Init.
type Init struct {
	Mode     Mode
	UserID   string
	Endpoint string // ingest base URL, server mode only
	APIKey   string // bearer key, server mode only
	Debug    bool   // re-raise swallowed tracking errors

	// DataDir is where local mode persists its key-value state. Defaults
	// to ".bilan" under the working directory.
	DataDir string

	// TurnTimeoutMS bounds each wrapped AI call. Defaults to 30000.
	TurnTimeoutMS int

	Privacy  privacy.Config
	Batching Batching
}

// Normalize fills defaults and validates, returning an actionable error for
// anything the caller must fix.
func (c *Init) Normalize() error {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.Mode != ModeLocal && c.Mode != ModeServer {
		return bilanerr.NewInit(fmt.Errorf("unknown mode %q", c.Mode), `mode must be "local" or "server"`)
	}
	if c.UserID == "" {
		return bilanerr.NewInit(fmt.Errorf("userId required"), "set Init.UserID to a stable opaque user identifier")
	}
	if c.Mode == ModeServer && c.Endpoint == "" {
		return bilanerr.NewInit(fmt.Errorf("endpoint required for server mode"), "set Init.Endpoint to the ingest server base URL")
	}
	if c.Mode == ModeServer && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return bilanerr.NewInit(fmt.Errorf("endpoint %q is not an http(s) URL", c.Endpoint), "include the scheme, e.g. https://ingest.example.com")
	}
	if c.DataDir == "" {
		c.DataDir = ".bilan"
	}
	if c.TurnTimeoutMS <= 0 {
		c.TurnTimeoutMS = 30000
	}
	if c.Batching.BatchSize <= 0 {
		c.Batching.BatchSize = DefaultBatching().BatchSize
	}
	if c.Batching.FlushIntervalMS <= 0 {
		c.Batching.FlushIntervalMS = DefaultBatching().FlushIntervalMS
	}
	if c.Batching.MaxBatches <= 0 {
		c.Batching.MaxBatches = DefaultBatching().MaxBatches
	}
	return nil
}

// Environment returns the deployment environment from BILAN_ENV, defaulting
// to "production" so safety gates fail closed.
func Environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("BILAN_ENV")))
	if env == "" {
		return "production"
	}
	return env
}

// RawSQLAllowed reports whether raw SQL execution paths may run. Only
// development and test environments qualify.
func RawSQLAllowed() bool {
	switch Environment() {
	case "development", "test":
		return true
	}
	return false
}
