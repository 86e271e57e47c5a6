package event

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// ID generation does not need cryptographic randomness: a millisecond
// timestamp plus a short random suffix is unique within a client's lifetime,
// and ingest dedup absorbs the residual collision risk.

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(idAlphabet[rand.Intn(len(idAlphabet))])
	}
	return b.String()
}

func newTimestampID(prefix string) string {
	return prefix + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + randomSuffix(9)
}

// NewEventID returns a fresh event identifier (evt_<ms>_<rand9>).
func NewEventID() string {
	return newTimestampID("evt_")
}

// NewTurnID returns a fresh turn identifier (turn_<ms>_<rand9>).
func NewTurnID() string {
	return newTimestampID("turn_")
}

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string {
	return newTimestampID("conv_")
}

// NewJourneyID returns a fresh journey identifier.
func NewJourneyID() string {
	return newTimestampID("journey_")
}

// NowMillis returns the current wall clock in milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
