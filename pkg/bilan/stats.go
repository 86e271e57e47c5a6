package bilan

import (
	"context"
	"encoding/json"

	"github.com/mocksi/bilan-go/internal/bilanerr"
	"github.com/mocksi/bilan-go/internal/event"
	"github.com/mocksi/bilan-go/internal/transport"
)

// BasicStats is the local-mode feedback aggregate.
type BasicStats struct {
	TotalVotes     int      `json:"total_votes"`
	PositiveRate   float64  `json:"positive_rate"`
	RecentComments []string `json:"recent_comments"`
	TotalEvents    int      `json:"total_events"`
}

// maxRecentComments bounds the comment list returned by GetStats.
const maxRecentComments = 5

// GetStats aggregates vote feedback from the local event log. Server-mode
// deployments read analytics from the ingest side instead; in that mode this
// reports only what was delivered locally (typically nothing).
func (s *SDK) GetStats(ctx context.Context) (BasicStats, error) {
	_ = ctx

	raw, err := s.store.Get(transport.EventsKey(s.cfg.UserID))
	if err != nil {
		if s.cfg.Debug {
			return BasicStats{}, bilanerr.NewStats(err)
		}
		return BasicStats{}, nil
	}
	if raw == "" {
		return BasicStats{}, nil
	}

	var events []event.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		if s.cfg.Debug {
			return BasicStats{}, bilanerr.NewStats(err)
		}
		return BasicStats{}, nil
	}

	stats := BasicStats{TotalEvents: len(events)}
	positive := 0
	// Newest-first so RecentComments reads most recent first.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.EventType != event.TypeVoteCast {
			continue
		}
		stats.TotalVotes++
		if v, ok := e.Properties["value"].(float64); ok && v == 1 {
			positive++
		}
		if c, ok := e.Properties["comment"].(string); ok && c != "" && len(stats.RecentComments) < maxRecentComments {
			stats.RecentComments = append(stats.RecentComments, c)
		}
	}
	if stats.TotalVotes > 0 {
		stats.PositiveRate = float64(positive) / float64(stats.TotalVotes)
	}
	return stats, nil
}
