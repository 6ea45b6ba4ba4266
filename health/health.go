// Package health periodically evaluates endpoint delivery health over a
// sliding window of recent outcomes.
package health

import (
	"fmt"
	"time"

	"github.com/hooklinehq/hookline/delivery"
	"github.com/hooklinehq/hookline/id"
)

// Health thresholds. An endpoint is unhealthy when its consecutive failure
// streak or success rate crosses these bounds; high latency is reported as
// an issue but does not flip the healthy bit on its own.
const (
	MaxConsecutiveFailures = 5
	MinUptimePercent       = 80.0
	MaxAvgLatencyMs        = 5000
)

// Snapshot is the computed health state of one endpoint at a point in time.
type Snapshot struct {
	EndpointID id.ID `json:"endpoint_id"`

	Healthy bool `json:"healthy"`

	// ConsecutiveFailures is the length of the failure streak counted
	// from the most recent resolved delivery backwards.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// UptimePercent is delivered / resolved * 100 over the window.
	UptimePercent float64 `json:"uptime_percent"`

	// AvgLatencyMs averages round-trip latency of delivered attempts.
	AvgLatencyMs int `json:"avg_latency_ms"`

	// TotalDeliveries counts resolved deliveries in the window. Pending
	// deliveries are excluded; they have no outcome yet.
	TotalDeliveries int `json:"total_deliveries"`

	Issues []string `json:"issues,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// Compute evaluates a window of deliveries, newest first, into a snapshot.
// An endpoint with no resolved deliveries in the window is healthy.
func Compute(epID id.ID, window []*delivery.Delivery, now time.Time) *Snapshot {
	snap := &Snapshot{
		EndpointID:    epID,
		Healthy:       true,
		UptimePercent: 100,
		CheckedAt:     now,
	}

	var (
		delivered    int
		resolved     int
		latencySum   int
		streakBroken bool
	)
	for _, d := range window {
		switch d.Status {
		case delivery.StatusDelivered:
			delivered++
			resolved++
			latencySum += d.LatencyMs
			streakBroken = true
		case delivery.StatusFailed, delivery.StatusDeadLetter:
			resolved++
			if !streakBroken {
				snap.ConsecutiveFailures++
			}
		case delivery.StatusPending:
			// No outcome yet; does not count either way.
		}
	}

	snap.TotalDeliveries = resolved
	if resolved == 0 {
		return snap
	}

	snap.UptimePercent = float64(delivered) / float64(resolved) * 100
	if delivered > 0 {
		snap.AvgLatencyMs = latencySum / delivered
	}

	if snap.ConsecutiveFailures >= MaxConsecutiveFailures {
		snap.Healthy = false
		snap.Issues = append(snap.Issues,
			fmt.Sprintf("%d consecutive failures", snap.ConsecutiveFailures))
	}
	if snap.UptimePercent <= MinUptimePercent {
		snap.Healthy = false
		snap.Issues = append(snap.Issues,
			fmt.Sprintf("uptime %.1f%% below %.0f%%", snap.UptimePercent, MinUptimePercent))
	}
	if snap.AvgLatencyMs > MaxAvgLatencyMs {
		snap.Issues = append(snap.Issues,
			fmt.Sprintf("average latency %dms exceeds %dms", snap.AvgLatencyMs, MaxAvgLatencyMs))
	}

	return snap
}
