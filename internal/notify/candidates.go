package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gatherly/gatherly-notify/internal/geo"
)

// FindCandidates returns recipients within radiusKm of the event, with their
// exact great-circle distance. The event's creator is excluded. A malformed
// event (missing coordinates or category) yields an empty list and a logged
// skip reason — never an error that could halt the pipeline.
func FindCandidates(ctx context.Context, recipients Recipients, event Event, radiusKm float64, logger *slog.Logger) ([]Candidate, error) {
	if reason := event.SkipReason(); reason != "" {
		logger.Warn("Skipping malformed event", "event_id", event.ID, "reason", reason)
		return nil, nil
	}

	lat, lon := *event.Latitude, *event.Longitude
	nearby, err := recipients.ListPushableNear(ctx, lat, lon, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("list pushable recipients: %w", err)
	}

	var candidates []Candidate
	for _, r := range nearby {
		if r.ID == event.CreatorID {
			continue
		}
		// The source contract requires a location and push address, but the
		// distance cut is ours: sources may over-return (bounding box).
		if r.Latitude == nil || r.Longitude == nil || r.PushAddress == "" {
			continue
		}
		d := geo.DistanceKm(lat, lon, *r.Latitude, *r.Longitude)
		if d > radiusKm {
			continue
		}
		candidates = append(candidates, Candidate{Recipient: r, DistanceKm: d})
	}
	return candidates, nil
}
