package notify

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/gatherly/gatherly-notify/internal/config"
)

// FilterEligible applies the eligibility predicates to each candidate in a
// fixed, short-circuiting order: opt-in, category match, quiet hours, quota.
// Every exclusion is tagged with its reason in stats.
//
// Candidates are processed sequentially so quota accounting is consistent
// within the run: a send reserved for a user earlier in the run counts
// against the limit for later candidates of the same user. Cross-run races
// are accepted; the history uniqueness constraint bounds each event to one
// record per user regardless of interleaving.
func FilterEligible(ctx context.Context, history History, event Event, candidates []Candidate, cfg config.NotifyConfig, now time.Time, stats *RunStats, logger *slog.Logger) []Candidate {
	reserved := make(map[string]int)

	var eligible []Candidate
	for _, c := range candidates {
		r := c.Recipient

		if !r.NotificationsEnabled {
			stats.exclude(ReasonOptOut)
			continue
		}

		if !slices.Contains(r.PreferredCategories, event.Category) {
			stats.exclude(ReasonCategory)
			continue
		}

		if inQuietWindow(localHour(now, r.Timezone), r.QuietHoursStart, r.QuietHoursEnd) {
			stats.exclude(ReasonQuietHours)
			continue
		}

		count, err := history.CountSince(ctx, r.ID, now.Add(-cfg.QuotaWindow))
		if err != nil {
			// Fail closed: excluding the candidate is cheaper than
			// risking a quota bypass.
			logger.Warn("Quota lookup failed, excluding candidate",
				"event_id", event.ID, "user_id", r.ID, "error", err)
			stats.exclude(ReasonQuotaLookup)
			continue
		}
		if count+reserved[r.ID] >= cfg.DailyLimit {
			stats.exclude(ReasonQuota)
			continue
		}

		reserved[r.ID]++
		eligible = append(eligible, c)
	}
	return eligible
}

// inQuietWindow reports whether hour lies in the circular half-open interval
// [start, end). Windows that wrap midnight (start=22, end=6) are handled:
// 23 and 5 are inside, 12 is outside. start == end is an empty window.
func inQuietWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// localHour returns the current hour in the recipient's declared timezone,
// falling back to UTC when the zone name does not resolve.
func localHour(now time.Time, timezone string) int {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Hour()
}
