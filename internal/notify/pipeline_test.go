package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// End-to-end: a nearby opted-in user gets exactly one delivered record, a
// user 260 km away with identical preferences gets none.
func TestPipelineEndToEnd(t *testing.T) {
	event := Event{
		ID:          "evt-concert",
		Latitude:    ptr(51.5007),
		Longitude:   ptr(-0.1246),
		Category:    "Gospel Concert",
		ScheduledAt: time.Now().Add(48 * time.Hour),
		CreatorID:   "creator-1",
	}

	userA := testRecipient("user-a") // ~40 m away
	userA.QuietHoursStart, userA.QuietHoursEnd = 0, 0

	userB := testRecipient("user-b") // Manchester, ~260 km
	userB.Latitude = ptr(53.4808)
	userB.Longitude = ptr(-2.2426)
	userB.QuietHoursStart, userB.QuietHoursEnd = 0, 0

	history := newFakeHistory()
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{recipients: []Recipient{userA, userB}},
		History:    history,
		Gateway:    &fakeGateway{},
	}, testConfig(), NewStatsRecorder(10), discardLogger())

	stats := runner.Process(context.Background(), event)

	if stats.Sent != 1 || stats.Failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 1/0 (%s)", stats.Sent, stats.Failed, stats.Summary())
	}
	recA := history.recordsForUser("user-a")
	if len(recA) != 1 || !recA[0].Delivered {
		t.Fatalf("user-a records = %+v, want one delivered record", recA)
	}
	if recs := history.recordsForUser("user-b"); len(recs) != 0 {
		t.Fatalf("user-b should have no records, got %+v", recs)
	}
}

// At most one delivery record per (event, user) even under repeated and
// concurrent trigger invocations for the same event.
func TestPipelineIdempotentUnderConcurrentTriggers(t *testing.T) {
	event := testEvent("evt-dup")
	user := testRecipient("user-a")
	user.QuietHoursStart, user.QuietHoursEnd = 0, 0

	history := newFakeHistory()
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{recipients: []Recipient{user}},
		History:    history,
		Gateway:    &fakeGateway{},
	}, testConfig(), nil, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Process(context.Background(), event)
		}()
	}
	wg.Wait()

	// Two sequential replays on top of the concurrent burst.
	runner.Process(context.Background(), event)
	runner.Process(context.Background(), event)

	if got := history.recordsForUser("user-a"); len(got) != 1 {
		t.Fatalf("got %d records for (evt-dup, user-a), want exactly 1", len(got))
	}
}

// A trigger replayed after a completed run must not reach the gateway at all:
// the existing delivery record stops the resend before the send, not after.
func TestPipelineReplayedTriggerDoesNotResend(t *testing.T) {
	event := testEvent("evt-replay")
	user := testRecipient("user-a")
	user.QuietHoursStart, user.QuietHoursEnd = 0, 0

	history := newFakeHistory()
	gw := &fakeGateway{}
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{recipients: []Recipient{user}},
		History:    history,
		Gateway:    gw,
	}, testConfig(), nil, discardLogger())

	first := runner.Process(context.Background(), event)
	if first.Sent != 1 {
		t.Fatalf("first run: sent=%d, want 1 (%s)", first.Sent, first.Summary())
	}

	replay := runner.Process(context.Background(), event)

	if got := history.recordsForUser("user-a"); len(got) != 1 {
		t.Fatalf("got %d records after replay, want 1", len(got))
	}
	if gw.callCount() != 1 {
		t.Fatalf("gateway called %d times after replay, want 1", gw.callCount())
	}
	if replay.Sent != 0 || replay.Duplicates != 1 {
		t.Fatalf("replay run: sent=%d duplicates=%d, want 0/1 (%s)",
			replay.Sent, replay.Duplicates, replay.Summary())
	}
}

// Five qualifying events near one user produce exactly dailyLimit records.
func TestPipelineQuotaCapsAtDailyLimit(t *testing.T) {
	user := testRecipient("user-a")
	user.QuietHoursStart, user.QuietHoursEnd = 0, 0

	history := newFakeHistory()
	cfg := testConfig()
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{recipients: []Recipient{user}},
		History:    history,
		Gateway:    &fakeGateway{},
	}, cfg, nil, discardLogger())

	for i := 0; i < 5; i++ {
		stats := runner.Process(context.Background(), testEvent(fmt.Sprintf("evt-%d", i)))
		if i < cfg.DailyLimit && stats.Sent != 1 {
			t.Fatalf("event %d: sent=%d, want 1 (%s)", i, stats.Sent, stats.Summary())
		}
		if i >= cfg.DailyLimit && stats.Excluded[ReasonQuota] != 1 {
			t.Fatalf("event %d: expected quota exclusion, got %s", i, stats.Summary())
		}
	}

	if got := history.recordsForUser("user-a"); len(got) != cfg.DailyLimit {
		t.Fatalf("got %d records in window, want %d", len(got), cfg.DailyLimit)
	}
}

// A malformed event is a recorded skip, never an error, and the recipient
// source is never consulted.
func TestPipelineSkipsMalformedEvent(t *testing.T) {
	event := testEvent("evt-bad")
	event.Latitude = nil
	event.Longitude = nil

	recorder := NewStatsRecorder(10)
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{err: fmt.Errorf("must not be called")},
		History:    newFakeHistory(),
		Gateway:    &fakeGateway{},
	}, testConfig(), recorder, discardLogger())

	stats := runner.Process(context.Background(), event)

	if !stats.Skipped || stats.SkipReason != SkipMissingCoordinates {
		t.Fatalf("expected coordinate skip, got %+v", stats)
	}
	runs := recorder.Recent()
	if len(runs) != 1 || !runs[0].Skipped {
		t.Fatalf("skip not recorded: %+v", runs)
	}
}

// A candidate-source failure is contained in the run stats; the trigger
// source never sees an error.
func TestPipelineContainsSourceFailure(t *testing.T) {
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{err: fmt.Errorf("connection refused")},
		History:    newFakeHistory(),
		Gateway:    &fakeGateway{},
	}, testConfig(), nil, discardLogger())

	stats := runner.Process(context.Background(), testEvent("evt-1"))
	if stats.Error == "" {
		t.Fatalf("expected captured error, got %+v", stats)
	}
	if stats.Sent != 0 {
		t.Fatalf("nothing should be sent on source failure")
	}
}

type fakeEvents struct {
	events map[string]Event
}

func (f *fakeEvents) Event(ctx context.Context, id string) (Event, error) {
	e, ok := f.events[id]
	if !ok {
		return Event{}, fmt.Errorf("event %s not found", id)
	}
	return e, nil
}

func TestProcessByID(t *testing.T) {
	event := testEvent("evt-7")
	user := testRecipient("user-a")
	user.QuietHoursStart, user.QuietHoursEnd = 0, 0

	history := newFakeHistory()
	runner := NewRunner(Deps{
		Recipients: &fakeRecipients{recipients: []Recipient{user}},
		Events:     &fakeEvents{events: map[string]Event{"evt-7": event}},
		History:    history,
		Gateway:    &fakeGateway{},
	}, testConfig(), nil, discardLogger())

	stats, err := runner.ProcessByID(context.Background(), "evt-7")
	if err != nil {
		t.Fatalf("ProcessByID: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("sent=%d, want 1 (%s)", stats.Sent, stats.Summary())
	}

	if _, err := runner.ProcessByID(context.Background(), "evt-missing"); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestStatsRecorderEvictsOldest(t *testing.T) {
	r := NewStatsRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(RunStats{EventID: fmt.Sprintf("evt-%d", i)})
	}
	runs := r.Recent()
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].EventID != "evt-2" || runs[2].EventID != "evt-4" {
		t.Fatalf("unexpected eviction order: %+v", runs)
	}
}
