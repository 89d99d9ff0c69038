package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gatherly/gatherly-notify/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.NotifyConfig {
	return config.NotifyConfig{
		RadiusKm:     20,
		DailyLimit:   3,
		QuotaWindow:  24 * time.Hour,
		BatchSize:    100,
		MaxInFlight:  2,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func ptr(f float64) *float64 { return &f }

func testEvent(id string) Event {
	return Event{
		ID:          id,
		Latitude:    ptr(51.5007),
		Longitude:   ptr(-0.1246),
		Category:    "Gospel Concert",
		ScheduledAt: time.Date(2026, 9, 5, 19, 0, 0, 0, time.UTC),
		CreatorID:   "creator-1",
	}
}

// testRecipient is a fully eligible recipient a few hundred meters from
// testEvent, with quiet hours that never match a mid-day run.
func testRecipient(id string) Recipient {
	return Recipient{
		ID:                   id,
		Latitude:             ptr(51.5010),
		Longitude:            ptr(-0.1250),
		NotificationsEnabled: true,
		PreferredCategories:  []string{"Gospel Concert"},
		QuietHoursStart:      22,
		QuietHoursEnd:        6,
		Timezone:             "UTC",
		PushAddress:          "push-" + id,
	}
}

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeRecipients struct {
	recipients []Recipient
	err        error
}

func (f *fakeRecipients) ListPushableNear(ctx context.Context, lat, lon, radiusKm float64) ([]Recipient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.recipients, nil
}

// fakeHistory is an in-memory delivery-record store enforcing the
// (event, user) uniqueness constraint under a mutex, mirroring the
// database's behavior under concurrent inserts.
type fakeHistory struct {
	mu        sync.Mutex
	records   map[string]DeliveryRecord
	countErr  error
	existsErr error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: make(map[string]DeliveryRecord)}
}

func pairKey(eventID, userID string) string { return eventID + "|" + userID }

func (f *fakeHistory) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, rec := range f.records {
		if rec.UserID == userID && !rec.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeHistory) Exists(ctx context.Context, eventID, userID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[pairKey(eventID, userID)]
	return ok, nil
}

func (f *fakeHistory) Insert(ctx context.Context, rec DeliveryRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(rec.EventID, rec.UserID)
	if _, exists := f.records[key]; exists {
		return false, nil
	}
	f.records[key] = rec
	return true, nil
}

func (f *fakeHistory) recordsForUser(userID string) []DeliveryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DeliveryRecord
	for _, rec := range f.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeHistory) record(eventID, userID string) (DeliveryRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[pairKey(eventID, userID)]
	return rec, ok
}

func (f *fakeHistory) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeGateway simulates the push gateway with configurable per-item and
// whole-batch failures.
type fakeGateway struct {
	mu            sync.Mutex
	failAddresses map[string]bool // per-item rejections
	failBatches   int             // transport failures before succeeding
	permanentErr  error           // every call fails
	calls         int
	batchSizes    []int
}

func (f *fakeGateway) SendBatch(ctx context.Context, msgs []PushMessage) ([]PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batchSizes = append(f.batchSizes, len(msgs))

	if f.permanentErr != nil {
		return nil, f.permanentErr
	}
	if f.failBatches > 0 {
		f.failBatches--
		return nil, fmt.Errorf("gateway unavailable")
	}

	results := make([]PushResult, len(msgs))
	for i, m := range msgs {
		if f.failAddresses[m.Address] {
			results[i] = PushResult{Address: m.Address, Status: "failed", Error: "invalid token"}
		} else {
			results[i] = PushResult{Address: m.Address, Status: StatusOK}
		}
	}
	return results, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
