package notify

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/gatherly/gatherly-notify/internal/geo"
)

func TestFindCandidatesRadiusBoundary(t *testing.T) {
	event := testEvent("evt-1")
	lat, lon := *event.Latitude, *event.Longitude

	// Recipients straddling the 20 km boundary, offset along latitude:
	// one degree of latitude is EarthRadius*pi/180 km.
	kmPerDegLat := geo.EarthRadiusKm * math.Pi / 180
	inside := testRecipient("inside")
	inside.Latitude = ptr(lat + 19.99/kmPerDegLat)
	inside.Longitude = ptr(lon)
	outside := testRecipient("outside")
	outside.Latitude = ptr(lat + 20.01/kmPerDegLat)
	outside.Longitude = ptr(lon)

	src := &fakeRecipients{recipients: []Recipient{inside, outside}}
	candidates, err := FindCandidates(context.Background(), src, event, 20, discardLogger())
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Recipient.ID != "inside" {
		t.Fatalf("expected only the inside recipient, got %+v", candidates)
	}
	if candidates[0].DistanceKm > 20 {
		t.Fatalf("candidate distance %.3f exceeds radius", candidates[0].DistanceKm)
	}
}

func TestFindCandidatesExcludesCreatorAndUnpushable(t *testing.T) {
	event := testEvent("evt-1")

	creator := testRecipient(event.CreatorID)
	noAddress := testRecipient("no-address")
	noAddress.PushAddress = ""
	noLocation := testRecipient("no-location")
	noLocation.Latitude = nil
	noLocation.Longitude = nil
	ok := testRecipient("ok")

	src := &fakeRecipients{recipients: []Recipient{creator, noAddress, noLocation, ok}}
	candidates, err := FindCandidates(context.Background(), src, event, 20, discardLogger())
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Recipient.ID != "ok" {
		t.Fatalf("expected only the pushable non-creator recipient, got %+v", candidates)
	}
}

func TestFindCandidatesMalformedEvent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		reason string
	}{
		{name: "no coordinates", mutate: func(e *Event) { e.Latitude, e.Longitude = nil, nil }, reason: SkipMissingCoordinates},
		{name: "no latitude", mutate: func(e *Event) { e.Latitude = nil }, reason: SkipMissingCoordinates},
		{name: "no category", mutate: func(e *Event) { e.Category = "" }, reason: SkipMissingCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := testEvent("evt-bad")
			tt.mutate(&event)
			if got := event.SkipReason(); got != tt.reason {
				t.Fatalf("SkipReason = %q, want %q", got, tt.reason)
			}

			// The source would error if queried; a skip must never reach it.
			src := &fakeRecipients{err: fmt.Errorf("must not be called")}
			candidates, err := FindCandidates(context.Background(), src, event, 20, discardLogger())
			if err != nil {
				t.Fatalf("malformed event returned error: %v", err)
			}
			if len(candidates) != 0 {
				t.Fatalf("malformed event returned candidates: %+v", candidates)
			}
		})
	}
}

func TestFindCandidatesSourceError(t *testing.T) {
	src := &fakeRecipients{err: fmt.Errorf("connection refused")}
	_, err := FindCandidates(context.Background(), src, testEvent("evt-1"), 20, discardLogger())
	if err == nil {
		t.Fatal("expected error from failing source")
	}
}
