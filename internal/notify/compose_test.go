package notify

import (
	"reflect"
	"strings"
	"testing"
)

func TestComposeDeterministic(t *testing.T) {
	event := testEvent("evt-1")
	candidate := Candidate{Recipient: testRecipient("u1"), DistanceKm: 0.04}

	a := Compose(event, candidate)
	b := Compose(event, candidate)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Compose is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestComposeContents(t *testing.T) {
	event := testEvent("evt-42")
	got := Compose(event, Candidate{Recipient: testRecipient("u1"), DistanceKm: 12.34})

	if got.EventID != "evt-42" || got.UserID != "u1" || got.Address != "push-u1" {
		t.Fatalf("addressing fields wrong: %+v", got)
	}
	if !strings.Contains(got.Title, "Gospel Concert") {
		t.Fatalf("title missing category: %q", got.Title)
	}
	if !strings.Contains(got.Title, "12.3 km") {
		t.Fatalf("title missing distance: %q", got.Title)
	}
	if !strings.Contains(got.Body, got.Title) {
		t.Fatalf("body %q does not include title %q", got.Body, got.Title)
	}
	if !strings.Contains(got.Body, "5 Sep") {
		t.Fatalf("body missing event date: %q", got.Body)
	}
	if got.DeepLink != "event/evt-42" {
		t.Fatalf("DeepLink = %q, want event/evt-42", got.DeepLink)
	}
	if got.Data["deep_link"] != "event/evt-42" || got.Data["event_id"] != "evt-42" {
		t.Fatalf("data payload wrong: %v", got.Data)
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		km   float64
		want string
	}{
		{km: 0.04, want: "40 m"},
		{km: 0.999, want: "999 m"},
		{km: 1.0, want: "1.0 km"},
		{km: 19.95, want: "19.9 km"},
	}
	for _, tt := range tests {
		if got := formatDistance(tt.km); got != tt.want {
			t.Fatalf("formatDistance(%v) = %q, want %q", tt.km, got, tt.want)
		}
	}
}
