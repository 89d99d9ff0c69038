package notify

import "fmt"

// Compose builds the notification payload for one eligible candidate.
// Pure: no I/O, deterministic for identical inputs.
func Compose(event Event, c Candidate) Composed {
	distance := formatDistance(c.DistanceKm)
	title := fmt.Sprintf("%s %s away", event.Category, distance)
	body := fmt.Sprintf("%s on %s — tap to see details.",
		title, event.ScheduledAt.UTC().Format("Mon, 2 Jan 15:04"))
	deepLink := "event/" + event.ID

	return Composed{
		EventID:  event.ID,
		UserID:   c.Recipient.ID,
		Address:  c.Recipient.PushAddress,
		Title:    title,
		Body:     body,
		DeepLink: deepLink,
		Data: map[string]string{
			"deep_link":   deepLink,
			"event_id":    event.ID,
			"category":    event.Category,
			"distance_km": fmt.Sprintf("%.1f", c.DistanceKm),
		},
	}
}

// formatDistance renders sub-kilometer distances in meters.
func formatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%.0f m", km*1000)
	}
	return fmt.Sprintf("%.1f km", km)
}
