package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

// BuildRequest renders the notification for ev. The same event always
// renders the same subject and body.
func BuildRequest(ev models.AlertEvent, recipient string) models.NotificationRequest {
	subject := fmt.Sprintf("[%s] %s alert: %s",
		strings.ToUpper(string(ev.Severity)), ev.DisasterType, ev.LocationText)

	var b strings.Builder
	fmt.Fprintf(&b, "Disaster type: %s\n", ev.DisasterType)
	fmt.Fprintf(&b, "Severity: %s\n", ev.Severity)
	fmt.Fprintf(&b, "Location: %s\n", ev.LocationText)
	fmt.Fprintf(&b, "Occurred at: %s\n", ev.OccurredAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Report: %s\n", ev.SourceID)

	return models.NotificationRequest{
		Event:     ev,
		Recipient: recipient,
		Subject:   subject,
		Body:      b.String(),
	}
}
