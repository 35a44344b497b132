package models

type DispatchOutcome string

const (
	DispatchSent   DispatchOutcome = "sent"
	DispatchFailed DispatchOutcome = "failed"
)

// NotificationRequest is built once per high severity event. Outcome and Err
// are filled in by the dispatching worker before the request is reported.
type NotificationRequest struct {
	Event     AlertEvent
	Recipient string
	Subject   string
	Body      string
	Outcome   DispatchOutcome
	Err       error
}
