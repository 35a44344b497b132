// Package notify implements the severity-gated notification side channel.
//
// Engine.Evaluate is called once per alert event. High severity events are
// turned into a single NotificationRequest and handed to a worker pool; the
// worker calls the configured Sink and records the outcome. Failures are
// logged and counted, never retried, and never reach the caller.
package notify
