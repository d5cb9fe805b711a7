package notification

import "errors"

// Sentinel errors returned by the notification service and its senders.
// Callers should use errors.Is for comparison.
var (
	// ErrSendFailed is returned when a notification could not be delivered
	// by email. It wraps the underlying cause and is non-fatal — the
	// in-app notification is still persisted even if email delivery fails.
	ErrSendFailed = errors.New("notification: send failed")

	// ErrConfigNotFound is returned when no SMTP configuration exists in
	// the settings table yet.
	ErrConfigNotFound = errors.New("notification: configuration not found")

	// ErrInvalidConfig is returned when SMTP settings exist but contain
	// invalid or incomplete values (e.g. host present but port missing).
	ErrInvalidConfig = errors.New("notification: invalid configuration")
)
