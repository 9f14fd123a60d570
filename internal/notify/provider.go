package notify

import "time"

// Summary describes a finished transfer for notification.
type Summary struct {
	Handle      string
	Direction   string
	Table       string
	File        string
	StartedAt   time.Time
	Duration    time.Duration
	Rows        int64
	Batches     int
	ParseErrors int
}

// Provider defines the notification contract for transfer events.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// TransferStarted sends notification when a transfer starts.
	TransferStarted(handle, direction, table, file string) error

	// TransferCompleted sends notification when a transfer reaches DONE.
	TransferCompleted(s Summary) error

	// TransferFailed sends notification when a transfer fails.
	TransferFailed(s Summary, err error) error

	// TransferCancelled sends notification when a transfer is cancelled.
	TransferCancelled(s Summary) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
