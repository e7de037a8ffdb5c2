package model

import "time"

type Kind string

const (
	Call Kind = "call"
	Text Kind = "text"
)

func (k Kind) Valid() bool {
	return k == Call || k == Text
}

type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Sent, Failed:
		return true
	}
	return false
}

// ScheduledItem is a pending request to arrange a future fake call or text.
// Message is set for texts; RecordingID and RecordingTitle for calls.
// RetryCount and MaxRetries are carried for display only.
type ScheduledItem struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"type"`
	PhoneNumber    string    `json:"phoneNumber"`
	ScheduledTime  time.Time `json:"scheduledTime"`
	Message        string    `json:"message,omitempty"`
	RecordingID    int       `json:"recordingId,omitempty"`
	RecordingTitle string    `json:"recordingTitle,omitempty"`
	RetryCount     *int      `json:"retryCount,omitempty"`
	MaxRetries     *int      `json:"maxRetries,omitempty"`
	Status         Status    `json:"status"`
}

// NewItem holds everything the caller supplies when adding an item.
type NewItem struct {
	Kind           Kind
	PhoneNumber    string
	ScheduledTime  time.Time
	Message        string
	RecordingID    int
	RecordingTitle string
	RetryCount     *int
	MaxRetries     *int
}

// Patch lists the only fields that may change after creation.
type Patch struct {
	Status     *Status `json:"status,omitempty"`
	RetryCount *int    `json:"retryCount,omitempty"`
}
