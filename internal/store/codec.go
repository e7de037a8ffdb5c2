package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/gotta-go/internal/model"
)

// timeLayout matches the ISO-8601 form JavaScript's Date.toISOString emits.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type record struct {
	ID             string       `json:"id"`
	Kind           model.Kind   `json:"type"`
	PhoneNumber    string       `json:"phoneNumber"`
	ScheduledTime  string       `json:"scheduledTime"`
	Message        string       `json:"message,omitempty"`
	RecordingID    int          `json:"recordingId,omitempty"`
	RecordingTitle string       `json:"recordingTitle,omitempty"`
	RetryCount     *int         `json:"retryCount,omitempty"`
	MaxRetries     *int         `json:"maxRetries,omitempty"`
	Status         model.Status `json:"status"`
}

func encodeItems(items []model.ScheduledItem) ([]byte, error) {
	recs := make([]record, 0, len(items))
	for _, it := range items {
		recs = append(recs, record{
			ID:             it.ID,
			Kind:           it.Kind,
			PhoneNumber:    it.PhoneNumber,
			ScheduledTime:  it.ScheduledTime.UTC().Format(timeLayout),
			Message:        it.Message,
			RecordingID:    it.RecordingID,
			RecordingTitle: it.RecordingTitle,
			RetryCount:     it.RetryCount,
			MaxRetries:     it.MaxRetries,
			Status:         it.Status,
		})
	}
	return json.Marshal(recs)
}

// decodeItems parses a persisted list. Elements that cannot be decoded or
// carry an unparseable scheduledTime are dropped; the rest are kept.
func decodeItems(b []byte) ([]model.ScheduledItem, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, fmt.Errorf("decode scheduled items: %w", err)
	}

	items := make([]model.ScheduledItem, 0, len(raws))
	for i, raw := range raws {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("dropping undecodable scheduled item", "index", i, "err", err)
			continue
		}
		if rec.ID == "" {
			slog.Warn("dropping scheduled item without id", "index", i)
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, rec.ScheduledTime)
		if err != nil {
			slog.Warn("dropping scheduled item with invalid time", "id", rec.ID, "err", err)
			continue
		}
		status := rec.Status
		if status == "" {
			status = model.Pending
		}
		items = append(items, model.ScheduledItem{
			ID:             rec.ID,
			Kind:           rec.Kind,
			PhoneNumber:    rec.PhoneNumber,
			ScheduledTime:  t.UTC(),
			Message:        rec.Message,
			RecordingID:    rec.RecordingID,
			RecordingTitle: rec.RecordingTitle,
			RetryCount:     rec.RetryCount,
			MaxRetries:     rec.MaxRetries,
			Status:         status,
		})
	}
	return items, nil
}
