package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeventeLantos/gotta-go/internal/dispatch"
	"github.com/LeventeLantos/gotta-go/internal/model"
	"github.com/LeventeLantos/gotta-go/internal/store"
)

const minPhoneLen = 10

var (
	ErrLoginRequired    = errors.New("please log in to schedule calls and texts")
	ErrInvalidPhone     = errors.New("please enter a valid phone number")
	ErrUnknownRecording = errors.New("please select a recording")
	ErrEmptyMessage     = errors.New("please enter a message")
	ErrMessageTooLong   = errors.New("message is too long")
	ErrInvalidKind      = errors.New("type must be call or text")
	ErrNotInFuture      = dispatch.ErrNotInFuture
	ErrDispatchFailed   = errors.New("dispatch failed")
	ErrForbidden        = errors.New("forbidden")
)

// MaintenanceError blocks scheduling while the maintenance flag is on.
type MaintenanceError struct {
	Message string
}

func (e *MaintenanceError) Error() string {
	return e.Message
}

type Caller struct {
	UID   string
	Guest bool
	Admin bool
}

type Request struct {
	Kind        model.Kind `json:"type"`
	PhoneNumber string     `json:"phoneNumber"`
	When        time.Time  `json:"scheduledTime"`
	Message     string     `json:"message,omitempty"`
	RecordingID int        `json:"recordingId,omitempty"`

	RetriesEnabled bool `json:"retriesEnabled,omitempty"`
	MaxRetries     int  `json:"maxRetries,omitempty"`
	RandomTiming   bool `json:"randomTiming,omitempty"`
}

type ItemStore interface {
	Add(ctx context.Context, in model.NewItem) (string, error)
}

type CallDispatcher interface {
	ScheduleCall(ctx context.Context, to string, when time.Time, audioURL string) error
}

type TextDispatcher interface {
	ScheduleText(ctx context.Context, to string, when time.Time, body string) (messageID string, err error)
}

type MaintenanceChecker interface {
	Current(ctx context.Context) model.Maintenance
}

// Scheduler validates a request, records it in the item store and hands it
// to the matching dispatch client.
type Scheduler struct {
	items       ItemStore
	calls       CallDispatcher
	texts       TextDispatcher
	maintenance MaintenanceChecker
	contentMax  int

	now    func() time.Time
	jitter func() time.Duration

	requests *prometheus.CounterVec
}

func NewScheduler(items ItemStore, calls CallDispatcher, texts TextDispatcher, maintenance MaintenanceChecker, contentMax int) *Scheduler {
	return &Scheduler{
		items:       items,
		calls:       calls,
		texts:       texts,
		maintenance: maintenance,
		contentMax:  contentMax,
		now:         time.Now,
		jitter:      randomJitter,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gottago_schedule_requests_total",
			Help: "Schedule requests by item type and outcome.",
		}, []string{"kind", "result"}),
	}
}

// Requests is the request counter, for registration with a registry.
func (s *Scheduler) Requests() *prometheus.CounterVec {
	return s.requests
}

func (s *Scheduler) Schedule(ctx context.Context, caller Caller, req Request) (model.ScheduledItem, error) {
	item, err := s.schedule(ctx, caller, req)
	s.requests.WithLabelValues(kindLabel(req.Kind), resultLabel(err)).Inc()
	return item, err
}

func (s *Scheduler) schedule(ctx context.Context, caller Caller, req Request) (model.ScheduledItem, error) {
	if caller.Guest || caller.UID == "" {
		return model.ScheduledItem{}, ErrLoginRequired
	}
	if s.maintenance != nil {
		if m := s.maintenance.Current(ctx); m.Enabled {
			return model.ScheduledItem{}, &MaintenanceError{Message: m.Message}
		}
	}

	in, err := s.validate(req)
	if err != nil {
		return model.ScheduledItem{}, err
	}

	id, err := s.items.Add(ctx, in)
	if err != nil {
		return model.ScheduledItem{}, err
	}

	item := model.ScheduledItem{
		ID:             id,
		Kind:           in.Kind,
		PhoneNumber:    in.PhoneNumber,
		ScheduledTime:  in.ScheduledTime,
		Message:        in.Message,
		RecordingID:    in.RecordingID,
		RecordingTitle: in.RecordingTitle,
		RetryCount:     in.RetryCount,
		MaxRetries:     in.MaxRetries,
		Status:         model.Pending,
	}

	if err := s.dispatch(ctx, item); err != nil {
		slog.Error("dispatch failed", "id", id, "type", item.Kind, "err", err)
		return item, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	slog.Info("scheduled", "id", id, "type", item.Kind, "scheduled_time", item.ScheduledTime)
	return item, nil
}

func (s *Scheduler) validate(req Request) (model.NewItem, error) {
	phone := strings.TrimSpace(req.PhoneNumber)
	if len(phone) < minPhoneLen {
		return model.NewItem{}, ErrInvalidPhone
	}

	in := model.NewItem{
		Kind:          req.Kind,
		PhoneNumber:   phone,
		ScheduledTime: req.When.UTC().Truncate(time.Millisecond),
	}

	switch req.Kind {
	case model.Call:
		rec, ok := model.FindRecording(req.RecordingID)
		if !ok {
			return model.NewItem{}, ErrUnknownRecording
		}
		in.RecordingID = rec.ID
		in.RecordingTitle = rec.Title

		maxRetries := 1
		if req.RetriesEnabled && req.MaxRetries > 0 {
			maxRetries = req.MaxRetries
		}
		retryCount := 0
		in.MaxRetries = &maxRetries
		in.RetryCount = &retryCount
	case model.Text:
		body := strings.TrimSpace(req.Message)
		if body == "" {
			return model.NewItem{}, ErrEmptyMessage
		}
		if utf8.RuneCountInString(body) > s.contentMax {
			return model.NewItem{}, fmt.Errorf("%w: max %d characters", ErrMessageTooLong, s.contentMax)
		}
		in.Message = body
	default:
		return model.NewItem{}, ErrInvalidKind
	}

	if !in.ScheduledTime.After(s.now()) {
		return model.NewItem{}, ErrNotInFuture
	}
	if req.Kind == model.Call && req.RetriesEnabled && req.RandomTiming {
		in.ScheduledTime = in.ScheduledTime.Add(s.jitter())
	}
	return in, nil
}

func (s *Scheduler) dispatch(ctx context.Context, item model.ScheduledItem) error {
	switch item.Kind {
	case model.Call:
		rec, _ := model.FindRecording(item.RecordingID)
		return s.calls.ScheduleCall(ctx, item.PhoneNumber, item.ScheduledTime, rec.URL)
	default:
		messageID, err := s.texts.ScheduleText(ctx, item.PhoneNumber, item.ScheduledTime, item.Message)
		if err != nil {
			return err
		}
		slog.Info("text accepted by provider", "id", item.ID, "message_id", messageID)
		return nil
	}
}

// randomJitter returns one to three whole minutes.
func randomJitter() time.Duration {
	return time.Duration(1+rand.IntN(3)) * time.Minute
}

func kindLabel(k model.Kind) string {
	if k.Valid() {
		return string(k)
	}
	return "unknown"
}

func resultLabel(err error) string {
	var maint *MaintenanceError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &maint):
		return "maintenance"
	case errors.Is(err, ErrLoginRequired):
		return "login_required"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch_failed"
	case errors.Is(err, store.ErrCapacityExceeded):
		return "capacity"
	default:
		return "rejected"
	}
}
