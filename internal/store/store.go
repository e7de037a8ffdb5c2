// Package store holds the device's pending scheduled items.
//
// The list is capped, mirrored in full to a single kv slot after every
// mutation, and swept of items that are more than the grace window overdue.
// Persistence is best effort: write failures are logged and the in-memory
// list stays authoritative for the rest of the process lifetime.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/gotta-go/internal/kv"
	"github.com/LeventeLantos/gotta-go/internal/model"
)

const (
	DefaultKey          = "scheduled_items"
	DefaultCapacity     = 3
	DefaultGrace        = 5 * time.Minute
	DefaultWriteTimeout = 5 * time.Second
)

var (
	ErrCapacityExceeded = errors.New("scheduled item capacity exceeded")
	ErrInvalidStatus    = errors.New("invalid scheduled item status")
)

// CapacityError is returned by Add once the cap is reached. It matches
// ErrCapacityExceeded under errors.Is.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Maximum of %d scheduled items allowed at a time", e.Max)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

type Store struct {
	slot         kv.Store
	key          string
	capacity     int
	grace        time.Duration
	writeTimeout time.Duration
	now          func() time.Time

	ready atomic.Bool

	mu     sync.Mutex
	items  []model.ScheduledItem
	lastID int64
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

func WithGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) { s.writeTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(slot kv.Store, opts ...Option) *Store {
	s := &Store{
		slot:         slot,
		key:          DefaultKey,
		capacity:     DefaultCapacity,
		grace:        DefaultGrace,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Capacity() int {
	return s.capacity
}

// Ready reports whether Load has completed.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

// Load replaces the in-memory list with the persisted one. A missing or
// corrupt slot leaves the store empty. The store is ready afterwards in
// every case, and overdue items are swept immediately.
func (s *Store) Load(ctx context.Context) {
	defer s.ready.Store(true)

	raw, err := s.slot.Get(ctx, s.key)
	var items []model.ScheduledItem
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		slog.Error("loading scheduled items failed", "key", s.key, "err", err)
	default:
		items, err = decodeItems(raw)
		if err != nil {
			slog.Error("persisted scheduled items unreadable, starting empty", "key", s.key, "err", err)
			items = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = items
	for _, it := range items {
		if n, err := strconv.ParseInt(it.ID, 10, 64); err == nil && n > s.lastID {
			s.lastID = n
		}
	}
	slog.Info("scheduled items loaded", "count", len(items))

	if removed := s.sweepLocked(); removed > 0 {
		s.persistLocked(ctx)
	}
}

// Add appends a pending item and returns its id. It fails with a
// CapacityError, leaving the list untouched, once the cap is reached.
func (s *Store) Add(ctx context.Context, in model.NewItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= s.capacity {
		return "", &CapacityError{Max: s.capacity}
	}

	item := model.ScheduledItem{
		ID:             s.nextIDLocked(),
		Kind:           in.Kind,
		PhoneNumber:    in.PhoneNumber,
		ScheduledTime:  in.ScheduledTime.UTC().Truncate(time.Millisecond),
		Message:        in.Message,
		RecordingID:    in.RecordingID,
		RecordingTitle: in.RecordingTitle,
		RetryCount:     cloneInt(in.RetryCount),
		MaxRetries:     cloneInt(in.MaxRetries),
		Status:         model.Pending,
	}
	s.items = append(s.items, item)
	s.persistLocked(ctx)

	slog.Info("scheduled item added", "id", item.ID, "type", item.Kind, "scheduled_time", item.ScheduledTime)
	return item.ID, nil
}

func (s *Store) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return
	}
	s.items = slices.Delete(s.items, i, i+1)
	s.persistLocked(ctx)
}

// Update merge-patches status and retry count of the item with id.
// Unknown ids are ignored.
func (s *Store) Update(ctx context.Context, id string, p model.Patch) error {
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	if p.Status != nil {
		s.items[i].Status = *p.Status
	}
	if p.RetryCount != nil {
		s.items[i].RetryCount = cloneInt(p.RetryCount)
	}
	s.persistLocked(ctx)
	return nil
}

func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.persistLocked(ctx)
}

// List returns a snapshot of the items in insertion order.
func (s *Store) List() []model.ScheduledItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ScheduledItem, len(s.items))
	for i, it := range s.items {
		out[i] = cloneItem(it)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep removes items more than the grace window past their scheduled time
// and returns how many were removed. An item exactly at the window is kept.
func (s *Store) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.sweepLocked()
	if removed > 0 {
		s.persistLocked(ctx)
		slog.Info("auto-removed expired scheduled items", "count", removed)
	}
	return removed
}

func (s *Store) sweepLocked() int {
	now := s.now()
	before := len(s.items)
	s.items = slices.DeleteFunc(s.items, func(it model.ScheduledItem) bool {
		return now.Sub(it.ScheduledTime) > s.grace
	})
	return before - len(s.items)
}

// persistLocked writes the full list. Writes happen under s.mu, so the slot
// always ends up holding the newest list.
func (s *Store) persistLocked(ctx context.Context) {
	b, err := encodeItems(s.items)
	if err != nil {
		slog.Error("encoding scheduled items failed", "err", err)
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.slot.Set(wctx, s.key, b); err != nil {
		slog.Error("saving scheduled items failed", "key", s.key, "err", err)
	}
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(it model.ScheduledItem) bool { return it.ID == id })
}

func (s *Store) nextIDLocked() string {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

// Sorted returns items ordered by scheduled time, earliest first.
func Sorted(items []model.ScheduledItem) []model.ScheduledItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b model.ScheduledItem) int {
		return a.ScheduledTime.Compare(b.ScheduledTime)
	})
	return out
}

func cloneItem(it model.ScheduledItem) model.ScheduledItem {
	it.RetryCount = cloneInt(it.RetryCount)
	it.MaxRetries = cloneInt(it.MaxRetries)
	return it
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
