package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/gotta-go/internal/kv"
	"github.com/LeventeLantos/gotta-go/internal/model"
	"github.com/LeventeLantos/gotta-go/internal/repo"
)

const maintenanceCacheKey = "settings:maintenance"

var ErrMaintenanceUnavailable = errors.New("maintenance settings are not configured")

// MaintenanceService reads and writes the global maintenance flag. Reads go
// through the kv cache, whose entries expire after ttl; a nil settings
// repository means the flag is always off.
type MaintenanceService struct {
	settings repo.SettingsRepository
	cache    kv.TTLStore
	ttl      time.Duration
}

func NewMaintenanceService(settings repo.SettingsRepository, cache kv.TTLStore, ttl time.Duration) *MaintenanceService {
	return &MaintenanceService{settings: settings, cache: cache, ttl: ttl}
}

// Current never fails. Any read error is logged and reported as disabled.
func (m *MaintenanceService) Current(ctx context.Context) model.Maintenance {
	if m.settings == nil {
		return model.Maintenance{}
	}

	if v, ok := m.cached(ctx); ok {
		return v
	}

	v, err := m.settings.GetMaintenance(ctx)
	if err != nil {
		slog.Error("reading maintenance flag failed, assuming disabled", "err", err)
		return model.Maintenance{}
	}
	v = withDefaultMessage(v)
	m.store(ctx, v)
	return v
}

func (m *MaintenanceService) Set(ctx context.Context, caller Caller, enabled bool, message string) (model.Maintenance, error) {
	if !caller.Admin {
		return model.Maintenance{}, ErrForbidden
	}
	if m.settings == nil {
		return model.Maintenance{}, ErrMaintenanceUnavailable
	}

	v := withDefaultMessage(model.Maintenance{Enabled: enabled, Message: strings.TrimSpace(message)})
	if err := m.settings.SaveMaintenance(ctx, v); err != nil {
		return model.Maintenance{}, err
	}
	m.store(ctx, v)

	slog.Info("maintenance flag updated", "enabled", v.Enabled, "by", caller.UID)
	return v, nil
}

func (m *MaintenanceService) cached(ctx context.Context) (model.Maintenance, bool) {
	if m.cache == nil {
		return model.Maintenance{}, false
	}
	b, err := m.cache.Get(ctx, maintenanceCacheKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			slog.Warn("maintenance cache read failed", "err", err)
		}
		return model.Maintenance{}, false
	}
	var v model.Maintenance
	if err := json.Unmarshal(b, &v); err != nil {
		return model.Maintenance{}, false
	}
	return v, true
}

func (m *MaintenanceService) store(ctx context.Context, v model.Maintenance) {
	if m.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := m.cache.SetTTL(ctx, maintenanceCacheKey, b, m.ttl); err != nil {
		slog.Warn("maintenance cache write failed", "err", err)
	}
}

func withDefaultMessage(v model.Maintenance) model.Maintenance {
	if v.Message == "" {
		v.Message = model.DefaultMaintenanceMessage
	}
	return v
}
