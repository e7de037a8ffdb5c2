package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/LeventeLantos/gotta-go/internal/model"
)

const maintenanceSetting = "maintenance"

type PostgresSettingsRepo struct {
	db *sql.DB
}

func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// GetMaintenance returns the stored flag, or a disabled flag when none was
// ever saved.
func (r *PostgresSettingsRepo) GetMaintenance(ctx context.Context) (model.Maintenance, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT value FROM settings WHERE name = $1
	`, maintenanceSetting).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Maintenance{}, nil
	}
	if err != nil {
		return model.Maintenance{}, err
	}

	var m model.Maintenance
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Maintenance{}, err
	}
	return m, nil
}

func (r *PostgresSettingsRepo) SaveMaintenance(ctx context.Context, m model.Maintenance) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settings (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = now()
	`, maintenanceSetting, b)
	return err
}
