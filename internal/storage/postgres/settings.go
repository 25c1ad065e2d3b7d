package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/settings"
)

const (
	getSettingsSQL = `SELECT data FROM settings WHERE id = 1`

	saveSettingsSQL = `INSERT INTO settings (id, data, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository stores the settings document as a single JSONB row.
type SettingsRepository struct {
	db dbtx
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: pool}
}

// Get returns the saved settings, or settings.Default when none were saved.
func (r *SettingsRepository) Get(ctx context.Context) (settings.Settings, error) {
	var raw []byte
	if err := r.db.QueryRow(ctx, getSettingsSQL).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings.Default(), nil
		}
		return settings.Settings{}, fmt.Errorf("loading settings: %w", err)
	}

	var s settings.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return settings.Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return s.WithDefaults(), nil
}

func (r *SettingsRepository) Save(ctx context.Context, s settings.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if _, err := r.db.Exec(ctx, saveSettingsSQL, raw); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
