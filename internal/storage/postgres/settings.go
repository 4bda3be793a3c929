package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cake-heaven/internal/domain/settings"
)

const (
	loadSettingsSQL = `SELECT document FROM settings WHERE id = 1`
	saveSettingsSQL = `INSERT INTO settings (id, document, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository stores the settings singleton as one JSONB row.
type SettingsRepository struct {
	conn
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{conn{pool: pool}}
}

// Load returns the stored document, or found=false before the first save.
func (r *SettingsRepository) Load(ctx context.Context) (*settings.Settings, bool, error) {
	var doc settings.Settings
	if err := r.q(ctx).QueryRow(ctx, loadSettingsSQL).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading settings: %w", err)
	}
	return &doc, true, nil
}

// Save replaces the stored document.
func (r *SettingsRepository) Save(ctx context.Context, doc *settings.Settings) error {
	if _, err := r.q(ctx).Exec(ctx, saveSettingsSQL, doc); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
