package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrSettingsNotFound — строка настроек ещё не создана.
var ErrSettingsNotFound = errors.New("platform settings not found")

// SettingsRepository читает единственную строку платформенных политик.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository создаёт новый экземпляр.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает текущие политики.
func (r *SettingsRepository) Get(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	query := `
		SELECT auto_release_days_standard, auto_release_days_extended, extended_tier_price,
		       review_window_days, milestone_hold_days, enhanced_protection_price
		FROM platform_settings LIMIT 1
	`
	if err := r.db.GetContext(ctx, &s, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("settings repository: get %w", err)
	}
	return &s, nil
}
