package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrGigNotFound — услуга отсутствует или снята с публикации.
var ErrGigNotFound = errors.New("gig not found")

// GigRepository читает снимки услуг для ценообразования. Движок escrow
// услугами не управляет, поэтому репозиторий только читающий.
type GigRepository struct {
	db *sqlx.DB
}

// NewGigRepository создаёт новый экземпляр.
func NewGigRepository(db *sqlx.DB) *GigRepository {
	return &GigRepository{db: db}
}

// GetByID возвращает услугу вместе с тарифами и авторскими этапами.
func (r *GigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Gig, error) {
	var gig models.Gig
	query := `
		SELECT id, seller_id, title, base_price, currency, delivery_days, is_active, created_at
		FROM gigs WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &gig, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGigNotFound
		}
		return nil, fmt.Errorf("gig repository: get %w", err)
	}

	if err := r.db.SelectContext(ctx, &gig.Packages, `
		SELECT id, gig_id, name, price, delivery_days
		FROM gig_packages WHERE gig_id = $1 ORDER BY price
	`, id); err != nil {
		return nil, fmt.Errorf("gig repository: load packages %w", err)
	}

	if err := r.db.SelectContext(ctx, &gig.Milestones, `
		SELECT id, gig_id, position, title, description, amount, delivery_days
		FROM gig_milestones WHERE gig_id = $1 ORDER BY position
	`, id); err != nil {
		return nil, fmt.Errorf("gig repository: load milestones %w", err)
	}

	return &gig, nil
}
