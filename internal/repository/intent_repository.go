package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// Ошибки репозитория платёжных намерений.
var (
	ErrIntentNotFound = errors.New("payment intent not found")
	ErrIntentExists   = errors.New("payment intent already exists for reference")
)

// IntentRepository хранит платёжные намерения. Reference уникален:
// подтверждение одного и того же платежа всегда находит одну запись.
type IntentRepository struct {
	db *sqlx.DB
}

// NewIntentRepository создаёт новый экземпляр.
func NewIntentRepository(db *sqlx.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Create сохраняет намерение.
func (r *IntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (reference, gig_id, buyer_id, amount, currency, metadata, status, redirect_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		intent.Reference, intent.GigID, intent.BuyerID, intent.Amount,
		intent.Currency, intent.Metadata, intent.Status, intent.RedirectURL,
	)
	if err := row.Scan(&intent.ID, &intent.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return ErrIntentExists
		}
		return fmt.Errorf("intent repository: create %w", err)
	}
	return nil
}

// GetByReference возвращает намерение по платёжной ссылке.
func (r *IntentRepository) GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	query := `
		SELECT id, reference, gig_id, buyer_id, amount, currency, metadata, status, redirect_url, created_at, confirmed_at
		FROM payment_intents WHERE reference = $1
	`
	if err := r.db.GetContext(ctx, &intent, query, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("intent repository: get by reference %w", err)
	}
	return &intent, nil
}

// MarkConfirmed переводит намерение в confirmed ровно один раз.
func (r *IntentRepository) MarkConfirmed(ctx context.Context, reference string) error {
	query := `
		UPDATE payment_intents
		SET status = $2, confirmed_at = NOW()
		WHERE reference = $1 AND status = $3
	`
	if _, err := r.db.ExecContext(ctx, query, reference,
		models.IntentStatusConfirmed, models.IntentStatusCreated); err != nil {
		return fmt.Errorf("intent repository: mark confirmed %w", err)
	}
	return nil
}

// MarkFailed помечает намерение как отклонённое шлюзом.
func (r *IntentRepository) MarkFailed(ctx context.Context, reference string) error {
	query := `
		UPDATE payment_intents
		SET status = $2
		WHERE reference = $1 AND status = $3
	`
	if _, err := r.db.ExecContext(ctx, query, reference,
		models.IntentStatusFailed, models.IntentStatusCreated); err != nil {
		return fmt.Errorf("intent repository: mark failed %w", err)
	}
	return nil
}
