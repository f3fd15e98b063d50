package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// StatsRepository копит статистику участников. Пишется диспетчером событий
// вне транзакций переходов, поэтому все операции — одиночные upsert'ы.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository создаёт новый экземпляр.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// ApplyTrustDelta сдвигает trust-рейтинг пользователя.
func (r *StatsRepository) ApplyTrustDelta(ctx context.Context, userID uuid.UUID, delta float64) error {
	query := `
		INSERT INTO user_stats (user_id, trust_score)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET trust_score = user_stats.trust_score + $2, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, userID, delta); err != nil {
		return fmt.Errorf("stats repository: apply trust delta %w", err)
	}
	return nil
}

// IncrementCompleted увеличивает счётчик завершённых заказов продавца.
func (r *StatsRepository) IncrementCompleted(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO user_stats (user_id, completed_orders)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET completed_orders = user_stats.completed_orders + 1, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("stats repository: increment completed %w", err)
	}
	return nil
}

// IncrementPartialFault отмечает частичную вину стороны в споре.
func (r *StatsRepository) IncrementPartialFault(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO user_stats (user_id, partial_faults)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET partial_faults = user_stats.partial_faults + 1, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("stats repository: increment partial fault %w", err)
	}
	return nil
}

// IncrementDisputeResolved учитывает закрытый спор с участием пользователя.
func (r *StatsRepository) IncrementDisputeResolved(ctx context.Context, userID uuid.UUID) error {
	query := `
		INSERT INTO user_stats (user_id, disputes_resolved)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET disputes_resolved = user_stats.disputes_resolved + 1, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("stats repository: increment dispute resolved %w", err)
	}
	return nil
}
