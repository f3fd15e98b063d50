package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStats — агрегированная статистика участника: trust-рейтинг и счётчики
// завершённых заказов. Обновляется диспетчером событий, не переходами.
type UserStats struct {
	UserID           uuid.UUID `db:"user_id" json:"user_id"`
	TrustScore       float64   `db:"trust_score" json:"trust_score"`
	CompletedOrders  int       `db:"completed_orders" json:"completed_orders"`
	PartialFaults    int       `db:"partial_faults" json:"partial_faults"`
	DisputesResolved int       `db:"disputes_resolved" json:"disputes_resolved"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
