package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentIntent — платёжное намерение, созданное во внешнем шлюзе.
// Reference уникален и служит ключом идемпотентности подтверждения.
type PaymentIntent struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Reference   string          `db:"reference" json:"reference"`
	GigID       uuid.UUID       `db:"gig_id" json:"gig_id"`
	BuyerID     uuid.UUID       `db:"buyer_id" json:"buyer_id"`
	Amount      float64         `db:"amount" json:"amount"`
	Currency    string          `db:"currency" json:"currency"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Status      string          `db:"status" json:"status"`
	RedirectURL *string         `db:"redirect_url" json:"redirect_url,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ConfirmedAt *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
}

// IntentMetadata — содержимое Metadata: выбор пакета либо план этапов,
// взаимоисключающие входы ценообразования.
type IntentMetadata struct {
	PackageID  *uuid.UUID           `json:"package_id,omitempty"`
	Milestones []MilestonePlanItem  `json:"milestones,omitempty"`
}

// MilestonePlanItem — этап из плана покупателя на момент оплаты.
type MilestonePlanItem struct {
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Amount      float64   `json:"amount"`
	DueDate     time.Time `json:"due_date"`
}
