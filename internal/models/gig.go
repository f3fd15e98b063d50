package models

import (
	"time"

	"github.com/google/uuid"
)

// Gig — снимок услуги продавца. Для движка escrow это источник цены,
// пакетов и авторских этапов; управление самими услугами — внешняя подсистема.
type Gig struct {
	ID           uuid.UUID `db:"id" json:"id"`
	SellerID     uuid.UUID `db:"seller_id" json:"seller_id"`
	Title        string    `db:"title" json:"title"`
	BasePrice    float64   `db:"base_price" json:"base_price"`
	Currency     string    `db:"currency" json:"currency"`
	DeliveryDays int       `db:"delivery_days" json:"delivery_days"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	Packages   []GigPackage   `json:"packages,omitempty"`
	Milestones []GigMilestone `json:"milestones,omitempty"`
}

// GigPackage — тариф услуги (basic/standard/premium и т.п.).
type GigPackage struct {
	ID           uuid.UUID `db:"id" json:"id"`
	GigID        uuid.UUID `db:"gig_id" json:"gig_id"`
	Name         string    `db:"name" json:"name"`
	Price        float64   `db:"price" json:"price"`
	DeliveryDays int       `db:"delivery_days" json:"delivery_days"`
}

// GigMilestone — этап, заданный продавцом в услуге. При оплате такие этапы
// разворачиваются в этапы заказа автоматически, без настройки покупателем.
type GigMilestone struct {
	ID           uuid.UUID `db:"id" json:"id"`
	GigID        uuid.UUID `db:"gig_id" json:"gig_id"`
	Position     int       `db:"position" json:"position"`
	Title        string    `db:"title" json:"title"`
	Description  *string   `db:"description" json:"description,omitempty"`
	Amount       float64   `db:"amount" json:"amount"`
	DeliveryDays int       `db:"delivery_days" json:"delivery_days"`
}

// HasSellerMilestones сообщает, заданы ли у услуги авторские этапы.
func (g *Gig) HasSellerMilestones() bool {
	return len(g.Milestones) > 0
}

// PackageByID ищет тариф услуги.
func (g *Gig) PackageByID(id uuid.UUID) *GigPackage {
	for i := range g.Packages {
		if g.Packages[i].ID == id {
			return &g.Packages[i]
		}
	}
	return nil
}

// MilestonesTotal считает сумму авторских этапов.
func (g *Gig) MilestonesTotal() float64 {
	var total float64
	for i := range g.Milestones {
		total += g.Milestones[i].Amount
	}
	return total
}
