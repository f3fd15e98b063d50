package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateIntentRequest — запрос на создание платёжного намерения.
type CreateIntentRequest struct {
	GigID      uuid.UUID            `json:"gig_id" binding:"required"`
	PackageID  *uuid.UUID           `json:"package_id,omitempty"`
	Milestones []MilestonePlanEntry `json:"milestones,omitempty"`
}

// MilestonePlanEntry — этап из плана покупателя.
type MilestonePlanEntry struct {
	Title       string    `json:"title" binding:"required"`
	Description *string   `json:"description,omitempty"`
	Amount      float64   `json:"amount" binding:"required"`
	DueDate     time.Time `json:"due_date" binding:"required"`
}

// ConfirmPaymentRequest — подтверждение оплаты по reference.
type ConfirmPaymentRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// SubmitWorkRequest — сдача работы или этапа.
type SubmitWorkRequest struct {
	Deliverables []DeliverableEntry `json:"deliverables" binding:"required"`
}

// DeliverableEntry — один файл сдачи: ключи уже загруженных артефактов.
type DeliverableEntry struct {
	FileName    string  `json:"file_name" binding:"required"`
	FileSize    int64   `json:"file_size"`
	PreviewKey  string  `json:"preview_key" binding:"required"`
	FinalKey    string  `json:"final_key" binding:"required"`
	Description *string `json:"description,omitempty"`
}

// RevisionRequest — запрос доработки.
type RevisionRequest struct {
	Reason  string  `json:"reason" binding:"required"`
	Details *string `json:"details,omitempty"`
}

// CreateMilestonesRequest — разовое разбиение заказа на этапы.
type CreateMilestonesRequest struct {
	Milestones []MilestonePlanEntry `json:"milestones" binding:"required"`
}

// ApproveMilestoneRequest — приёмка этапа с необязательным отзывом.
type ApproveMilestoneRequest struct {
	Feedback *string `json:"feedback,omitempty"`
}

// OpenDisputeRequest — открытие спора стороной сделки.
type OpenDisputeRequest struct {
	Reason  string  `json:"reason" binding:"required"`
	Details *string `json:"details,omitempty"`
}

// DisputeEvidenceRequest — материал по спору.
type DisputeEvidenceRequest struct {
	Note    string  `json:"note"`
	FileKey *string `json:"file_key,omitempty"`
}

// ResolveDisputeRequest — решение оператора.
type ResolveDisputeRequest struct {
	Outcome      string   `json:"outcome" binding:"required"`
	RefundAmount *float64 `json:"refund_amount,omitempty"`
	Note         *string  `json:"note,omitempty"`
}
