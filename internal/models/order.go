package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Допустимое расхождение суммы этапов и цены заказа (копейки/центы).
const MilestoneSumTolerance = 0.01

// Order описывает сделку с защитой средств: деньги покупателя удерживаются
// до приёмки работы. Заказ создаётся только после подтверждения оплаты.
type Order struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Reference string    `db:"reference" json:"reference"`
	GigID     uuid.UUID `db:"gig_id" json:"gig_id"`
	BuyerID   uuid.UUID `db:"buyer_id" json:"buyer_id"`
	SellerID  uuid.UUID `db:"seller_id" json:"seller_id"`
	Title     string    `db:"title" json:"title"`

	Price    float64 `db:"price" json:"price"`
	Currency string  `db:"currency" json:"currency"`

	EscrowStatus string `db:"escrow_status" json:"escrow_status"`
	IsCompleted  bool   `db:"is_completed" json:"is_completed"`
	ReleasedBy   *string `db:"released_by" json:"released_by,omitempty"`

	// Спор. Пока DisputeStatus == none, остальные поля пусты.
	DisputeStatus      string     `db:"dispute_status" json:"dispute_status"`
	DisputeReason      *string    `db:"dispute_reason" json:"dispute_reason,omitempty"`
	DisputeDetails     *string    `db:"dispute_details" json:"dispute_details,omitempty"`
	DisputeInitiatorID *uuid.UUID `db:"dispute_initiator_id" json:"dispute_initiator_id,omitempty"`
	DisputeOpenedAt    *time.Time `db:"dispute_opened_at" json:"dispute_opened_at,omitempty"`
	DisputeResolvedAt  *time.Time `db:"dispute_resolved_at" json:"dispute_resolved_at,omitempty"`
	DisputeOutcome     *string    `db:"dispute_outcome" json:"dispute_outcome,omitempty"`
	RefundAmount       *float64   `db:"refund_amount" json:"refund_amount,omitempty"`

	PaidAt               time.Time  `db:"paid_at" json:"paid_at"`
	WorkSubmittedAt      *time.Time `db:"work_submitted_at" json:"work_submitted_at,omitempty"`
	ExpectedDeliveryDate *time.Time `db:"expected_delivery_date" json:"expected_delivery_date,omitempty"`
	// AutoReleaseAt — дедлайн приёмки покупателем, он же момент автовыплаты.
	// Монотонно неубывающий: операции могут только отодвигать его вперёд.
	AutoReleaseAt *time.Time `db:"auto_release_at" json:"auto_release_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Deliverables     []Deliverable     `json:"deliverables,omitempty"`
	Milestones       []Milestone       `json:"milestones,omitempty"`
	RevisionRequests []RevisionRequest `json:"revision_requests,omitempty"`
	Evidence         []DisputeEvidence `json:"evidence,omitempty"`
}

// Deliverable — пара артефактов одной сдачи: публичное превью и закрытый
// оригинал. Уровень доступа переключается только приёмкой владеющей единицы.
type Deliverable struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	OrderID           uuid.UUID  `db:"order_id" json:"order_id"`
	MilestonePosition *int       `db:"milestone_position" json:"milestone_position,omitempty"`
	FileName          string     `db:"file_name" json:"file_name"`
	FileSize          int64      `db:"file_size" json:"file_size"`
	PreviewKey        string     `db:"preview_key" json:"preview_key"`
	FinalKey          string     `db:"final_key" json:"-"`
	AccessLevel       string     `db:"access_level" json:"access_level"`
	RevisionNumber    int        `db:"revision_number" json:"revision_number"`
	DownloadCount     int        `db:"download_count" json:"download_count"`
	LastAccessedAt    *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	UploadedBy        uuid.UUID  `db:"uploaded_by" json:"uploaded_by"`
	Description       *string    `db:"description" json:"description,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Milestone — оплачиваемый этап заказа. Позиция фиксируется при создании,
// после создания меняются только статус, сдачи и отзыв клиента.
type Milestone struct {
	OrderID        uuid.UUID  `db:"order_id" json:"order_id"`
	Position       int        `db:"position" json:"position"`
	Title          string     `db:"title" json:"title"`
	Description    *string    `db:"description" json:"description,omitempty"`
	Amount         float64    `db:"amount" json:"amount"`
	DueDate        time.Time  `db:"due_date" json:"due_date"`
	Status         string     `db:"status" json:"status"`
	ClientFeedback *string    `db:"client_feedback" json:"client_feedback,omitempty"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt     *time.Time `db:"approved_at" json:"approved_at,omitempty"`

	Deliverables []Deliverable `json:"deliverables,omitempty"`
}

// RevisionRequest — запись в журнале запросов доработки (только добавление).
type RevisionRequest struct {
	ID                uuid.UUID `db:"id" json:"id"`
	OrderID           uuid.UUID `db:"order_id" json:"order_id"`
	MilestonePosition *int      `db:"milestone_position" json:"milestone_position,omitempty"`
	Reason            string    `db:"reason" json:"reason"`
	Details           *string   `db:"details" json:"details,omitempty"`
	RequestedBy       uuid.UUID `db:"requested_by" json:"requested_by"`
	RequestedAt       time.Time `db:"requested_at" json:"requested_at"`
}

// DisputeEvidence — материал по спору от одной из сторон (только добавление).
type DisputeEvidence struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	AuthorID  uuid.UUID `db:"author_id" json:"author_id"`
	Note      string    `db:"note" json:"note"`
	FileKey   *string   `db:"file_key" json:"file_key,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsMilestoneOrder сообщает, идёт ли заказ по этапам.
func (o *Order) IsMilestoneOrder() bool {
	return len(o.Milestones) > 0
}

// IsParty проверяет, является ли пользователь стороной сделки.
func (o *Order) IsParty(userID uuid.UUID) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// IsTerminal сообщает, завершена ли сделка по деньгам.
// После released или refunded никакие переходы невозможны.
func (o *Order) IsTerminal() bool {
	return o.EscrowStatus == EscrowStatusReleased || o.EscrowStatus == EscrowStatusRefunded
}

// DisplayStatus выводит человекочитаемый статус из авторитетного.
func (o *Order) DisplayStatus() string {
	switch o.EscrowStatus {
	case EscrowStatusFunded:
		return "in_progress"
	case EscrowStatusWorkSubmitted:
		return "in_review"
	case EscrowStatusReleased:
		return "completed"
	case EscrowStatusRefunded:
		return "cancelled"
	case EscrowStatusDisputed:
		return "disputed"
	default:
		return o.EscrowStatus
	}
}

// ProtectionLevel возвращает уровень защиты по цене заказа.
func (o *Order) ProtectionLevel(threshold float64) string {
	if o.Price >= threshold {
		return ProtectionEnhanced
	}
	return ProtectionStandard
}

// NextRevisionNumber вычисляет номер следующего раунда сдачи:
// все файлы одной сдачи получают общий номер max(существующих)+1.
// Для этапного заказа номер считается в рамках этапа.
func (o *Order) NextRevisionNumber(milestonePos *int) int {
	maxRev := 0
	for i := range o.Deliverables {
		d := &o.Deliverables[i]
		if !samePosition(d.MilestonePosition, milestonePos) {
			continue
		}
		if d.RevisionNumber > maxRev {
			maxRev = d.RevisionNumber
		}
	}
	return maxRev + 1
}

// FlatDeliverables возвращает сдачи вне этапов.
func (o *Order) FlatDeliverables() []Deliverable {
	out := make([]Deliverable, 0, len(o.Deliverables))
	for _, d := range o.Deliverables {
		if d.MilestonePosition == nil {
			out = append(out, d)
		}
	}
	return out
}

// MilestoneAt возвращает этап по позиции.
func (o *Order) MilestoneAt(position int) *Milestone {
	for i := range o.Milestones {
		if o.Milestones[i].Position == position {
			return &o.Milestones[i]
		}
	}
	return nil
}

// DeliverableByID ищет сдачу по идентификатору.
func (o *Order) DeliverableByID(id uuid.UUID) *Deliverable {
	for i := range o.Deliverables {
		if o.Deliverables[i].ID == id {
			return &o.Deliverables[i]
		}
	}
	return nil
}

// AllMilestonesApproved сообщает, приняты ли все этапы.
func (o *Order) AllMilestonesApproved() bool {
	if len(o.Milestones) == 0 {
		return false
	}
	for i := range o.Milestones {
		if o.Milestones[i].Status != MilestoneStatusApproved {
			return false
		}
	}
	return true
}

// LatestMilestoneDue возвращает самый поздний дедлайн этапа.
func (o *Order) LatestMilestoneDue() time.Time {
	var latest time.Time
	for i := range o.Milestones {
		if o.Milestones[i].DueDate.After(latest) {
			latest = o.Milestones[i].DueDate
		}
	}
	return latest
}

// MilestonesTotal считает сумму этапов.
func (o *Order) MilestonesTotal() float64 {
	var total float64
	for i := range o.Milestones {
		total += o.Milestones[i].Amount
	}
	return total
}

// MilestoneSumMatchesPrice проверяет инвариант: сумма этапов равна цене
// заказа с точностью до MilestoneSumTolerance.
func (o *Order) MilestoneSumMatchesPrice() bool {
	return math.Abs(o.MilestonesTotal()-o.Price) <= MilestoneSumTolerance
}

// ExtendAutoRelease отодвигает дедлайн приёмки вперёд. Сдвиг назад
// игнорируется: дедлайн монотонно неубывающий, иначе возможна
// преждевременная автовыплата.
func (o *Order) ExtendAutoRelease(candidate time.Time) {
	if o.AutoReleaseAt == nil || candidate.After(*o.AutoReleaseAt) {
		o.AutoReleaseAt = &candidate
	}
}

func samePosition(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
