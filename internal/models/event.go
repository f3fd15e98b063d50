package models

import (
	"github.com/google/uuid"
)

// Типы доменных событий, порождаемых переходами состояния.
const (
	EventOrderFunded        = "escrow.order_funded"
	EventWorkSubmitted      = "escrow.work_submitted"
	EventWorkApproved       = "escrow.work_approved"
	EventRevisionRequested  = "escrow.revision_requested"
	EventMilestoneSubmitted = "escrow.milestone_submitted"
	EventMilestoneApproved  = "escrow.milestone_approved"
	EventOrderReleased      = "escrow.order_released"
	EventOrderAutoReleased  = "escrow.order_auto_released"
	EventOrderRefunded      = "escrow.order_refunded"
	EventDisputeOpened      = "escrow.dispute_opened"
	EventDisputeUnderReview = "escrow.dispute_under_review"
	EventDisputeResolved    = "escrow.dispute_resolved"
	EventTrustDelta         = "trust.delta"
	EventOrderCompleted     = "trust.order_completed"
	EventPartialFault       = "trust.partial_fault"
)

// Event — побочный эффект перехода. Переходы возвращают список событий,
// а отдельный диспетчер доставляет их получателям в режиме fire-and-forget:
// сбой доставки логируется и никогда не влияет на сам переход.
type Event struct {
	Type    string         `json:"type"`
	UserID  uuid.UUID      `json:"user_id"`
	OrderID uuid.UUID      `json:"order_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NotifyEvent создаёт уведомительное событие.
func NotifyEvent(eventType string, userID, orderID uuid.UUID, payload map[string]any) Event {
	return Event{Type: eventType, UserID: userID, OrderID: orderID, Payload: payload}
}

// TrustEvent создаёт событие изменения trust-рейтинга.
func TrustEvent(userID, orderID uuid.UUID, delta float64, reason string) Event {
	return Event{
		Type:    EventTrustDelta,
		UserID:  userID,
		OrderID: orderID,
		Payload: map[string]any{"delta": delta, "reason": reason},
	}
}
