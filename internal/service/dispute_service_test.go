package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// disputedOrder собирает заказ с открытым спором.
func disputedOrder(buyerID, sellerID uuid.UUID) *models.Order {
	order := fundedOrder(buyerID, sellerID)
	order.EscrowStatus = models.EscrowStatusDisputed
	order.DisputeStatus = models.DisputeStatusPending
	initiator := buyerID
	reason := "work_not_delivered"
	openedAt := time.Now().Add(-30 * time.Minute)
	order.DisputeInitiatorID = &initiator
	order.DisputeReason = &reason
	order.DisputeOpenedAt = &openedAt
	return order
}

func ptrFloat(v float64) *float64 { return &v }

func TestDisputeService_AddEvidence(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewDisputeService(store, &captureSink{})
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := store.seed(disputedOrder(buyerID, sellerID))

	fileKey := "evidence/chat.png"
	updated, err := svc.AddEvidence(ctx, order.ID, sellerID, "переписка с согласованием макета", &fileKey)
	require.NoError(t, err)
	require.Len(t, updated.Evidence, 1)
	assert.Equal(t, sellerID, updated.Evidence[0].AuthorID)

	// Пустой материал не принимается.
	_, err = svc.AddEvidence(ctx, order.ID, buyerID, "", nil)
	assert.True(t, apperror.IsValidation(err))

	// Посторонний не может прикладывать материалы.
	_, err = svc.AddEvidence(ctx, order.ID, uuid.New(), "я мимо проходил", nil)
	assert.True(t, apperror.IsForbidden(err))
}

func TestDisputeService_AddEvidence_ClosedDispute(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewDisputeService(store, &captureSink{})
	ctx := context.Background()

	buyerID := uuid.New()
	order := disputedOrder(buyerID, uuid.New())
	order.DisputeStatus = models.DisputeStatusResolved
	store.seed(order)

	_, err := svc.AddEvidence(ctx, order.ID, buyerID, "поздний материал", nil)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_StartReview(t *testing.T) {
	store := newFakeOrderStore()
	sink := &captureSink{}
	svc := NewDisputeService(store, sink)
	ctx := context.Background()

	order := store.seed(disputedOrder(uuid.New(), uuid.New()))

	// Только оператор платформы.
	_, err := svc.StartReview(ctx, order.ID, models.RoleClient)
	assert.True(t, apperror.IsForbidden(err))

	updated, err := svc.StartReview(ctx, order.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusUnderReview, updated.DisputeStatus)
	// Обе стороны уведомлены.
	assert.Len(t, sink.events, 2)

	// Повторно взять в работу нельзя.
	_, err = svc.StartReview(ctx, order.ID, models.RoleAdmin)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_Resolve_FullRefund(t *testing.T) {
	store := newFakeOrderStore()
	sink := &captureSink{}
	svc := NewDisputeService(store, sink)
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := disputedOrder(buyerID, sellerID)
	order.DisputeStatus = models.DisputeStatusUnderReview
	store.seed(order)

	updated, err := svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{
		Outcome:      models.DisputeOutcomeRefund,
		RefundAmount: ptrFloat(order.Price),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusRefunded, updated.EscrowStatus)
	assert.Equal(t, models.DisputeStatusResolved, updated.DisputeStatus)
	require.NotNil(t, updated.RefundAmount)
	assert.Equal(t, order.Price, *updated.RefundAmount)
	assert.Equal(t, "cancelled", updated.DisplayStatus())

	// Полный возврат бьёт по репутации продавца.
	assert.Contains(t, sink.types(), models.EventTrustDelta)
	assert.NotContains(t, sink.types(), models.EventPartialFault)
}

func TestDisputeService_Resolve_PartialRefund(t *testing.T) {
	store := newFakeOrderStore()
	sink := &captureSink{}
	svc := NewDisputeService(store, sink)
	ctx := context.Background()

	order := disputedOrder(uuid.New(), uuid.New())
	order.DisputeStatus = models.DisputeStatusUnderReview
	store.seed(order)

	updated, err := svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{
		Outcome:      models.DisputeOutcomeRefund,
		RefundAmount: ptrFloat(order.Price / 2),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusRefunded, updated.EscrowStatus)

	// Частичный возврат — разделённая ответственность, без удара по рейтингу.
	types := sink.types()
	assert.NotContains(t, types, models.EventTrustDelta)

	partials := 0
	for _, tp := range types {
		if tp == models.EventPartialFault {
			partials++
		}
	}
	assert.Equal(t, 2, partials)
}

func TestDisputeService_Resolve_RefundBounds(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewDisputeService(store, &captureSink{})
	ctx := context.Background()

	order := disputedOrder(uuid.New(), uuid.New())
	order.DisputeStatus = models.DisputeStatusUnderReview
	store.seed(order)

	// Без суммы возврат невозможен.
	_, err := svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{Outcome: models.DisputeOutcomeRefund})
	assert.True(t, apperror.IsValidation(err))

	// Сумма сверх цены заказа отклоняется.
	_, err = svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{
		Outcome:      models.DisputeOutcomeRefund,
		RefundAmount: ptrFloat(order.Price + 1),
	})
	assert.True(t, apperror.IsValidation(err))

	// Неизвестный итог отклоняется до обращения к хранилищу.
	_, err = svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{Outcome: "split_the_baby"})
	assert.True(t, apperror.IsValidation(err))

	// Неудачные попытки не меняют состояние спора.
	current, getErr := store.GetByID(ctx, order.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.DisputeStatusUnderReview, current.DisputeStatus)
}

func TestDisputeService_Resolve_FavorSeller(t *testing.T) {
	store := newFakeOrderStore()
	sink := &captureSink{}
	svc := NewDisputeService(store, sink)
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := disputedOrder(buyerID, sellerID)
	order.DisputeStatus = models.DisputeStatusUnderReview
	// Сданный этап: при решении в пользу продавца он считается принятым.
	due := time.Now().AddDate(0, 0, 5)
	submittedAt := time.Now().Add(-time.Hour)
	order.Milestones = []models.Milestone{{
		Position: 1, Title: "Весь объём", Amount: order.Price,
		DueDate: due, Status: models.MilestoneStatusSubmitted, SubmittedAt: &submittedAt,
	}}
	store.seed(order)

	updated, err := svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{
		Outcome: models.DisputeOutcomeFavorSeller,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, updated.EscrowStatus)
	assert.True(t, updated.IsCompleted)
	require.NotNil(t, updated.ReleasedBy)
	assert.Equal(t, models.ReleasedByArbiter, *updated.ReleasedBy)
	assert.Equal(t, models.MilestoneStatusApproved, updated.MilestoneAt(1).Status)

	types := sink.types()
	assert.Contains(t, types, models.EventOrderReleased)
	assert.Contains(t, types, models.EventOrderCompleted)

	// Доверие: продавцу плюс, инициатору проигранного спора минус.
	deltas := 0
	for _, tp := range types {
		if tp == models.EventTrustDelta {
			deltas++
		}
	}
	assert.Equal(t, 2, deltas)
}

func TestDisputeService_Resolve_RequiresReviewFirst(t *testing.T) {
	store := newFakeOrderStore()
	svc := NewDisputeService(store, &captureSink{})
	ctx := context.Background()

	order := store.seed(disputedOrder(uuid.New(), uuid.New()))

	_, err := svc.Resolve(ctx, order.ID, models.RoleAdmin, ResolveInput{
		Outcome:      models.DisputeOutcomeRefund,
		RefundAmount: ptrFloat(order.Price),
	})
	assert.True(t, apperror.IsInvalidState(err))

	_, err = svc.Resolve(ctx, order.ID, models.RoleFreelancer, ResolveInput{
		Outcome: models.DisputeOutcomeFavorSeller,
	})
	assert.True(t, apperror.IsForbidden(err))
}
