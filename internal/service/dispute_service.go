package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// DisputeService разрешает споры по заказам. Переводы спора между
// статусами доступны только оператору платформы; стороны могут лишь
// прикладывать материалы.
type DisputeService struct {
	orders OrderStore
	events EventSink
	now    func() time.Time
}

// NewDisputeService создаёт новый сервис.
func NewDisputeService(orders OrderStore, events EventSink) *DisputeService {
	return &DisputeService{
		orders: orders,
		events: events,
		now:    time.Now,
	}
}

// ResolveInput — решение оператора по спору.
type ResolveInput struct {
	Outcome      string
	RefundAmount *float64
	Note         *string
}

// AddEvidence прикладывает материал к открытому спору.
func (s *DisputeService) AddEvidence(ctx context.Context, orderID, userID uuid.UUID, note string, fileKey *string) (*models.Order, error) {
	if note == "" && fileKey == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "материал спора пуст")
	}
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if !order.IsParty(userID) {
			return nil, apperror.ErrForbidden
		}
		if order.DisputeStatus != models.DisputeStatusPending && order.DisputeStatus != models.DisputeStatusUnderReview {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "спор закрыт или не открыт, материалы не принимаются")
		}

		order.Evidence = append(order.Evidence, models.DisputeEvidence{
			ID:        uuid.New(),
			OrderID:   order.ID,
			AuthorID:  userID,
			Note:      note,
			FileKey:   fileKey,
			CreatedAt: now,
		})
		return nil, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// StartReview берёт спор в работу оператором.
func (s *DisputeService) StartReview(ctx context.Context, orderID uuid.UUID, role string) (*models.Order, error) {
	if role != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.DisputeStatus != models.DisputeStatusPending {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("взять спор в работу невозможно, статус спора %s", order.DisputeStatus))
		}
		order.DisputeStatus = models.DisputeStatusUnderReview

		return []models.Event{
			models.NotifyEvent(models.EventDisputeUnderReview, order.BuyerID, order.ID, nil),
			models.NotifyEvent(models.EventDisputeUnderReview, order.SellerID, order.ID, nil),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// Resolve закрывает спор решением оператора: возврат покупателю либо
// выплата продавцу. Решение необратимо.
func (s *DisputeService) Resolve(ctx context.Context, orderID uuid.UUID, role string, in ResolveInput) (*models.Order, error) {
	if role != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	if in.Outcome != models.DisputeOutcomeRefund && in.Outcome != models.DisputeOutcomeFavorSeller {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный итог спора")
	}
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.DisputeStatus != models.DisputeStatusUnderReview {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("решить спор невозможно, статус спора %s", order.DisputeStatus))
		}

		order.DisputeStatus = models.DisputeStatusResolved
		order.DisputeResolvedAt = &now
		outcome := in.Outcome
		order.DisputeOutcome = &outcome

		switch in.Outcome {
		case models.DisputeOutcomeRefund:
			return resolveWithRefund(order, in.RefundAmount)
		default:
			return resolveFavorSeller(order)
		}
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	logger.Log.WithFields(map[string]any{
		"order_id": order.ID,
		"outcome":  in.Outcome,
	}).Info("спор разрешён оператором")
	s.events.Dispatch(ctx, events)
	return order, nil
}

// resolveWithRefund возвращает средства покупателю. Полный возврат —
// вина продавца; частичный делит ответственность между сторонами.
func resolveWithRefund(order *models.Order, amount *float64) ([]models.Event, error) {
	if amount == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "для возврата обязательна сумма")
	}
	if *amount < 0 || *amount > order.Price {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("сумма возврата должна быть в пределах от 0 до %.2f", order.Price))
	}
	if order.IsMilestoneOrder() {
		if remainder := order.Price - approvedMilestonesTotal(order); *amount > remainder+models.MilestoneSumTolerance {
			// Принятые этапы уже выплачены; возврат сверх остатка означает
			// расхождение с журналом этапов. Решение оператора не блокируем.
			logger.Log.WithFields(map[string]any{
				"order_id":  order.ID,
				"refund":    *amount,
				"remainder": remainder,
			}).Warn("возврат превышает невыплаченный остаток этапного заказа")
		}
	}

	order.EscrowStatus = models.EscrowStatusRefunded
	order.RefundAmount = amount

	events := []models.Event{
		models.NotifyEvent(models.EventOrderRefunded, order.BuyerID, order.ID, map[string]any{"amount": *amount}),
		models.NotifyEvent(models.EventDisputeResolved, order.SellerID, order.ID, map[string]any{"outcome": models.DisputeOutcomeRefund}),
	}
	if *amount >= order.Price-models.MilestoneSumTolerance {
		// Полный возврат: продавец не выполнил обязательства.
		events = append(events, models.TrustEvent(order.SellerID, order.ID, -1, "full_refund"))
	} else if *amount > 0 {
		events = append(events,
			models.Event{Type: models.EventPartialFault, UserID: order.SellerID, OrderID: order.ID},
			models.Event{Type: models.EventPartialFault, UserID: order.BuyerID, OrderID: order.ID},
		)
	}
	return events, nil
}

// resolveFavorSeller выплачивает продавцу полную сумму.
func resolveFavorSeller(order *models.Order) ([]models.Event, error) {
	releaseOrder(order, models.ReleasedByArbiter)
	for i := range order.Milestones {
		m := &order.Milestones[i]
		if m.Status == models.MilestoneStatusSubmitted {
			m.Status = models.MilestoneStatusApproved
			m.ApprovedAt = order.DisputeResolvedAt
		}
	}

	return []models.Event{
		models.NotifyEvent(models.EventOrderReleased, order.SellerID, order.ID, map[string]any{"amount": order.Price}),
		models.NotifyEvent(models.EventDisputeResolved, order.BuyerID, order.ID, map[string]any{"outcome": models.DisputeOutcomeFavorSeller}),
		models.TrustEvent(order.SellerID, order.ID, 0.5, "dispute_favor_seller"),
		models.TrustEvent(order.BuyerID, order.ID, -0.25, "dispute_lost"),
		{Type: models.EventOrderCompleted, UserID: order.SellerID, OrderID: order.ID},
	}, nil
}

func approvedMilestonesTotal(order *models.Order) float64 {
	var total float64
	for i := range order.Milestones {
		if order.Milestones[i].Status == models.MilestoneStatusApproved {
			total += order.Milestones[i].Amount
		}
	}
	return total
}
