package service

import (
	"context"
	"time"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// sweepBatchLimit ограничивает один проход, чтобы долгий прогон не
// удерживал планировщик.
const sweepBatchLimit = 500

// SweepService выполняет автовыплату по заказам, которые покупатель
// не принял в отведённое окно.
type SweepService struct {
	orders   OrderStore
	settings SettingsProvider
	events   EventSink
	now      func() time.Time
}

// NewSweepService создаёт новый сервис.
func NewSweepService(orders OrderStore, settings SettingsProvider, events EventSink) *SweepService {
	return &SweepService{
		orders:   orders,
		settings: settings,
		events:   events,
		now:      time.Now,
	}
}

// Sweep обходит просроченные заказы и выплачивает каждый независимо.
// Сбой одного кандидата логируется и не прерывает остальных.
// Возвращает число выплаченных заказов.
func (s *SweepService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	settings := s.settings.Snapshot(ctx)

	candidates, err := s.orders.ListAutoReleasable(ctx, now, sweepBatchLimit)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить кандидатов на автовыплату")
	}

	released := 0
	for _, orderID := range candidates {
		order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
			// Состояние перепроверяется под блокировкой: между выборкой и
			// захватом заказ могли принять, вернуть в работу или оспорить.
			if order.EscrowStatus != models.EscrowStatusWorkSubmitted ||
				order.DisputeStatus != models.DisputeStatusNone ||
				order.AutoReleaseAt == nil || order.AutoReleaseAt.After(now) {
				return nil, apperror.New(apperror.ErrCodeInvalidState, "заказ уже не подлежит автовыплате")
			}
			if order.IsMilestoneOrder() {
				// Удержание после дедлайна последнего этапа.
				hold := order.LatestMilestoneDue().AddDate(0, 0, settings.MilestoneHoldDays)
				if now.Before(hold) {
					return nil, apperror.New(apperror.ErrCodeInvalidState, "окно удержания этапного заказа ещё не истекло")
				}
			}

			releaseOrder(order, models.ReleasedBySystem)
			for i := range order.Milestones {
				m := &order.Milestones[i]
				if m.Status == models.MilestoneStatusSubmitted {
					m.Status = models.MilestoneStatusApproved
					approvedAt := now
					m.ApprovedAt = &approvedAt
				}
			}

			return []models.Event{
				models.NotifyEvent(models.EventOrderAutoReleased, order.SellerID, order.ID, map[string]any{"amount": order.Price}),
				models.NotifyEvent(models.EventOrderAutoReleased, order.BuyerID, order.ID, map[string]any{"amount": order.Price}),
				{Type: models.EventOrderCompleted, UserID: order.SellerID, OrderID: order.ID},
			}, nil
		})
		if err != nil {
			if apperror.IsInvalidState(err) {
				continue
			}
			logger.Log.WithField("order_id", orderID).WithError(err).Error("автовыплата по заказу не выполнена")
			continue
		}

		released++
		logger.Log.WithFields(map[string]any{
			"order_id": order.ID,
			"amount":   order.Price,
		}).Info("автовыплата выполнена")
		s.events.Dispatch(ctx, events)
	}
	return released, nil
}
