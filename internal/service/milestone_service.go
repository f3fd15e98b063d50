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

// MilestoneService ведёт этапный путь сделки: разовое создание плана,
// сдачу и приёмку отдельных этапов.
type MilestoneService struct {
	orders   OrderStore
	settings SettingsProvider
	events   EventSink
	now      func() time.Time
}

// NewMilestoneService создаёт новый сервис.
func NewMilestoneService(orders OrderStore, settings SettingsProvider, events EventSink) *MilestoneService {
	return &MilestoneService{
		orders:   orders,
		settings: settings,
		events:   events,
		now:      time.Now,
	}
}

// CreateMilestones разово разбивает заказ на этапы. Допустимо только для
// оплаченного заказа без этапов; сумма этапов обязана сойтись с ценой.
func (s *MilestoneService) CreateMilestones(ctx context.Context, orderID, buyerID uuid.UUID, items []models.MilestonePlanItem) (*models.Order, error) {
	if len(items) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "план этапов пуст")
	}

	settings := s.settings.Snapshot(ctx)

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.BuyerID != buyerID {
			return nil, apperror.ErrForbidden
		}
		if order.EscrowStatus != models.EscrowStatusFunded {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("разбить на этапы можно только оплаченный заказ, статус %s", order.EscrowStatus))
		}
		if order.IsMilestoneOrder() {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "этапы заказа уже заданы")
		}

		var total float64
		for i, item := range items {
			if item.Amount <= 0 {
				return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапа должна быть положительной")
			}
			total += item.Amount
			order.Milestones = append(order.Milestones, models.Milestone{
				OrderID:     order.ID,
				Position:    i + 1,
				Title:       item.Title,
				Description: item.Description,
				Amount:      item.Amount,
				DueDate:     item.DueDate,
				Status:      models.MilestoneStatusPending,
			})
		}
		if !order.MilestoneSumMatchesPrice() {
			return nil, apperror.New(apperror.ErrCodeValidation,
				fmt.Sprintf("сумма этапов %.2f не совпадает с ценой заказа %.2f", total, order.Price))
		}

		order.ExtendAutoRelease(order.LatestMilestoneDue().AddDate(0, 0, settings.MilestoneHoldDays))

		return []models.Event{
			models.NotifyEvent(models.EventOrderFunded, order.SellerID, order.ID, map[string]any{
				"title":      order.Title,
				"milestones": len(items),
			}),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// SubmitMilestone фиксирует сдачу одного этапа. Когда сданы все этапы,
// заказ целиком переходит на приёмку.
func (s *MilestoneService) SubmitMilestone(ctx context.Context, orderID, sellerID uuid.UUID, position int, files []DeliverableInput) (*models.Order, error) {
	if len(files) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сдача этапа без файлов невозможна")
	}

	settings := s.settings.Snapshot(ctx)
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.SellerID != sellerID {
			return nil, apperror.ErrForbidden
		}
		if order.EscrowStatus != models.EscrowStatusFunded && order.EscrowStatus != models.EscrowStatusWorkSubmitted {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("сдача этапа невозможна в статусе %s", order.EscrowStatus))
		}
		milestone := order.MilestoneAt(position)
		if milestone == nil {
			return nil, apperror.ErrMilestoneNotFound
		}
		if milestone.Status != models.MilestoneStatusPending && milestone.Status != models.MilestoneStatusInProgress {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("этап %d уже сдан или принят", position))
		}

		pos := position
		appendDeliverables(order, &pos, sellerID, files, now)
		milestone.Status = models.MilestoneStatusSubmitted
		milestone.SubmittedAt = &now

		if allMilestonesSubmitted(order) {
			order.EscrowStatus = models.EscrowStatusWorkSubmitted
			order.WorkSubmittedAt = &now
			order.ExtendAutoRelease(now.AddDate(0, 0, settings.ReviewWindowDays))
			order.ExtendAutoRelease(order.LatestMilestoneDue().AddDate(0, 0, settings.MilestoneHoldDays))
		}

		return []models.Event{
			models.NotifyEvent(models.EventMilestoneSubmitted, order.BuyerID, order.ID, map[string]any{
				"position": position,
				"title":    milestone.Title,
			}),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// ApproveMilestone — приёмка одного этапа покупателем. Оригиналы файлов
// открываются только по принятому этапу; чужие этапы не затрагиваются.
// Приёмка последнего этапа завершает сделку выплатой.
func (s *MilestoneService) ApproveMilestone(ctx context.Context, orderID, buyerID uuid.UUID, position int, feedback *string) (*models.Order, error) {
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.BuyerID != buyerID {
			return nil, apperror.ErrForbidden
		}
		if order.IsTerminal() || order.EscrowStatus == models.EscrowStatusDisputed {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("приёмка этапа невозможна в статусе %s", order.EscrowStatus))
		}
		milestone := order.MilestoneAt(position)
		if milestone == nil {
			return nil, apperror.ErrMilestoneNotFound
		}
		if milestone.Status != models.MilestoneStatusSubmitted {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("этап %d не находится на приёмке", position))
		}

		milestone.Status = models.MilestoneStatusApproved
		milestone.ApprovedAt = &now
		milestone.ClientFeedback = feedback
		for i := range order.Deliverables {
			d := &order.Deliverables[i]
			if d.MilestonePosition != nil && *d.MilestonePosition == position {
				d.AccessLevel = models.AccessLevelFullAccess
			}
		}

		events := []models.Event{
			models.NotifyEvent(models.EventMilestoneApproved, order.SellerID, order.ID, map[string]any{
				"position": position,
				"amount":   milestone.Amount,
			}),
		}

		if order.AllMilestonesApproved() {
			releaseOrder(order, models.ReleasedByClient)
			events = append(events,
				models.NotifyEvent(models.EventOrderReleased, order.SellerID, order.ID, map[string]any{
					"amount": order.Price,
				}),
				models.Event{Type: models.EventOrderCompleted, UserID: order.SellerID, OrderID: order.ID},
			)
		}
		return events, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	if order.IsCompleted {
		logger.Log.WithField("order_id", order.ID).Info("все этапы приняты, средства выплачены продавцу")
	}
	s.events.Dispatch(ctx, events)
	return order, nil
}

// RequestMilestoneRevision возвращает сданный этап в работу.
func (s *MilestoneService) RequestMilestoneRevision(ctx context.Context, orderID, buyerID uuid.UUID, position int, reason string, details *string) (*models.Order, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина доработки обязательна")
	}
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.BuyerID != buyerID {
			return nil, apperror.ErrForbidden
		}
		if order.IsTerminal() || order.EscrowStatus == models.EscrowStatusDisputed {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("доработка этапа невозможна в статусе %s", order.EscrowStatus))
		}
		milestone := order.MilestoneAt(position)
		if milestone == nil {
			return nil, apperror.ErrMilestoneNotFound
		}
		if milestone.Status != models.MilestoneStatusSubmitted {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("этап %d не находится на приёмке", position))
		}

		milestone.Status = models.MilestoneStatusInProgress
		milestone.SubmittedAt = nil
		milestone.ClientFeedback = &reason
		if order.EscrowStatus == models.EscrowStatusWorkSubmitted {
			order.EscrowStatus = models.EscrowStatusFunded
			order.WorkSubmittedAt = nil
		}

		pos := position
		order.RevisionRequests = append(order.RevisionRequests, models.RevisionRequest{
			ID:                uuid.New(),
			OrderID:           order.ID,
			MilestonePosition: &pos,
			Reason:            reason,
			Details:           details,
			RequestedBy:       buyerID,
			RequestedAt:       now,
		})

		return []models.Event{
			models.NotifyEvent(models.EventRevisionRequested, order.SellerID, order.ID, map[string]any{
				"position": position,
				"reason":   reason,
			}),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// allMilestonesSubmitted сообщает, сданы или приняты все этапы.
func allMilestonesSubmitted(order *models.Order) bool {
	for i := range order.Milestones {
		st := order.Milestones[i].Status
		if st != models.MilestoneStatusSubmitted && st != models.MilestoneStatusApproved {
			return false
		}
	}
	return len(order.Milestones) > 0
}
