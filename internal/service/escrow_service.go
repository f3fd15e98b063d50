package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// OrderStore описывает взаимодействие сервисов с хранилищем заказов.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByReference(ctx context.Context, reference string) (*models.Order, error)
	Mutate(ctx context.Context, orderID uuid.UUID, fn repository.MutateFunc) (*models.Order, []models.Event, error)
	ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, []models.Order, error)
	RegisterDownload(ctx context.Context, deliverableID uuid.UUID) error
}

// SettingsProvider отдаёт снимок платформенных политик.
type SettingsProvider interface {
	Snapshot(ctx context.Context) models.Settings
}

// EventSink принимает доменные события после успешного перехода.
// Доставка fire-and-forget: переход уже зафиксирован, сбой доставки
// на него не влияет.
type EventSink interface {
	Dispatch(ctx context.Context, events []models.Event)
}

// EscrowService реализует машину состояний сделки: удержание средств,
// сдачу и приёмку работы, доработки и открытие спора.
type EscrowService struct {
	orders   OrderStore
	settings SettingsProvider
	events   EventSink
	now      func() time.Time
}

// NewEscrowService создаёт новый сервис.
func NewEscrowService(orders OrderStore, settings SettingsProvider, events EventSink) *EscrowService {
	return &EscrowService{
		orders:   orders,
		settings: settings,
		events:   events,
		now:      time.Now,
	}
}

// FundInput — данные подтверждённого платежа для создания заказа.
type FundInput struct {
	Reference    string
	Gig          *models.Gig
	BuyerID      uuid.UUID
	Price        float64
	Currency     string
	PaidAt       time.Time
	DeliveryDays int
	// MilestonePlan — план этапов покупателя из платёжного намерения.
	// Пустой план при наличии авторских этапов услуги означает
	// автоматическое разворачивание этапов из услуги.
	MilestonePlan []models.MilestonePlanItem
}

// DeliverableInput — один файл сдачи: публичное превью и закрытый оригинал.
type DeliverableInput struct {
	FileName    string
	FileSize    int64
	PreviewKey  string
	FinalKey    string
	Description *string
}

// Fund создаёт заказ в состоянии funded. Операция идемпотентна по
// reference: повторное подтверждение того же платежа возвращает уже
// созданный заказ и не создаёт дубликат.
func (s *EscrowService) Fund(ctx context.Context, in FundInput) (*models.Order, error) {
	existing, err := s.orders.GetByReference(ctx, in.Reference)
	if err == nil {
		logger.Log.WithField("reference", in.Reference).Info("повторное подтверждение оплаты, заказ уже создан")
		return existing, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить существующий заказ")
	}

	if in.Gig == nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "услуга обязательна для создания заказа")
	}
	if in.Price <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена заказа должна быть положительной")
	}

	settings := s.settings.Snapshot(ctx)

	expectedDelivery := in.PaidAt.AddDate(0, 0, in.DeliveryDays)
	order := &models.Order{
		Reference:            in.Reference,
		GigID:                in.Gig.ID,
		BuyerID:              in.BuyerID,
		SellerID:             in.Gig.SellerID,
		Title:                in.Gig.Title,
		Price:                in.Price,
		Currency:             in.Currency,
		EscrowStatus:         models.EscrowStatusFunded,
		DisputeStatus:        models.DisputeStatusNone,
		PaidAt:               in.PaidAt,
		ExpectedDeliveryDate: &expectedDelivery,
	}

	milestones, err := buildMilestones(in, settings)
	if err != nil {
		return nil, err
	}
	order.Milestones = milestones

	// Базовый дедлайн автовыплаты: тариф по цене плюс окно приёмки.
	// Для этапного заказа дедлайн не раньше последнего этапа с удержанием.
	release := in.PaidAt.AddDate(0, 0, autoReleaseDays(in.Price, settings)+settings.ReviewWindowDays)
	order.ExtendAutoRelease(release)
	if len(order.Milestones) > 0 {
		order.ExtendAutoRelease(order.LatestMilestoneDue().AddDate(0, 0, settings.MilestoneHoldDays))
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			// Гонка двух колбэков: заказ создала параллельная обработка.
			winner, err := s.orders.GetByReference(ctx, in.Reference)
			if err != nil {
				return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось прочитать заказ после гонки создания")
			}
			return winner, nil
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать заказ")
	}

	logger.Log.WithFields(map[string]any{
		"order_id":  order.ID,
		"reference": order.Reference,
		"price":     order.Price,
	}).Info("заказ создан и средства удержаны")

	s.events.Dispatch(ctx, []models.Event{
		models.NotifyEvent(models.EventOrderFunded, order.SellerID, order.ID, map[string]any{
			"title": order.Title,
			"price": order.Price,
		}),
	})
	return order, nil
}

// buildMilestones разворачивает этапы заказа из плана покупателя либо
// из авторских этапов услуги. План имеет приоритет.
func buildMilestones(in FundInput, settings models.Settings) ([]models.Milestone, error) {
	if len(in.MilestonePlan) > 0 {
		var total float64
		milestones := make([]models.Milestone, 0, len(in.MilestonePlan))
		for i, item := range in.MilestonePlan {
			if item.Amount <= 0 {
				return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапа должна быть положительной")
			}
			total += item.Amount
			milestones = append(milestones, models.Milestone{
				Position:    i + 1,
				Title:       item.Title,
				Description: item.Description,
				Amount:      item.Amount,
				DueDate:     item.DueDate,
				Status:      models.MilestoneStatusPending,
			})
		}
		if diff := total - in.Price; diff > models.MilestoneSumTolerance || diff < -models.MilestoneSumTolerance {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапов не совпадает с ценой заказа")
		}
		return milestones, nil
	}

	if !in.Gig.HasSellerMilestones() {
		return nil, nil
	}

	// Авторские этапы услуги: дедлайны отсчитываются от оплаты
	// накопительно по срокам каждого этапа.
	milestones := make([]models.Milestone, 0, len(in.Gig.Milestones))
	days := 0
	for _, gm := range in.Gig.Milestones {
		days += gm.DeliveryDays
		milestones = append(milestones, models.Milestone{
			Position:    gm.Position,
			Title:       gm.Title,
			Description: gm.Description,
			Amount:      gm.Amount,
			DueDate:     in.PaidAt.AddDate(0, 0, days),
			Status:      models.MilestoneStatusPending,
		})
	}
	return milestones, nil
}

func autoReleaseDays(price float64, settings models.Settings) int {
	if price >= settings.ExtendedTierPrice {
		return settings.AutoReleaseDaysExtended
	}
	return settings.AutoReleaseDaysStandard
}

// SubmitWork фиксирует сдачу работы по заказу без этапов. Файлы сохраняются
// с доступом preview_only; оригиналы открываются только приёмкой.
func (s *EscrowService) SubmitWork(ctx context.Context, orderID, sellerID uuid.UUID, files []DeliverableInput) (*models.Order, error) {
	if len(files) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сдача работы без файлов невозможна")
	}

	settings := s.settings.Snapshot(ctx)
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.SellerID != sellerID {
			return nil, apperror.ErrForbidden
		}
		if order.IsMilestoneOrder() {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "этапный заказ сдаётся по этапам")
		}
		// Сдача из work_submitted допустима только для зависшего заказа:
		// статус переключился, но файлы не прикрепились.
		stuck := order.EscrowStatus == models.EscrowStatusWorkSubmitted && len(order.Deliverables) == 0
		if order.EscrowStatus != models.EscrowStatusFunded && !stuck {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("сдача работы невозможна в статусе %s", order.EscrowStatus))
		}

		appendDeliverables(order, nil, sellerID, files, now)
		order.EscrowStatus = models.EscrowStatusWorkSubmitted
		order.WorkSubmittedAt = &now
		order.ExtendAutoRelease(now.AddDate(0, 0, settings.ReviewWindowDays))

		return []models.Event{
			models.NotifyEvent(models.EventWorkSubmitted, order.BuyerID, order.ID, map[string]any{
				"title": order.Title,
				"files": len(files),
			}),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// ApproveWork — приёмка работы покупателем: выплата продавцу и открытие
// оригиналов файлов.
func (s *EscrowService) ApproveWork(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.BuyerID != buyerID {
			return nil, apperror.ErrForbidden
		}
		if order.IsMilestoneOrder() {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "этапный заказ принимается по этапам")
		}
		if order.EscrowStatus != models.EscrowStatusWorkSubmitted {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("приёмка невозможна в статусе %s", order.EscrowStatus))
		}

		releaseOrder(order, models.ReleasedByClient)

		return []models.Event{
			models.NotifyEvent(models.EventWorkApproved, order.SellerID, order.ID, map[string]any{
				"title": order.Title,
			}),
			models.NotifyEvent(models.EventOrderReleased, order.SellerID, order.ID, map[string]any{
				"amount": order.Price,
			}),
			{Type: models.EventOrderCompleted, UserID: order.SellerID, OrderID: order.ID},
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	logger.Log.WithField("order_id", order.ID).Info("работа принята, средства выплачены продавцу")
	s.events.Dispatch(ctx, events)
	return order, nil
}

// ResetForResubmission возвращает зависший заказ в работу: статус успел
// переключиться на приёмку, но файлы сдачи не прикрепились.
func (s *EscrowService) ResetForResubmission(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Order, error) {
	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.SellerID != sellerID {
			return nil, apperror.ErrForbidden
		}
		if order.EscrowStatus != models.EscrowStatusWorkSubmitted || len(order.Deliverables) > 0 {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "сброс возможен только для сдачи без файлов")
		}

		order.EscrowStatus = models.EscrowStatusFunded
		order.WorkSubmittedAt = nil
		return nil, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	logger.Log.WithField("order_id", order.ID).Info("зависшая сдача сброшена, заказ возвращён в работу")
	s.events.Dispatch(ctx, events)
	return order, nil
}

// RequestRevision возвращает заказ в работу. Прежние сдачи сохраняются
// в истории, запрос попадает в журнал доработок.
func (s *EscrowService) RequestRevision(ctx context.Context, orderID, buyerID uuid.UUID, reason string, details *string) (*models.Order, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина доработки обязательна")
	}
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if order.BuyerID != buyerID {
			return nil, apperror.ErrForbidden
		}
		if order.IsMilestoneOrder() {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "доработка этапного заказа запрашивается по этапу")
		}
		if order.EscrowStatus != models.EscrowStatusWorkSubmitted {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("запрос доработки невозможен в статусе %s", order.EscrowStatus))
		}

		order.EscrowStatus = models.EscrowStatusFunded
		order.WorkSubmittedAt = nil
		order.RevisionRequests = append(order.RevisionRequests, models.RevisionRequest{
			ID:          uuid.New(),
			OrderID:     order.ID,
			Reason:      reason,
			Details:     details,
			RequestedBy: buyerID,
			RequestedAt: now,
		})

		return []models.Event{
			models.NotifyEvent(models.EventRevisionRequested, order.SellerID, order.ID, map[string]any{
				"reason": reason,
			}),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	s.events.Dispatch(ctx, events)
	return order, nil
}

// InitiateDispute открывает спор и замораживает сделку до решения оператора.
func (s *EscrowService) InitiateDispute(ctx context.Context, orderID, userID uuid.UUID, reason string, details *string) (*models.Order, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}
	now := s.now()

	order, events, err := s.orders.Mutate(ctx, orderID, func(order *models.Order) ([]models.Event, error) {
		if !order.IsParty(userID) {
			return nil, apperror.ErrForbidden
		}
		if order.DisputeStatus != models.DisputeStatusNone {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "спор по заказу уже открыт")
		}
		if order.EscrowStatus != models.EscrowStatusFunded && order.EscrowStatus != models.EscrowStatusWorkSubmitted {
			return nil, apperror.New(apperror.ErrCodeInvalidState,
				fmt.Sprintf("открыть спор невозможно в статусе %s", order.EscrowStatus))
		}

		order.EscrowStatus = models.EscrowStatusDisputed
		order.DisputeStatus = models.DisputeStatusPending
		order.DisputeReason = &reason
		order.DisputeDetails = details
		order.DisputeInitiatorID = &userID
		order.DisputeOpenedAt = &now

		other := order.SellerID
		if userID == order.SellerID {
			other = order.BuyerID
		}
		return []models.Event{
			models.NotifyEvent(models.EventDisputeOpened, other, order.ID, map[string]any{
				"reason": reason,
			}),
		}, nil
	})
	if err != nil {
		return nil, translateMutateErr(err)
	}

	logger.Log.WithFields(map[string]any{
		"order_id":  order.ID,
		"initiator": userID,
	}).Warn("по заказу открыт спор")
	s.events.Dispatch(ctx, events)
	return order, nil
}

// Get возвращает заказ стороне сделки или оператору.
func (s *EscrowService) Get(ctx context.Context, orderID, userID uuid.UUID, role string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateMutateErr(err)
	}
	if !order.IsParty(userID) && role != models.RoleAdmin {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

// ListMy возвращает заказы пользователя как покупателя и как продавца.
func (s *EscrowService) ListMy(ctx context.Context, userID uuid.UUID) ([]models.Order, []models.Order, error) {
	asBuyer, asSeller, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить список заказов")
	}
	return asBuyer, asSeller, nil
}

// releaseOrder завершает сделку выплатой продавцу и открывает все оригиналы.
func releaseOrder(order *models.Order, releasedBy string) {
	order.EscrowStatus = models.EscrowStatusReleased
	order.IsCompleted = true
	order.ReleasedBy = &releasedBy
	for i := range order.Deliverables {
		order.Deliverables[i].AccessLevel = models.AccessLevelFullAccess
	}
}

// appendDeliverables добавляет файлы одной сдачи с общим номером раунда.
func appendDeliverables(order *models.Order, milestonePos *int, uploadedBy uuid.UUID, files []DeliverableInput, now time.Time) {
	revision := order.NextRevisionNumber(milestonePos)
	for _, f := range files {
		order.Deliverables = append(order.Deliverables, models.Deliverable{
			ID:                uuid.New(),
			OrderID:           order.ID,
			MilestonePosition: milestonePos,
			FileName:          f.FileName,
			FileSize:          f.FileSize,
			PreviewKey:        f.PreviewKey,
			FinalKey:          f.FinalKey,
			AccessLevel:       models.AccessLevelPreviewOnly,
			RevisionNumber:    revision,
			UploadedBy:        uploadedBy,
			Description:       f.Description,
			CreatedAt:         now,
		})
	}
}

// translateMutateErr переводит ошибки хранилища в ошибки приложения.
// Ошибки приложения из функции перехода проходят без изменений.
func translateMutateErr(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrOrderNotFound) {
		return apperror.ErrOrderNotFound
	}
	return apperror.Wrap(err, apperror.ErrCodeInternal, "операция с заказом не выполнена")
}
