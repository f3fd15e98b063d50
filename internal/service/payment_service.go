package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/gateway"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// IntentStore описывает хранилище платёжных намерений.
type IntentStore interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error)
	MarkConfirmed(ctx context.Context, reference string) error
	MarkFailed(ctx context.Context, reference string) error
}

// GigStore читает снимки услуг.
type GigStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Gig, error)
}

// PaymentGateway — контракт внешнего платёжного шлюза.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.IntentResponse, error)
	VerifyPayment(ctx context.Context, reference string) (bool, error)
}

// EscrowFunder создаёт заказ по подтверждённому платежу.
type EscrowFunder interface {
	Fund(ctx context.Context, in FundInput) (*models.Order, error)
}

// PaymentService — адаптер платёжных намерений: создание намерения во
// внешнем шлюзе и идемпотентное подтверждение оплаты с созданием заказа.
type PaymentService struct {
	intents IntentStore
	gigs    GigStore
	gateway PaymentGateway
	escrow  EscrowFunder
	now     func() time.Time
}

// NewPaymentService создаёт новый сервис.
func NewPaymentService(intents IntentStore, gigs GigStore, gw PaymentGateway, escrow EscrowFunder) *PaymentService {
	return &PaymentService{
		intents: intents,
		gigs:    gigs,
		gateway: gw,
		escrow:  escrow,
		now:     time.Now,
	}
}

// CreateIntentInput описывает запрос на оплату: услуга целиком, выбранный
// тариф либо план этапов. Тариф и план взаимоисключающие.
type CreateIntentInput struct {
	GigID      uuid.UUID
	BuyerID    uuid.UUID
	PackageID  *uuid.UUID
	Milestones []models.MilestonePlanItem
}

// CreateIntent создаёт платёжное намерение во внешнем шлюзе и сохраняет
// его локально. Цена считается строго из снимка услуги, входные суммы
// покупателя используются только для плана этапов.
func (s *PaymentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*models.PaymentIntent, error) {
	if in.PackageID != nil && len(in.Milestones) > 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "тариф и план этапов взаимоисключающие")
	}

	gig, err := s.gigs.GetByID(ctx, in.GigID)
	if err != nil {
		if errors.Is(err, repository.ErrGigNotFound) {
			return nil, apperror.ErrGigNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить услугу")
	}
	if !gig.IsActive {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "услуга снята с публикации")
	}
	if gig.SellerID == in.BuyerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя оплатить собственную услугу")
	}
	if gig.HasSellerMilestones() && len(in.Milestones) > 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "этапы этой услуги заданы продавцом")
	}

	amount := gig.BasePrice
	switch {
	case in.PackageID != nil:
		pkg := gig.PackageByID(*in.PackageID)
		if pkg == nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "тариф не принадлежит услуге")
		}
		amount = pkg.Price
	case len(in.Milestones) > 0:
		amount = 0
		now := s.now()
		for _, item := range in.Milestones {
			if item.Amount <= 0 {
				return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапа должна быть положительной")
			}
			if item.DueDate.Before(now) {
				return nil, apperror.New(apperror.ErrCodeValidation, "дедлайн этапа не может быть в прошлом")
			}
			amount += item.Amount
		}
	}

	metadata, err := json.Marshal(models.IntentMetadata{
		PackageID:  in.PackageID,
		Milestones: in.Milestones,
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать параметры оплаты")
	}

	reference := uuid.NewString()
	created, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		Reference: reference,
		Amount:    amount,
		Currency:  gig.Currency,
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeUpstream, "платёжный шлюз недоступен")
	}

	intent := &models.PaymentIntent{
		Reference:   reference,
		GigID:       gig.ID,
		BuyerID:     in.BuyerID,
		Amount:      amount,
		Currency:    gig.Currency,
		Metadata:    metadata,
		Status:      models.IntentStatusCreated,
		RedirectURL: created.RedirectURL,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить платёжное намерение")
	}

	logger.Log.WithFields(map[string]any{
		"reference": reference,
		"gig_id":    gig.ID,
		"amount":    amount,
	}).Info("платёжное намерение создано")
	return intent, nil
}

// Confirm подтверждает оплату по reference и создаёт заказ. Операция
// идемпотентна: повторный вызов по тому же reference возвращает уже
// созданный заказ.
func (s *PaymentService) Confirm(ctx context.Context, reference string) (*models.Order, error) {
	intent, err := s.intents.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrIntentNotFound) {
			return nil, apperror.ErrIntentNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить платёжное намерение")
	}

	if intent.Status != models.IntentStatusConfirmed {
		paid, err := s.gateway.VerifyPayment(ctx, reference)
		if err != nil {
			// Сбой шлюза не равен отказу в оплате: подтверждение можно повторить.
			return nil, apperror.Wrap(err, apperror.ErrCodeUpstream, "не удалось проверить оплату в шлюзе")
		}
		if !paid {
			if err := s.intents.MarkFailed(ctx, reference); err != nil {
				logger.Log.WithField("reference", reference).WithError(err).Error("не удалось отметить неуспешную оплату")
			}
			return nil, apperror.New(apperror.ErrCodeInvalidState, "оплата не подтверждена шлюзом")
		}
	}

	gig, err := s.gigs.GetByID(ctx, intent.GigID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось получить услугу заказа")
	}

	var meta models.IntentMetadata
	if len(intent.Metadata) > 0 {
		if err := json.Unmarshal(intent.Metadata, &meta); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "параметры оплаты повреждены")
		}
	}

	deliveryDays := gig.DeliveryDays
	if meta.PackageID != nil {
		if pkg := gig.PackageByID(*meta.PackageID); pkg != nil {
			deliveryDays = pkg.DeliveryDays
		}
	}

	order, err := s.escrow.Fund(ctx, FundInput{
		Reference:     reference,
		Gig:           gig,
		BuyerID:       intent.BuyerID,
		Price:         intent.Amount,
		Currency:      intent.Currency,
		PaidAt:        s.now(),
		DeliveryDays:  deliveryDays,
		MilestonePlan: meta.Milestones,
	})
	if err != nil {
		return nil, err
	}

	if intent.Status != models.IntentStatusConfirmed {
		if err := s.intents.MarkConfirmed(ctx, reference); err != nil {
			logger.Log.WithField("reference", reference).WithError(err).Error("не удалось отметить подтверждение оплаты")
		}
	}
	return order, nil
}
