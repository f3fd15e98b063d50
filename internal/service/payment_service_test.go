package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/gateway"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type fakeIntentStore struct {
	mu      sync.Mutex
	intents map[string]*models.PaymentIntent
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[string]*models.PaymentIntent)}
}

func (f *fakeIntentStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.intents[intent.Reference]; exists {
		return repository.ErrIntentExists
	}
	intent.ID = uuid.New()
	intent.CreatedAt = time.Now()
	stored := *intent
	f.intents[intent.Reference] = &stored
	return nil
}

func (f *fakeIntentStore) GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[reference]
	if !ok {
		return nil, repository.ErrIntentNotFound
	}
	out := *intent
	return &out, nil
}

func (f *fakeIntentStore) MarkConfirmed(ctx context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[reference]; ok {
		intent.Status = models.IntentStatusConfirmed
		now := time.Now()
		intent.ConfirmedAt = &now
	}
	return nil
}

func (f *fakeIntentStore) MarkFailed(ctx context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[reference]; ok {
		intent.Status = models.IntentStatusFailed
	}
	return nil
}

type fakeGigStore struct {
	gigs map[uuid.UUID]*models.Gig
}

func (f *fakeGigStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Gig, error) {
	gig, ok := f.gigs[id]
	if !ok {
		return nil, repository.ErrGigNotFound
	}
	return gig, nil
}

func gigStoreWith(gigs ...*models.Gig) *fakeGigStore {
	store := &fakeGigStore{gigs: make(map[uuid.UUID]*models.Gig)}
	for _, g := range gigs {
		store.gigs[g.ID] = g
	}
	return store
}

type fakeGateway struct {
	createErr  error
	verifyErr  error
	paid       bool
	lastCreate *gateway.CreateIntentRequest
}

func (f *fakeGateway) CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.IntentResponse, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.lastCreate = &req
	redirect := "https://pay.example.com/" + req.Reference
	return &gateway.IntentResponse{Reference: req.Reference, Status: "created", RedirectURL: &redirect}, nil
}

func (f *fakeGateway) VerifyPayment(ctx context.Context, reference string) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.paid, nil
}

func newPaymentService(intents *fakeIntentStore, gigs *fakeGigStore, gw *fakeGateway, escrow EscrowFunder) *PaymentService {
	return NewPaymentService(intents, gigs, gw, escrow)
}

func TestPaymentService_CreateIntent_BasePrice(t *testing.T) {
	gig := testGig(uuid.New())
	gw := &fakeGateway{}
	svc := newPaymentService(newFakeIntentStore(), gigStoreWith(gig), gw, nil)

	intent, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		GigID:   gig.ID,
		BuyerID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, gig.BasePrice, intent.Amount)
	assert.Equal(t, models.IntentStatusCreated, intent.Status)
	require.NotNil(t, intent.RedirectURL)
	require.NotNil(t, gw.lastCreate)
	assert.Equal(t, intent.Reference, gw.lastCreate.Reference)
}

func TestPaymentService_CreateIntent_PackagePrice(t *testing.T) {
	gig := testGig(uuid.New())
	pkg := models.GigPackage{ID: uuid.New(), GigID: gig.ID, Name: "premium", Price: 45000, DeliveryDays: 14}
	gig.Packages = []models.GigPackage{pkg}
	svc := newPaymentService(newFakeIntentStore(), gigStoreWith(gig), &fakeGateway{}, nil)

	intent, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		GigID:     gig.ID,
		BuyerID:   uuid.New(),
		PackageID: &pkg.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, pkg.Price, intent.Amount)

	// Чужой тариф отклоняется.
	foreign := uuid.New()
	_, err = svc.CreateIntent(context.Background(), CreateIntentInput{
		GigID:     gig.ID,
		BuyerID:   uuid.New(),
		PackageID: &foreign,
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_CreateIntent_MilestonePlanPrice(t *testing.T) {
	gig := testGig(uuid.New())
	svc := newPaymentService(newFakeIntentStore(), gigStoreWith(gig), &fakeGateway{}, nil)

	intent, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		GigID:      gig.ID,
		BuyerID:    uuid.New(),
		Milestones: planOf(8000, 12000),
	})
	require.NoError(t, err)
	assert.Equal(t, 20000.0, intent.Amount)

	// Этап с прошедшим дедлайном отклоняется.
	past := planOf(20000)
	past[0].DueDate = time.Now().AddDate(0, 0, -1)
	_, err = svc.CreateIntent(context.Background(), CreateIntentInput{
		GigID:      gig.ID,
		BuyerID:    uuid.New(),
		Milestones: past,
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_CreateIntent_Validation(t *testing.T) {
	sellerID := uuid.New()
	gig := testGig(sellerID)
	pkgID := uuid.New()
	svc := newPaymentService(newFakeIntentStore(), gigStoreWith(gig), &fakeGateway{}, nil)
	ctx := context.Background()

	// Тариф и план этапов одновременно.
	_, err := svc.CreateIntent(ctx, CreateIntentInput{
		GigID:      gig.ID,
		BuyerID:    uuid.New(),
		PackageID:  &pkgID,
		Milestones: planOf(20000),
	})
	assert.True(t, apperror.IsValidation(err))

	// Собственная услуга.
	_, err = svc.CreateIntent(ctx, CreateIntentInput{GigID: gig.ID, BuyerID: sellerID})
	assert.True(t, apperror.IsValidation(err))

	// Несуществующая услуга.
	_, err = svc.CreateIntent(ctx, CreateIntentInput{GigID: uuid.New(), BuyerID: uuid.New()})
	assert.True(t, apperror.IsNotFound(err))
}

func TestPaymentService_CreateIntent_SellerMilestonesConflict(t *testing.T) {
	gig := testGig(uuid.New())
	gig.Milestones = []models.GigMilestone{
		{ID: uuid.New(), GigID: gig.ID, Position: 1, Title: "Макет", Amount: 8000, DeliveryDays: 3},
		{ID: uuid.New(), GigID: gig.ID, Position: 2, Title: "Вёрстка", Amount: 12000, DeliveryDays: 4},
	}
	svc := newPaymentService(newFakeIntentStore(), gigStoreWith(gig), &fakeGateway{}, nil)

	// Покупательский план поверх авторских этапов запрещён.
	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		GigID:      gig.ID,
		BuyerID:    uuid.New(),
		Milestones: planOf(20000),
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_CreateIntent_InactiveGigAndGatewayDown(t *testing.T) {
	inactive := testGig(uuid.New())
	inactive.IsActive = false
	active := testGig(uuid.New())
	intents := newFakeIntentStore()
	gw := &fakeGateway{}
	svc := newPaymentService(intents, gigStoreWith(inactive, active), gw, nil)
	ctx := context.Background()

	_, err := svc.CreateIntent(ctx, CreateIntentInput{GigID: inactive.ID, BuyerID: uuid.New()})
	assert.True(t, apperror.IsInvalidState(err))

	// Сбой шлюза не оставляет намерения в хранилище.
	gw.createErr = errors.New("gateway: timeout")
	_, err = svc.CreateIntent(ctx, CreateIntentInput{GigID: active.ID, BuyerID: uuid.New()})
	assert.True(t, apperror.IsUpstream(err))
	assert.Empty(t, intents.intents)
}

func TestPaymentService_Confirm_CreatesOrderOnce(t *testing.T) {
	sellerID := uuid.New()
	buyerID := uuid.New()
	gig := testGig(sellerID)
	intents := newFakeIntentStore()
	gw := &fakeGateway{paid: true}

	orders := newFakeOrderStore()
	escrow := newEscrowService(orders, &captureSink{})
	svc := newPaymentService(intents, gigStoreWith(gig), gw, escrow)
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, CreateIntentInput{GigID: gig.ID, BuyerID: buyerID})
	require.NoError(t, err)

	order, err := svc.Confirm(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, order.EscrowStatus)
	assert.Equal(t, buyerID, order.BuyerID)
	assert.Equal(t, sellerID, order.SellerID)

	stored, err := intents.GetByReference(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusConfirmed, stored.Status)

	// Повторное подтверждение (повтор вебхука) возвращает тот же заказ.
	again, err := svc.Confirm(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)
}

func TestPaymentService_Confirm_MilestonePlanExpands(t *testing.T) {
	gig := testGig(uuid.New())
	intents := newFakeIntentStore()
	gw := &fakeGateway{paid: true}
	orders := newFakeOrderStore()
	escrow := newEscrowService(orders, &captureSink{})
	svc := newPaymentService(intents, gigStoreWith(gig), gw, escrow)
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, CreateIntentInput{
		GigID:      gig.ID,
		BuyerID:    uuid.New(),
		Milestones: planOf(8000, 12000),
	})
	require.NoError(t, err)

	order, err := svc.Confirm(ctx, intent.Reference)
	require.NoError(t, err)
	require.Len(t, order.Milestones, 2)
	assert.Equal(t, 8000.0, order.Milestones[0].Amount)
	assert.Equal(t, models.MilestoneStatusPending, order.Milestones[0].Status)
}

func TestPaymentService_Confirm_Failures(t *testing.T) {
	gig := testGig(uuid.New())
	intents := newFakeIntentStore()
	gw := &fakeGateway{}
	orders := newFakeOrderStore()
	escrow := newEscrowService(orders, &captureSink{})
	svc := newPaymentService(intents, gigStoreWith(gig), gw, escrow)
	ctx := context.Background()

	// Неизвестный reference.
	_, err := svc.Confirm(ctx, uuid.NewString())
	assert.True(t, apperror.IsNotFound(err))

	intent, err := svc.CreateIntent(ctx, CreateIntentInput{GigID: gig.ID, BuyerID: uuid.New()})
	require.NoError(t, err)

	// Сбой шлюза: намерение остаётся created, подтверждение можно повторить.
	gw.verifyErr = errors.New("gateway: 502")
	_, err = svc.Confirm(ctx, intent.Reference)
	assert.True(t, apperror.IsUpstream(err))
	stored, _ := intents.GetByReference(ctx, intent.Reference)
	assert.Equal(t, models.IntentStatusCreated, stored.Status)

	// Шлюз отвечает, но оплата не прошла: намерение помечается неуспешным.
	gw.verifyErr = nil
	gw.paid = false
	_, err = svc.Confirm(ctx, intent.Reference)
	assert.True(t, apperror.IsInvalidState(err))
	stored, _ = intents.GetByReference(ctx, intent.Reference)
	assert.Equal(t, models.IntentStatusFailed, stored.Status)
}
