package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

// fakeOrderStore — хранилище заказов в памяти. Выполняет функции переходов
// так же, как настоящий репозиторий: над копией агрегата с фиксацией
// только при успехе.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	byRef  map[string]uuid.UUID

	// mutateErr подменяет результат Mutate для конкретных заказов.
	mutateErr map[uuid.UUID]error

	// refMisses заставляет следующие N вызовов GetByReference промахнуться.
	// Моделирует гонку колбэков: проверка ещё не видит заказ,
	// а вставка уже натыкается на дубликат.
	refMisses int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:    make(map[uuid.UUID]*models.Order),
		byRef:     make(map[string]uuid.UUID),
		mutateErr: make(map[uuid.UUID]error),
	}
}

func (f *fakeOrderStore) seed(order *models.Order) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	f.orders[order.ID] = cloneOrder(order)
	if order.Reference != "" {
		f.byRef[order.Reference] = order.ID
	}
	return order
}

func (f *fakeOrderStore) Create(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byRef[order.Reference]; exists {
		return repository.ErrOrderExists
	}
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Milestones {
		order.Milestones[i].OrderID = order.ID
	}
	f.orders[order.ID] = cloneOrder(order)
	f.byRef[order.Reference] = order.ID
	return nil
}

func (f *fakeOrderStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (f *fakeOrderStore) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refMisses > 0 {
		f.refMisses--
		return nil, repository.ErrOrderNotFound
	}
	id, ok := f.byRef[reference]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(f.orders[id]), nil
}

func (f *fakeOrderStore) Mutate(ctx context.Context, orderID uuid.UUID, fn repository.MutateFunc) (*models.Order, []models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.mutateErr[orderID]; ok {
		return nil, nil, err
	}
	stored, ok := f.orders[orderID]
	if !ok {
		return nil, nil, repository.ErrOrderNotFound
	}

	working := cloneOrder(stored)
	events, err := fn(working)
	if err != nil {
		return nil, nil, err
	}
	f.orders[orderID] = cloneOrder(working)
	return working, events, nil
}

func (f *fakeOrderStore) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, order := range f.orders {
		if order.EscrowStatus == models.EscrowStatusWorkSubmitted &&
			order.DisputeStatus == models.DisputeStatusNone &&
			order.AutoReleaseAt != nil && !order.AutoReleaseAt.After(now) {
			ids = append(ids, id)
		}
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeOrderStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, []models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var asBuyer, asSeller []models.Order
	for _, order := range f.orders {
		if order.BuyerID == userID {
			asBuyer = append(asBuyer, *cloneOrder(order))
		}
		if order.SellerID == userID {
			asSeller = append(asSeller, *cloneOrder(order))
		}
	}
	return asBuyer, asSeller, nil
}

func (f *fakeOrderStore) RegisterDownload(ctx context.Context, deliverableID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		for i := range order.Deliverables {
			if order.Deliverables[i].ID == deliverableID {
				order.Deliverables[i].DownloadCount++
				return nil
			}
		}
	}
	return nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Deliverables = append([]models.Deliverable(nil), o.Deliverables...)
	c.Milestones = append([]models.Milestone(nil), o.Milestones...)
	c.RevisionRequests = append([]models.RevisionRequest(nil), o.RevisionRequests...)
	c.Evidence = append([]models.DisputeEvidence(nil), o.Evidence...)
	return &c
}

// captureSink копит доставленные события.
type captureSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *captureSink) Dispatch(ctx context.Context, events []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

// stubSettings отдаёт фиксированный снимок политик.
type stubSettings struct {
	settings models.Settings
}

func (s *stubSettings) Snapshot(ctx context.Context) models.Settings {
	return s.settings
}

func defaultStubSettings() *stubSettings {
	return &stubSettings{settings: models.DefaultSettings()}
}

// fundedOrder собирает оплаченный заказ для тестов.
func fundedOrder(buyerID, sellerID uuid.UUID) *models.Order {
	paidAt := time.Now().Add(-time.Hour)
	release := paidAt.AddDate(0, 0, 10)
	return &models.Order{
		Reference:     uuid.NewString(),
		GigID:         uuid.New(),
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Title:         "Дизайн лендинга",
		Price:         20000,
		Currency:      "RUB",
		EscrowStatus:  models.EscrowStatusFunded,
		DisputeStatus: models.DisputeStatusNone,
		PaidAt:        paidAt,
		AutoReleaseAt: &release,
	}
}

func testFiles(n int) []DeliverableInput {
	files := make([]DeliverableInput, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, DeliverableInput{
			FileName:   "result.png",
			FileSize:   1024,
			PreviewKey: uuid.NewString(),
			FinalKey:   uuid.NewString(),
		})
	}
	return files
}
