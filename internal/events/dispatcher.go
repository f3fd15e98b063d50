// Package events доставляет доменные события после фиксации перехода.
// Доставка строго fire-and-forget: переход уже записан, любой сбой
// здесь логируется и глотается.
package events

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
)

// Notifier — канал уведомлений пользователю (WebSocket hub).
type Notifier interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// StatsWriter применяет изменения статистики участников.
type StatsWriter interface {
	ApplyTrustDelta(ctx context.Context, userID uuid.UUID, delta float64) error
	IncrementCompleted(ctx context.Context, userID uuid.UUID) error
	IncrementPartialFault(ctx context.Context, userID uuid.UUID) error
	IncrementDisputeResolved(ctx context.Context, userID uuid.UUID) error
}

// Dispatcher разводит события по получателям: уведомления в hub,
// trust-события в статистику.
type Dispatcher struct {
	notifier Notifier
	stats    StatsWriter
}

// NewDispatcher создаёт диспетчер. Оба получателя опциональны:
// nil получатель просто пропускает свои события.
func NewDispatcher(notifier Notifier, stats StatsWriter) *Dispatcher {
	return &Dispatcher{notifier: notifier, stats: stats}
}

// Dispatch доставляет события в фоне.
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.Event) {
	if len(events) == 0 {
		return
	}
	// Контекст запроса к моменту доставки может быть уже отменён.
	detached := context.WithoutCancel(ctx)
	for _, event := range events {
		ev := event
		goroutine.SafeGo(func() {
			d.deliver(detached, ev)
		})
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.Event) {
	if strings.HasPrefix(ev.Type, "trust.") {
		d.deliverStats(ctx, ev)
		return
	}
	if d.notifier == nil {
		return
	}
	payload := map[string]any{"order_id": ev.OrderID}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	if err := d.notifier.BroadcastToUser(ev.UserID, ev.Type, payload); err != nil {
		logger.Log.WithFields(map[string]any{
			"event":   ev.Type,
			"user_id": ev.UserID,
		}).WithError(err).Warn("уведомление не доставлено")
	}
}

func (d *Dispatcher) deliverStats(ctx context.Context, ev models.Event) {
	if d.stats == nil {
		return
	}
	var err error
	switch ev.Type {
	case models.EventTrustDelta:
		delta, _ := ev.Payload["delta"].(float64)
		err = d.stats.ApplyTrustDelta(ctx, ev.UserID, delta)
		if err == nil {
			err = d.stats.IncrementDisputeResolved(ctx, ev.UserID)
		}
	case models.EventOrderCompleted:
		err = d.stats.IncrementCompleted(ctx, ev.UserID)
	case models.EventPartialFault:
		err = d.stats.IncrementPartialFault(ctx, ev.UserID)
		if err == nil {
			err = d.stats.IncrementDisputeResolved(ctx, ev.UserID)
		}
	}
	if err != nil {
		logger.Log.WithFields(map[string]any{
			"event":   ev.Type,
			"user_id": ev.UserID,
		}).WithError(err).Warn("статистика участника не обновлена")
	}
}
