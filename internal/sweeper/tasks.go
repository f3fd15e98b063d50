// Package sweeper — фоновые задачи автовыплаты поверх asynq.
// Планировщик воркера периодически ставит задачу прохода; обработчик
// вызывает SweepService, который выплачивает каждого кандидата независимо.
package sweeper

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// TaskAutoRelease — тип задачи планового прохода автовыплаты.
const TaskAutoRelease = "escrow:auto_release"

// Sweeper запускает проход автовыплаты.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Processor обрабатывает задачи воркера.
type Processor struct {
	sweep Sweeper
}

// NewProcessor создаёт обработчик.
func NewProcessor(sweep Sweeper) *Processor {
	return &Processor{sweep: sweep}
}

// Handler собирает mux обработчиков asynq.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAutoRelease, p.handleAutoRelease)
	return mux
}

func (p *Processor) handleAutoRelease(ctx context.Context, _ *asynq.Task) error {
	released, err := p.sweep.Sweep(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("проход автовыплаты не выполнен")
		return err
	}
	if released > 0 {
		logger.Log.WithField("released", released).Info("проход автовыплаты завершён")
	}
	return nil
}
