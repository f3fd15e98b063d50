package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при нарушении уникальности reference.
	// Вызывающая сторона обязана трактовать его как "заказ уже создан",
	// а не как сбой: так закрывается гонка повторных платёжных колбэков.
	ErrOrderExists = errors.New("order already exists for reference")
)

// MutateFunc применяет переход состояния к загруженному агрегату.
// Функция обязана проверять предусловия до любых мутаций (check-then-act)
// и возвращает список доменных событий для диспетчера.
type MutateFunc func(order *models.Order) ([]models.Event, error)

// OrderRepository отвечает за агрегат заказа: сам заказ, этапы, сдачи,
// журнал доработок и материалы спора.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт новый экземпляр.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, reference, gig_id, buyer_id, seller_id, title, price, currency,
	escrow_status, is_completed, released_by,
	dispute_status, dispute_reason, dispute_details, dispute_initiator_id,
	dispute_opened_at, dispute_resolved_at, dispute_outcome, refund_amount,
	paid_at, work_submitted_at, expected_delivery_date, auto_release_at,
	created_at, updated_at`

// Create сохраняет новый заказ вместе с этапами. Дубликат reference
// превращается в ErrOrderExists, а не в ошибку базы.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("order repository: begin create %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			reference, gig_id, buyer_id, seller_id, title, price, currency,
			escrow_status, dispute_status, paid_at, expected_delivery_date, auto_release_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	row := tx.QueryRowxContext(ctx, query,
		order.Reference, order.GigID, order.BuyerID, order.SellerID, order.Title,
		order.Price, order.Currency, order.EscrowStatus, order.DisputeStatus,
		order.PaidAt, order.ExpectedDeliveryDate, order.AutoReleaseAt,
	)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return ErrOrderExists
		}
		return fmt.Errorf("order repository: create %w", err)
	}

	for i := range order.Milestones {
		m := &order.Milestones[i]
		m.OrderID = order.ID
		if err := insertMilestone(ctx, tx, m); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByID возвращает заказ со всеми связанными данными.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return loadOrder(ctx, r.db, `WHERE id = $1`, id)
}

// GetByReference возвращает заказ по платёжной ссылке.
// Используется проверкой идемпотентности при подтверждении оплаты.
func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	return loadOrder(ctx, r.db, `WHERE reference = $1`, reference)
}

// Mutate выполняет переход состояния под блокировкой строки заказа.
// SELECT ... FOR UPDATE гарантирует не более одного перехода на заказ
// одновременно: из двух конкурирующих приёмок выигрывает ровно одна.
// Изменённые этапы записываются адресно по (order_id, position) —
// целиком массив этапов никогда не перезаписывается.
func (r *OrderRepository) Mutate(ctx context.Context, orderID uuid.UUID, fn MutateFunc) (*models.Order, []models.Event, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("order repository: begin mutate %w", err)
	}
	defer tx.Rollback()

	var order models.Order
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &order, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, fmt.Errorf("order repository: lock order %w", err)
	}
	if err := loadChildren(ctx, tx, &order); err != nil {
		return nil, nil, err
	}

	snap := takeSnapshot(&order)

	events, err := fn(&order)
	if err != nil {
		return nil, nil, err
	}

	if err := persistOrderRow(ctx, tx, &order); err != nil {
		return nil, nil, err
	}
	if err := persistMilestones(ctx, tx, &order, snap); err != nil {
		return nil, nil, err
	}
	if err := persistDeliverables(ctx, tx, &order, snap); err != nil {
		return nil, nil, err
	}
	if err := persistAppendOnly(ctx, tx, &order, snap); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("order repository: commit mutate %w", err)
	}
	attachMilestoneDeliverables(&order)
	return &order, events, nil
}

// ListAutoReleasable возвращает кандидатов на автовыплату:
// работа сдана, спора нет, дедлайн приёмки прошёл.
func (r *OrderRepository) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
		SELECT id FROM orders
		WHERE escrow_status = $1 AND dispute_status = $2 AND auto_release_at <= $3
		ORDER BY auto_release_at
		LIMIT $4
	`
	err := r.db.SelectContext(ctx, &ids, query,
		models.EscrowStatusWorkSubmitted, models.DisputeStatusNone, now, limit)
	if err != nil {
		return nil, fmt.Errorf("order repository: list auto releasable %w", err)
	}
	return ids, nil
}

// ListByUser возвращает заказы пользователя как покупателя и как продавца.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, []models.Order, error) {
	var asBuyer, asSeller []models.Order
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &asBuyer, query, userID); err != nil {
		return nil, nil, fmt.Errorf("order repository: list as buyer %w", err)
	}
	query = `SELECT ` + orderColumns + ` FROM orders WHERE seller_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &asSeller, query, userID); err != nil {
		return nil, nil, fmt.Errorf("order repository: list as seller %w", err)
	}
	return asBuyer, asSeller, nil
}

// RegisterDownload фиксирует выдачу финального файла покупателю.
// Счётчику достаточно итоговой согласованности, блокировка не нужна.
func (r *OrderRepository) RegisterDownload(ctx context.Context, deliverableID uuid.UUID) error {
	query := `
		UPDATE deliverables
		SET download_count = download_count + 1, last_accessed_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, deliverableID); err != nil {
		return fmt.Errorf("order repository: register download %w", err)
	}
	return nil
}

// --- загрузка агрегата ---

func loadOrder(ctx context.Context, q sqlx.ExtContext, where string, arg any) (*models.Order, error) {
	var order models.Order
	query := `SELECT ` + orderColumns + ` FROM orders ` + where
	if err := sqlx.GetContext(ctx, q, &order, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order repository: load order %w", err)
	}
	if err := loadChildren(ctx, q, &order); err != nil {
		return nil, err
	}
	attachMilestoneDeliverables(&order)
	return &order, nil
}

func loadChildren(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	if err := sqlx.SelectContext(ctx, q, &order.Milestones, `
		SELECT order_id, position, title, description, amount, due_date, status,
		       client_feedback, submitted_at, approved_at
		FROM milestones WHERE order_id = $1 ORDER BY position
	`, order.ID); err != nil {
		return fmt.Errorf("order repository: load milestones %w", err)
	}

	if err := sqlx.SelectContext(ctx, q, &order.Deliverables, `
		SELECT id, order_id, milestone_position, file_name, file_size, preview_key, final_key,
		       access_level, revision_number, download_count, last_accessed_at,
		       uploaded_by, description, created_at
		FROM deliverables WHERE order_id = $1 ORDER BY created_at
	`, order.ID); err != nil {
		return fmt.Errorf("order repository: load deliverables %w", err)
	}

	if err := sqlx.SelectContext(ctx, q, &order.RevisionRequests, `
		SELECT id, order_id, milestone_position, reason, details, requested_by, requested_at
		FROM revision_requests WHERE order_id = $1 ORDER BY requested_at
	`, order.ID); err != nil {
		return fmt.Errorf("order repository: load revision requests %w", err)
	}

	if err := sqlx.SelectContext(ctx, q, &order.Evidence, `
		SELECT id, order_id, author_id, note, file_key, created_at
		FROM dispute_evidence WHERE order_id = $1 ORDER BY created_at
	`, order.ID); err != nil {
		return fmt.Errorf("order repository: load evidence %w", err)
	}
	return nil
}

// attachMilestoneDeliverables раскладывает сдачи по этапам для удобства чтения.
func attachMilestoneDeliverables(order *models.Order) {
	for i := range order.Milestones {
		m := &order.Milestones[i]
		m.Deliverables = m.Deliverables[:0]
		for _, d := range order.Deliverables {
			if d.MilestonePosition != nil && *d.MilestonePosition == m.Position {
				m.Deliverables = append(m.Deliverables, d)
			}
		}
	}
}

// --- запись изменений ---

type aggregateSnapshot struct {
	milestones   map[int]models.Milestone
	deliverables map[uuid.UUID]models.Deliverable
	revisions    int
	evidence     int
}

func takeSnapshot(order *models.Order) aggregateSnapshot {
	snap := aggregateSnapshot{
		milestones:   make(map[int]models.Milestone, len(order.Milestones)),
		deliverables: make(map[uuid.UUID]models.Deliverable, len(order.Deliverables)),
		revisions:    len(order.RevisionRequests),
		evidence:     len(order.Evidence),
	}
	for _, m := range order.Milestones {
		snap.milestones[m.Position] = m
	}
	for _, d := range order.Deliverables {
		snap.deliverables[d.ID] = d
	}
	return snap
}

func persistOrderRow(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		UPDATE orders SET
			escrow_status = $2, is_completed = $3, released_by = $4,
			dispute_status = $5, dispute_reason = $6, dispute_details = $7,
			dispute_initiator_id = $8, dispute_opened_at = $9, dispute_resolved_at = $10,
			dispute_outcome = $11, refund_amount = $12,
			work_submitted_at = $13, expected_delivery_date = $14, auto_release_at = $15,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query,
		order.ID, order.EscrowStatus, order.IsCompleted, order.ReleasedBy,
		order.DisputeStatus, order.DisputeReason, order.DisputeDetails,
		order.DisputeInitiatorID, order.DisputeOpenedAt, order.DisputeResolvedAt,
		order.DisputeOutcome, order.RefundAmount,
		order.WorkSubmittedAt, order.ExpectedDeliveryDate, order.AutoReleaseAt,
	)
	if err != nil {
		return fmt.Errorf("order repository: update order %w", err)
	}
	return nil
}

// persistMilestones записывает только затронутые этапы, адресуя каждый
// по (order_id, position). Суммы и дедлайны этапов неизменяемы после
// создания и потому не входят в UPDATE.
func persistMilestones(ctx context.Context, tx *sqlx.Tx, order *models.Order, snap aggregateSnapshot) error {
	for i := range order.Milestones {
		m := &order.Milestones[i]
		prev, existed := snap.milestones[m.Position]
		if !existed {
			m.OrderID = order.ID
			if err := insertMilestone(ctx, tx, m); err != nil {
				return err
			}
			continue
		}
		if milestoneUnchanged(&prev, m) {
			continue
		}
		query := `
			UPDATE milestones
			SET status = $3, client_feedback = $4, submitted_at = $5, approved_at = $6
			WHERE order_id = $1 AND position = $2
		`
		if _, err := tx.ExecContext(ctx, query,
			order.ID, m.Position, m.Status, m.ClientFeedback, m.SubmittedAt, m.ApprovedAt,
		); err != nil {
			return fmt.Errorf("order repository: update milestone %d %w", m.Position, err)
		}
	}
	return nil
}

func milestoneUnchanged(a, b *models.Milestone) bool {
	return a.Status == b.Status &&
		equalStrPtr(a.ClientFeedback, b.ClientFeedback) &&
		equalTimePtr(a.SubmittedAt, b.SubmittedAt) &&
		equalTimePtr(a.ApprovedAt, b.ApprovedAt)
}

func insertMilestone(ctx context.Context, tx *sqlx.Tx, m *models.Milestone) error {
	query := `
		INSERT INTO milestones (order_id, position, title, description, amount, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, query,
		m.OrderID, m.Position, m.Title, m.Description, m.Amount, m.DueDate, m.Status,
	); err != nil {
		return fmt.Errorf("order repository: insert milestone %d %w", m.Position, err)
	}
	return nil
}

func persistDeliverables(ctx context.Context, tx *sqlx.Tx, order *models.Order, snap aggregateSnapshot) error {
	for i := range order.Deliverables {
		d := &order.Deliverables[i]
		prev, existed := snap.deliverables[d.ID]
		if !existed {
			query := `
				INSERT INTO deliverables (
					id, order_id, milestone_position, file_name, file_size,
					preview_key, final_key, access_level, revision_number,
					uploaded_by, description
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`
			if _, err := tx.ExecContext(ctx, query,
				d.ID, order.ID, d.MilestonePosition, d.FileName, d.FileSize,
				d.PreviewKey, d.FinalKey, d.AccessLevel, d.RevisionNumber,
				d.UploadedBy, d.Description,
			); err != nil {
				return fmt.Errorf("order repository: insert deliverable %w", err)
			}
			continue
		}
		if prev.AccessLevel == d.AccessLevel {
			continue
		}
		query := `UPDATE deliverables SET access_level = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, d.ID, d.AccessLevel); err != nil {
			return fmt.Errorf("order repository: update deliverable access %w", err)
		}
	}
	return nil
}

func persistAppendOnly(ctx context.Context, tx *sqlx.Tx, order *models.Order, snap aggregateSnapshot) error {
	for i := snap.revisions; i < len(order.RevisionRequests); i++ {
		rr := &order.RevisionRequests[i]
		query := `
			INSERT INTO revision_requests (id, order_id, milestone_position, reason, details, requested_by, requested_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.ExecContext(ctx, query,
			rr.ID, order.ID, rr.MilestonePosition, rr.Reason, rr.Details, rr.RequestedBy, rr.RequestedAt,
		); err != nil {
			return fmt.Errorf("order repository: insert revision request %w", err)
		}
	}
	for i := snap.evidence; i < len(order.Evidence); i++ {
		ev := &order.Evidence[i]
		query := `
			INSERT INTO dispute_evidence (id, order_id, author_id, note, file_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.ExecContext(ctx, query,
			ev.ID, order.ID, ev.AuthorID, ev.Note, ev.FileKey, ev.CreatedAt,
		); err != nil {
			return fmt.Errorf("order repository: insert evidence %w", err)
		}
	}
	return nil
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
