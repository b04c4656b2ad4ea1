package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

// Create сохраняет платёж. Уникальный индекс по order_id защищает от
// дублирующей записи при повторной доставке события.
func (r *paymentRepository) Create(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}

	var processedAt sql.NullTime
	if !payment.ProcessedAt.IsZero() {
		processedAt = sql.NullTime{Time: payment.ProcessedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, user_id, amount_minor, currency,
			method, status, failure_reason, created_at, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		payment.ID, payment.OrderID, payment.UserID, payment.AmountMinor, payment.Currency,
		payment.Method, string(payment.Status), payment.FailureReason, payment.CreatedAt, processedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) GetByOrder(orderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		payment     domain.Payment
		status      string
		processedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, user_id, amount_minor, currency,
		       method, status, failure_reason, created_at, processed_at
		FROM payments
		WHERE order_id = $1
	`, orderID).Scan(
		&payment.ID, &payment.OrderID, &payment.UserID, &payment.AmountMinor, &payment.Currency,
		&payment.Method, &status, &payment.FailureReason, &payment.CreatedAt, &processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	payment.Status = domain.PaymentStatus(status)
	if processedAt.Valid {
		payment.ProcessedAt = processedAt.Time
	}

	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
