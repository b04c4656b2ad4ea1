package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Get(productID string) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rec domain.StockRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, name, price_minor, image_url, available, updated_at
		FROM products
		WHERE product_id = $1
	`, productID).Scan(
		&rec.ProductID, &rec.Name, &rec.PriceMinor, &rec.ImageURL, &rec.Available, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrProductUnavailable
		}
		return domain.StockRecord{}, fmt.Errorf("select product: %w", err)
	}

	return rec, nil
}

// ReserveAll списывает сток по всем позициям одной транзакцией. Строки
// блокируются через SELECT FOR UPDATE, чтобы конкурентные резервы по одним
// и тем же товарам не ушли в минус. Дефицит хотя бы по одной позиции
// откатывает всё и возвращает список отказавших товаров.
func (r *stockRepository) ReserveAll(orderID string, lines []domain.ReservationLine) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// FOR UPDATE берётся в порядке возрастания product_id: пересекающиеся
	// конкурентные резервы блокируют строки в одном порядке и не
	// взаимоблокируются.
	lines = sortedByProduct(lines)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Повторная доставка: ledger уже содержит строки этого заказа.
	var existing int
	if err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations WHERE order_id = $1
	`, orderID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("check existing reservation: %w", err)
	}
	if existing > 0 {
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit noop reservation: %w", err)
		}
		return nil, nil
	}

	var failed []string
	for _, line := range lines {
		var available int32
		scanErr := tx.QueryRowContext(ctx, `
			SELECT available FROM products WHERE product_id = $1 FOR UPDATE
		`, line.ProductID).Scan(&available)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				failed = append(failed, line.ProductID)
				continue
			}
			err = fmt.Errorf("lock product row: %w", scanErr)
			return nil, err
		}
		if available < line.Qty {
			failed = append(failed, line.ProductID)
		}
	}
	if len(failed) > 0 {
		_ = tx.Rollback()
		return failed, nil
	}

	now := time.Now().UTC()
	for _, line := range lines {
		if _, err = tx.ExecContext(ctx, `
			UPDATE products
			SET available = available - $2,
			    updated_at = $3
			WHERE product_id = $1
		`, line.ProductID, line.Qty, now); err != nil {
			return nil, fmt.Errorf("debit product stock: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (order_id, product_id, qty, created_at)
			VALUES ($1,$2,$3,$4)
		`, orderID, line.ProductID, line.Qty, now); err != nil {
			return nil, fmt.Errorf("insert reservation ledger row: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	return nil, nil
}

// Restore начисляет сток обратно строго по строкам ledger и удаляет их.
func (r *stockRepository) Restore(orderID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM reservations
		WHERE order_id = $1
		FOR UPDATE
	`, orderID)
	if err != nil {
		return 0, fmt.Errorf("select reservation ledger: %w", err)
	}

	type ledgerRow struct {
		productID string
		qty       int32
	}
	ledger := make([]ledgerRow, 0)
	for rows.Next() {
		var row ledgerRow
		if err = rows.Scan(&row.productID, &row.qty); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan reservation row: %w", err)
		}
		ledger = append(ledger, row)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate reservation rows: %w", err)
	}
	rows.Close()

	if len(ledger) == 0 {
		if err = tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit noop restore: %w", err)
		}
		return 0, nil
	}

	now := time.Now().UTC()
	for _, row := range ledger {
		if _, err = tx.ExecContext(ctx, `
			UPDATE products
			SET available = available + $2,
			    updated_at = $3
			WHERE product_id = $1
		`, row.productID, row.qty, now); err != nil {
			return 0, fmt.Errorf("credit product stock: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM reservations WHERE order_id = $1
	`, orderID); err != nil {
		return 0, fmt.Errorf("delete reservation ledger: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit restore: %w", err)
	}

	return len(ledger), nil
}

// sortedByProduct возвращает копию позиций, упорядоченную по product_id.
// Исходный срез не меняется.
func sortedByProduct(lines []domain.ReservationLine) []domain.ReservationLine {
	sorted := append([]domain.ReservationLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}

var _ domain.StockRepository = (*stockRepository)(nil)
