package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/multiclube/internal/domain"
)

// ErrNotFound is returned when no sale matches the lookup.
var ErrNotFound = errors.New("store: sale not found")

// SaleStore persists completed sales.
type SaleStore struct {
	db *DB
}

// NewSaleStore creates a sale store using the given database.
func NewSaleStore(db *DB) *SaleStore {
	return &SaleStore{db: db}
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	VisitDate string
	Document  string
	Limit     int // defaults to 50
}

// PersistSale inserts rec and returns its id. An empty rec.ID gets a new
// UUID; a zero CreatedAt is set to now.
func (s *SaleStore) PersistSale(ctx context.Context, rec domain.SaleRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	items, err := json.Marshal(rec.Items)
	if err != nil {
		return "", fmt.Errorf("encoding items: %w", err)
	}
	var payment sql.NullString
	if len(rec.Payment) > 0 {
		payment = sql.NullString{String: string(rec.Payment), Valid: true}
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO sales (id, transaction_key, provider_sale_id, visit_date,
		                    buyer_name, buyer_document, buyer_email, buyer_phone,
		                    items, total_cents, payment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TransactionKey, rec.ProviderSaleID, rec.VisitDate,
		rec.Buyer.Name, rec.Buyer.Document, rec.Buyer.Email, rec.Buyer.Phone,
		string(items), toCents(rec.Total), payment,
		rec.CreatedAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return "", fmt.Errorf("inserting sale: %w", err)
	}

	s.db.log.Debug().Str("id", rec.ID).Str("key", rec.TransactionKey).Msg("sale persisted")
	return rec.ID, nil
}

const saleColumns = `id, transaction_key, provider_sale_id, visit_date,
	buyer_name, buyer_document, buyer_email, buyer_phone,
	items, total_cents, payment, created_at`

// Get returns the sale with the given id.
func (s *SaleStore) Get(ctx context.Context, id string) (*domain.SaleRecord, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	return scanSale(row)
}

// GetByTransactionKey returns the sale completed under key.
func (s *SaleStore) GetByTransactionKey(ctx context.Context, key string) (*domain.SaleRecord, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE transaction_key = ?`, key)
	return scanSale(row)
}

// List returns sales newest first.
func (s *SaleStore) List(ctx context.Context, f ListFilter) ([]domain.SaleRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
	var args []any
	if f.VisitDate != "" {
		query += ` AND visit_date = ?`
		args = append(args, f.VisitDate)
	}
	if f.Document != "" {
		query += ` AND buyer_document = ?`
		args = append(args, f.Document)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []domain.SaleRecord
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *rec)
	}
	return sales, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSale(sc scanner) (*domain.SaleRecord, error) {
	var rec domain.SaleRecord
	var items, createdAt string
	var totalCents int64
	var payment sql.NullString

	err := sc.Scan(
		&rec.ID, &rec.TransactionKey, &rec.ProviderSaleID, &rec.VisitDate,
		&rec.Buyer.Name, &rec.Buyer.Document, &rec.Buyer.Email, &rec.Buyer.Phone,
		&items, &totalCents, &payment, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(items), &rec.Items); err != nil {
		return nil, fmt.Errorf("decoding items of sale %s: %w", rec.ID, err)
	}
	rec.Total = float64(totalCents) / 100
	if payment.Valid {
		rec.Payment = json.RawMessage(payment.String)
	}
	rec.CreatedAt, _ = time.ParseInLocation(time.DateTime, createdAt, time.UTC)
	return &rec, nil
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}
