// README: Transaction store backed by PostgreSQL; CAS transitions keyed by status and version.
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"autoszkola/internal/infra"
)

type Store struct {
	db infra.DB
}

func NewStore(db infra.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to a caller-owned transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// Create persists the transaction and its items together. Must run
// inside a caller transaction (use WithTx) so a failed item insert
// leaves nothing behind.
func (s *Store) Create(ctx context.Context, t *Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions (
			id, school_id, course_id, payer_name, payer_email,
			total_amount, currency, status, status_version,
			registered_at, updated_at, external_id, title, payment_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9, $10, $11, $12)`,
		t.ID, t.SchoolID, t.CourseID, t.PayerName, t.PayerEmail,
		t.Total.Amount, t.Total.Currency, string(t.Status),
		t.RegisteredAt, t.ExternalID, t.Title, t.PaymentURL,
	)
	if err != nil {
		return errors.Wrap(err, "create transaction")
	}

	for i := range t.Items {
		item := &t.Items[i]
		err := s.db.QueryRow(ctx, `
			INSERT INTO transaction_items (
				transaction_id, item_type, name, quantity, unit_price, total, related_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			t.ID, string(item.Type), item.Name, item.Quantity,
			item.UnitPrice.Amount, item.Total.Amount, item.RelatedID,
		).Scan(&item.ID)
		if err != nil {
			return errors.Wrap(err, "create transaction item")
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, school_id, course_id, payer_name, payer_email,
		       total_amount, currency, status, status_version,
		       registered_at, completed_at, updated_at, external_id, title, payment_url
		FROM transactions
		WHERE id = $1`, id,
	)
	return s.scanWithItems(ctx, row)
}

// GetByTitle resolves the provider's transaction title from a webhook.
func (s *Store) GetByTitle(ctx context.Context, title string) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, school_id, course_id, payer_name, payer_email,
		       total_amount, currency, status, status_version,
		       registered_at, completed_at, updated_at, external_id, title, payment_url
		FROM transactions
		WHERE title = $1`, title,
	)
	return s.scanWithItems(ctx, row)
}

// UpdateStatus is the CAS every settlement transition goes through.
// Completion stamps completed_at; cancellation clears the course
// reference.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE transactions
		SET status = $1,
		    status_version = status_version + 1,
		    updated_at = $2,
		    completed_at = CASE WHEN $1 = 'complete' THEN $2 ELSE completed_at END,
		    course_id = CASE WHEN $1 = 'canceled' THEN NULL ELSE course_id END
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to), now, id, string(from), version,
	)
	if err != nil {
		return false, errors.Wrap(err, "update transaction status")
	}
	return tag.RowsAffected() == 1, nil
}

// ListRegisteredBefore returns transactions still pending past the
// cutoff; the sweeper cancels them.
func (s *Store) ListRegisteredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM transactions
		WHERE status = 'registered' AND registered_at < $1
		ORDER BY registered_at`, cutoff,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list overdue transactions")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan transaction id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) scanWithItems(ctx context.Context, row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.SchoolID, &t.CourseID, &t.PayerName, &t.PayerEmail,
		&t.Total.Amount, &t.Total.Currency, &t.Status, &t.StatusVersion,
		&t.RegisteredAt, &t.CompletedAt, &t.UpdatedAt, &t.ExternalID, &t.Title, &t.PaymentURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan transaction")
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, transaction_id, item_type, name, quantity, unit_price, total, related_id
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id`, t.ID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load transaction items")
	}
	defer rows.Close()

	for rows.Next() {
		var item TransactionItem
		if err := rows.Scan(
			&item.ID, &item.TransactionID, &item.Type, &item.Name,
			&item.Quantity, &item.UnitPrice.Amount, &item.Total.Amount, &item.RelatedID,
		); err != nil {
			return nil, errors.Wrap(err, "scan transaction item")
		}
		item.UnitPrice.Currency = t.Total.Currency
		item.Total.Currency = t.Total.Currency
		t.Items = append(t.Items, item)
	}
	return &t, rows.Err()
}
