package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"inbox-matching-service/internal/models"
	apperrors "inbox-matching-service/pkg/errors"
)

// SaveInboxItem inserts or replaces an inbox item
func (s *Store) SaveInboxItem(ctx context.Context, item *models.InboxItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_items (id, tenant_id, display_name, amount_minor, currency,
			doc_date, merchant_name, free_text, status, status_reason,
			matched_transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			amount_minor = excluded.amount_minor,
			currency = excluded.currency,
			doc_date = excluded.doc_date,
			merchant_name = excluded.merchant_name,
			free_text = excluded.free_text,
			status = excluded.status,
			status_reason = excluded.status_reason,
			matched_transaction_id = excluded.matched_transaction_id`,
		item.ID, item.TenantID, item.DisplayName,
		item.Extracted.AmountMinor, item.Extracted.Currency, item.Extracted.Date,
		item.Extracted.MerchantName, item.Extracted.FreeText,
		string(item.Status), item.StatusReason,
		item.MatchedTransactionID, item.CreatedAt)
	if err != nil {
		return apperrors.StorageError("save inbox item", err)
	}
	return nil
}

// GetInboxItem loads one inbox item scoped to the tenant
func (s *Store) GetInboxItem(ctx context.Context, tenantID, inboxID string) (*models.InboxItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, display_name, amount_minor, currency, doc_date,
			merchant_name, free_text, status, status_reason,
			matched_transaction_id, created_at
		FROM inbox_items
		WHERE id = ? AND tenant_id = ?`, inboxID, tenantID)

	item, err := scanInboxItem(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("inbox item", inboxID)
	}
	if err != nil {
		return nil, apperrors.StorageError("get inbox item", err)
	}
	return item, nil
}

// ListInboxItemsInWindow returns the tenant's items whose document date (or
// creation date, for undated items) falls inside [from, to]
func (s *Store) ListInboxItemsInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.InboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, display_name, amount_minor, currency, doc_date,
			merchant_name, free_text, status, status_reason,
			matched_transaction_id, created_at
		FROM inbox_items
		WHERE tenant_id = ?
		  AND COALESCE(doc_date, created_at) >= ?
		  AND COALESCE(doc_date, created_at) <= ?
		ORDER BY id`, tenantID, from, to)
	if err != nil {
		return nil, apperrors.StorageError("list inbox items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.InboxItem
	for rows.Next() {
		item, err := scanInboxItem(rows)
		if err != nil {
			return nil, apperrors.StorageError("scan inbox item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("iterate inbox items", err)
	}
	return items, nil
}

// UpdateInboxStatus transitions an item's status after validating the
// transition against the state machine
func (s *Store) UpdateInboxStatus(ctx context.Context, tenantID, inboxID string, status models.InboxStatus, reason string) error {
	item, err := s.GetInboxItem(ctx, tenantID, inboxID)
	if err != nil {
		return err
	}
	if !item.Status.CanTransitionTo(status) {
		return apperrors.ValidationError("status", string(status),
			fmt.Sprintf("invalid transition from %s", item.Status))
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE inbox_items SET status = ?, status_reason = ?
		WHERE id = ? AND tenant_id = ?`,
		string(status), reason, inboxID, tenantID)
	if err != nil {
		return apperrors.StorageError("update inbox status", err)
	}
	return nil
}

// MarkSuggested moves an item to suggested_match unless it is already
// matched, for candidates surfaced by the transaction-direction search.
// The write skips the processing hop; the "not matched" guard is equivalent
// to the transition predicate here because every other status can reach
// suggested_match through processing (see InboxStatus.CanTransitionTo).
func (s *Store) MarkSuggested(ctx context.Context, tenantID, inboxID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbox_items SET status = ?, status_reason = ?
		WHERE id = ? AND tenant_id = ? AND status != ?`,
		string(models.InboxStatusSuggestedMatch), reason,
		inboxID, tenantID, string(models.InboxStatusMatched))
	if err != nil {
		return apperrors.StorageError("mark item suggested", err)
	}
	return nil
}

// SaveTransaction inserts or replaces a bank transaction
func (s *Store) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, tenant_id, amount_minor, currency, tx_date,
			counterparty_text, matched_inbox_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_minor = excluded.amount_minor,
			currency = excluded.currency,
			tx_date = excluded.tx_date,
			counterparty_text = excluded.counterparty_text,
			matched_inbox_id = excluded.matched_inbox_id`,
		tx.ID, tx.TenantID, tx.AmountMinor, tx.Currency, tx.Date,
		tx.CounterpartyText, tx.MatchedInboxID, tx.CreatedAt)
	if err != nil {
		return apperrors.StorageError("save transaction", err)
	}
	return nil
}

// GetTransaction loads one transaction scoped to the tenant
func (s *Store) GetTransaction(ctx context.Context, tenantID, transactionID string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, amount_minor, currency, tx_date,
			counterparty_text, matched_inbox_id, created_at
		FROM transactions
		WHERE id = ? AND tenant_id = ?`, transactionID, tenantID)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("transaction", transactionID)
	}
	if err != nil {
		return nil, apperrors.StorageError("get transaction", err)
	}
	return tx, nil
}

// ListTransactionsInWindow returns the tenant's transactions dated inside
// [from, to]
func (s *Store) ListTransactionsInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, amount_minor, currency, tx_date,
			counterparty_text, matched_inbox_id, created_at
		FROM transactions
		WHERE tenant_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY id`, tenantID, from, to)
	if err != nil {
		return nil, apperrors.StorageError("list transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, apperrors.StorageError("scan transaction", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("iterate transactions", err)
	}
	return txs, nil
}

// scanner abstracts sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInboxItem(row scanner) (*models.InboxItem, error) {
	var item models.InboxItem
	var amountMinor sql.NullInt64
	var docDate sql.NullTime
	var matchedTx sql.NullString
	var status string

	err := row.Scan(&item.ID, &item.TenantID, &item.DisplayName,
		&amountMinor, &item.Extracted.Currency, &docDate,
		&item.Extracted.MerchantName, &item.Extracted.FreeText,
		&status, &item.StatusReason, &matchedTx, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	item.Status = models.InboxStatus(status)
	if amountMinor.Valid {
		v := amountMinor.Int64
		item.Extracted.AmountMinor = &v
	}
	if docDate.Valid {
		d := docDate.Time
		item.Extracted.Date = &d
	}
	if matchedTx.Valid {
		id := matchedTx.String
		item.MatchedTransactionID = &id
	}
	return &item, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var tx models.Transaction
	var matchedInbox sql.NullString

	err := row.Scan(&tx.ID, &tx.TenantID, &tx.AmountMinor, &tx.Currency,
		&tx.Date, &tx.CounterpartyText, &matchedInbox, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	if matchedInbox.Valid {
		id := matchedInbox.String
		tx.MatchedInboxID = &id
	}
	return &tx, nil
}
