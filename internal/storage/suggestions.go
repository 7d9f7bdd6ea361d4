package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"inbox-matching-service/internal/models"
	apperrors "inbox-matching-service/pkg/errors"
)

// withTx runs fn inside a transaction, rolling back on error
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.StorageError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.StorageError("commit transaction", err)
	}
	return nil
}

// ReplaceOpenSuggestions replaces the undecided suggestions for an inbox item
// with a freshly ranked set. Decided suggestions are kept as calibration
// history; a re-proposed pairing that was already declined stays declined.
// Each given suggestion is updated in place with the surviving row's id and
// decision, so callers always hold the id that actually exists and can see
// when a pairing carries a prior decision.
func (s *Store) ReplaceOpenSuggestions(ctx context.Context, tenantID, inboxID string, suggestions []*models.MatchSuggestion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM match_suggestions
			WHERE tenant_id = ? AND inbox_id = ? AND status = ?`,
			tenantID, inboxID, string(models.SuggestionStatusSuggested))
		if err != nil {
			return apperrors.StorageError("clear open suggestions", err)
		}

		for _, sg := range suggestions {
			if err := upsertSuggestionTx(ctx, tx, sg); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddSuggestions upserts suggestions without touching existing ones, used by
// the transaction-direction search where candidates span multiple inbox
// items. A pairing that was already decided keeps its decision; as with
// ReplaceOpenSuggestions, each suggestion is updated in place with the
// surviving row's id and decision.
func (s *Store) AddSuggestions(ctx context.Context, suggestions []*models.MatchSuggestion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sg := range suggestions {
			if err := upsertSuggestionTx(ctx, tx, sg); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertSuggestionTx inserts a suggestion or, when the pairing already has a
// row, refreshes that row's confidence. The surviving row's id, status and
// decision fields are written back into sg.
func upsertSuggestionTx(ctx context.Context, tx *sql.Tx, sg *models.MatchSuggestion) error {
	if err := sg.Validate(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_suggestions (id, tenant_id, inbox_id, transaction_id,
			confidence, status, decided_by, decided_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, inbox_id, transaction_id) DO UPDATE SET
			confidence = excluded.confidence`,
		sg.ID, sg.TenantID, sg.InboxID, sg.TransactionID,
		sg.Confidence, string(sg.Status), sg.DecidedBy, sg.DecidedAt, sg.CreatedAt); err != nil {
		return apperrors.StorageError("save suggestion", err)
	}

	var status string
	var decidedAt sql.NullTime
	if err := tx.QueryRowContext(ctx, `
		SELECT id, status, decided_by, decided_at FROM match_suggestions
		WHERE tenant_id = ? AND inbox_id = ? AND transaction_id = ?`,
		sg.TenantID, sg.InboxID, sg.TransactionID).
		Scan(&sg.ID, &status, &sg.DecidedBy, &decidedAt); err != nil {
		return apperrors.StorageError("resolve suggestion", err)
	}

	sg.Status = models.SuggestionStatus(status)
	sg.DecidedAt = nil
	if decidedAt.Valid {
		t := decidedAt.Time
		sg.DecidedAt = &t
	}
	return nil
}

// GetSuggestion loads one suggestion scoped to the tenant
func (s *Store) GetSuggestion(ctx context.Context, tenantID, suggestionID string) (*models.MatchSuggestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, inbox_id, transaction_id, confidence, status,
			decided_by, decided_at, created_at
		FROM match_suggestions
		WHERE id = ? AND tenant_id = ?`, suggestionID, tenantID)

	sg, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("suggestion", suggestionID)
	}
	if err != nil {
		return nil, apperrors.StorageError("get suggestion", err)
	}
	return sg, nil
}

// ListSuggestionsForInbox returns all suggestions for an inbox item ordered
// by descending confidence
func (s *Store) ListSuggestionsForInbox(ctx context.Context, tenantID, inboxID string) ([]*models.MatchSuggestion, error) {
	return s.querySuggestions(ctx, `
		SELECT id, tenant_id, inbox_id, transaction_id, confidence, status,
			decided_by, decided_at, created_at
		FROM match_suggestions
		WHERE tenant_id = ? AND inbox_id = ?
		ORDER BY confidence DESC, transaction_id`, tenantID, inboxID)
}

// ListDecidedSuggestions returns the tenant's confirmed and declined
// suggestions, the outcome history the calibrator learns from
func (s *Store) ListDecidedSuggestions(ctx context.Context, tenantID string) ([]*models.MatchSuggestion, error) {
	return s.querySuggestions(ctx, `
		SELECT id, tenant_id, inbox_id, transaction_id, confidence, status,
			decided_by, decided_at, created_at
		FROM match_suggestions
		WHERE tenant_id = ? AND status IN (?, ?)
		ORDER BY decided_at`, tenantID,
		string(models.SuggestionStatusConfirmed), string(models.SuggestionStatusDeclined))
}

// ConfirmSuggestion marks a suggestion as confirmed and links both sides of
// the pairing. Re-confirming the already-confirmed suggestion is a no-op.
// Confirming fails with a conflict when the inbox item already holds a
// different confirmed suggestion, or when the transaction is already
// confirmed against a different inbox item. The partial unique indexes back
// both checks against concurrent writers.
func (s *Store) ConfirmSuggestion(ctx context.Context, tenantID, suggestionID, actorID string) (*models.MatchSuggestion, error) {
	var confirmed *models.MatchSuggestion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sg, err := getSuggestionTx(ctx, tx, tenantID, suggestionID)
		if err != nil {
			return err
		}

		if sg.Status == models.SuggestionStatusConfirmed {
			confirmed = sg
			return nil
		}
		if sg.Status == models.SuggestionStatusDeclined {
			return apperrors.ValidationError("suggestion", suggestionID,
				"cannot confirm a declined suggestion")
		}

		var otherTx string
		err = tx.QueryRowContext(ctx, `
			SELECT transaction_id FROM match_suggestions
			WHERE tenant_id = ? AND inbox_id = ? AND status = ?`,
			tenantID, sg.InboxID, string(models.SuggestionStatusConfirmed)).Scan(&otherTx)
		if err == nil {
			return apperrors.Conflict(sg.InboxID, otherTx)
		}
		if err != sql.ErrNoRows {
			return apperrors.StorageError("check confirmed suggestion", err)
		}

		var otherInbox string
		err = tx.QueryRowContext(ctx, `
			SELECT inbox_id FROM match_suggestions
			WHERE tenant_id = ? AND transaction_id = ? AND status = ? AND inbox_id != ?`,
			tenantID, sg.TransactionID, string(models.SuggestionStatusConfirmed),
			sg.InboxID).Scan(&otherInbox)
		if err == nil {
			return apperrors.TransactionConflict(sg.TransactionID, otherInbox)
		}
		if err != sql.ErrNoRows {
			return apperrors.StorageError("check confirmed transaction", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE match_suggestions SET status = ?, decided_by = ?, decided_at = ?
			WHERE id = ? AND tenant_id = ?`,
			string(models.SuggestionStatusConfirmed), actorID, now,
			suggestionID, tenantID); err != nil {
			return apperrors.StorageError("confirm suggestion", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE inbox_items SET status = ?, status_reason = ?, matched_transaction_id = ?
			WHERE id = ? AND tenant_id = ?`,
			string(models.InboxStatusMatched),
			fmt.Sprintf("matched to transaction %s", sg.TransactionID),
			sg.TransactionID, sg.InboxID, tenantID); err != nil {
			return apperrors.StorageError("link inbox item", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET matched_inbox_id = ?
			WHERE id = ? AND tenant_id = ?`,
			sg.InboxID, sg.TransactionID, tenantID); err != nil {
			return apperrors.StorageError("link transaction", err)
		}

		sg.Status = models.SuggestionStatusConfirmed
		sg.DecidedBy = actorID
		sg.DecidedAt = &now
		confirmed = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// DeclineSuggestion marks a suggestion as declined. A confirmed suggestion
// must be unmatched first. When no open suggestions remain the inbox item
// drops to no_match.
func (s *Store) DeclineSuggestion(ctx context.Context, tenantID, suggestionID, actorID string) (*models.MatchSuggestion, error) {
	var declined *models.MatchSuggestion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sg, err := getSuggestionTx(ctx, tx, tenantID, suggestionID)
		if err != nil {
			return err
		}

		if sg.Status == models.SuggestionStatusDeclined {
			declined = sg
			return nil
		}
		if sg.Status == models.SuggestionStatusConfirmed {
			return apperrors.ValidationError("suggestion", suggestionID,
				"cannot decline a confirmed suggestion, unmatch the item first")
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE match_suggestions SET status = ?, decided_by = ?, decided_at = ?
			WHERE id = ? AND tenant_id = ?`,
			string(models.SuggestionStatusDeclined), actorID, now,
			suggestionID, tenantID); err != nil {
			return apperrors.StorageError("decline suggestion", err)
		}

		var remaining int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM match_suggestions
			WHERE tenant_id = ? AND inbox_id = ? AND status = ?`,
			tenantID, sg.InboxID, string(models.SuggestionStatusSuggested)).Scan(&remaining); err != nil {
			return apperrors.StorageError("count open suggestions", err)
		}

		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE inbox_items SET status = ?, status_reason = ?
				WHERE id = ? AND tenant_id = ? AND status = ?`,
				string(models.InboxStatusNoMatch), "all suggestions declined",
				sg.InboxID, tenantID, string(models.InboxStatusSuggestedMatch)); err != nil {
				return apperrors.StorageError("update inbox status", err)
			}
		}

		sg.Status = models.SuggestionStatusDeclined
		sg.DecidedBy = actorID
		sg.DecidedAt = &now
		declined = sg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return declined, nil
}

// UnmatchInboxItem reverses a confirmed match. The confirmed suggestion flips
// to declined, which doubles as negative calibration feedback for the
// reversed pairing, both back-references are cleared, and the item returns
// to suggested_match or pending depending on whether open suggestions remain.
func (s *Store) UnmatchInboxItem(ctx context.Context, tenantID, inboxID, actorID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var suggestionID, transactionID string
		err := tx.QueryRowContext(ctx, `
			SELECT id, transaction_id FROM match_suggestions
			WHERE tenant_id = ? AND inbox_id = ? AND status = ?`,
			tenantID, inboxID, string(models.SuggestionStatusConfirmed)).
			Scan(&suggestionID, &transactionID)
		if err == sql.ErrNoRows {
			return apperrors.NotMatched(inboxID)
		}
		if err != nil {
			return apperrors.StorageError("find confirmed suggestion", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE match_suggestions SET status = ?, decided_by = ?, decided_at = ?
			WHERE id = ? AND tenant_id = ?`,
			string(models.SuggestionStatusDeclined), actorID, now,
			suggestionID, tenantID); err != nil {
			return apperrors.StorageError("reverse suggestion", err)
		}

		var remaining int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM match_suggestions
			WHERE tenant_id = ? AND inbox_id = ? AND status = ?`,
			tenantID, inboxID, string(models.SuggestionStatusSuggested)).Scan(&remaining); err != nil {
			return apperrors.StorageError("count open suggestions", err)
		}

		restored := models.InboxStatusPending
		reason := "match reversed"
		if remaining > 0 {
			restored = models.InboxStatusSuggestedMatch
			reason = "match reversed, open suggestions remain"
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE inbox_items SET status = ?, status_reason = ?, matched_transaction_id = NULL
			WHERE id = ? AND tenant_id = ?`,
			string(restored), reason, inboxID, tenantID); err != nil {
			return apperrors.StorageError("unlink inbox item", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET matched_inbox_id = NULL
			WHERE id = ? AND tenant_id = ?`,
			transactionID, tenantID); err != nil {
			return apperrors.StorageError("unlink transaction", err)
		}
		return nil
	})
}

func (s *Store) querySuggestions(ctx context.Context, query string, args ...interface{}) ([]*models.MatchSuggestion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StorageError("list suggestions", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []*models.MatchSuggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, apperrors.StorageError("scan suggestion", err)
		}
		suggestions = append(suggestions, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("iterate suggestions", err)
	}
	return suggestions, nil
}

func getSuggestionTx(ctx context.Context, tx *sql.Tx, tenantID, suggestionID string) (*models.MatchSuggestion, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, inbox_id, transaction_id, confidence, status,
			decided_by, decided_at, created_at
		FROM match_suggestions
		WHERE id = ? AND tenant_id = ?`, suggestionID, tenantID)

	sg, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("suggestion", suggestionID)
	}
	if err != nil {
		return nil, apperrors.StorageError("get suggestion", err)
	}
	return sg, nil
}

func scanSuggestion(row scanner) (*models.MatchSuggestion, error) {
	var sg models.MatchSuggestion
	var status string
	var decidedAt sql.NullTime

	err := row.Scan(&sg.ID, &sg.TenantID, &sg.InboxID, &sg.TransactionID,
		&sg.Confidence, &status, &sg.DecidedBy, &decidedAt, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}

	sg.Status = models.SuggestionStatus(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		sg.DecidedAt = &t
	}
	return &sg, nil
}
