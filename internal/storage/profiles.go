package storage

import (
	"context"
	"database/sql"

	"inbox-matching-service/internal/models"
	apperrors "inbox-matching-service/pkg/errors"
)

// GetCalibrationProfile loads the tenant's active profile
func (s *Store) GetCalibrationProfile(ctx context.Context, tenantID string) (*models.CalibrationProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, amount_weight, date_weight, text_weight, currency_weight,
			auto_match_threshold, suggest_threshold, ambiguity_margin,
			sample_count, updated_at
		FROM calibration_profiles
		WHERE tenant_id = ?`, tenantID)

	var p models.CalibrationProfile
	err := row.Scan(&p.TenantID, &p.Weights.Amount, &p.Weights.Date,
		&p.Weights.Text, &p.Weights.Currency,
		&p.AutoMatchThreshold, &p.SuggestThreshold, &p.AmbiguityMargin,
		&p.SampleCount, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("calibration profile", tenantID)
	}
	if err != nil {
		return nil, apperrors.StorageError("get calibration profile", err)
	}
	return &p, nil
}

// UpsertCalibrationProfile replaces the tenant's profile in a single
// statement so concurrent matching calls see either the old or the new
// profile, never a mix
func (s *Store) UpsertCalibrationProfile(ctx context.Context, p *models.CalibrationProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calibration_profiles (tenant_id, amount_weight, date_weight,
			text_weight, currency_weight, auto_match_threshold, suggest_threshold,
			ambiguity_margin, sample_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			amount_weight = excluded.amount_weight,
			date_weight = excluded.date_weight,
			text_weight = excluded.text_weight,
			currency_weight = excluded.currency_weight,
			auto_match_threshold = excluded.auto_match_threshold,
			suggest_threshold = excluded.suggest_threshold,
			ambiguity_margin = excluded.ambiguity_margin,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at`,
		p.TenantID, p.Weights.Amount, p.Weights.Date, p.Weights.Text,
		p.Weights.Currency, p.AutoMatchThreshold, p.SuggestThreshold,
		p.AmbiguityMargin, p.SampleCount, p.UpdatedAt)
	if err != nil {
		return apperrors.StorageError("upsert calibration profile", err)
	}
	return nil
}
