// Package reconciler orchestrates the matching workflow: it drives the
// engine over persisted items, applies decisions through the state machine,
// and runs batch processing with bounded concurrency.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inbox-matching-service/internal/calibration"
	"inbox-matching-service/internal/matcher"
	"inbox-matching-service/internal/models"
	apperrors "inbox-matching-service/pkg/errors"
	"inbox-matching-service/pkg/logger"
)

// Gateway is the persistence surface the orchestrator drives. *storage.Store
// satisfies it; tests substitute fakes.
type Gateway interface {
	matcher.CandidateSource

	UpdateInboxStatus(ctx context.Context, tenantID, inboxID string, status models.InboxStatus, reason string) error
	MarkSuggested(ctx context.Context, tenantID, inboxID, reason string) error

	ReplaceOpenSuggestions(ctx context.Context, tenantID, inboxID string, suggestions []*models.MatchSuggestion) error
	AddSuggestions(ctx context.Context, suggestions []*models.MatchSuggestion) error
	ConfirmSuggestion(ctx context.Context, tenantID, suggestionID, actorID string) (*models.MatchSuggestion, error)
	DeclineSuggestion(ctx context.Context, tenantID, suggestionID, actorID string) (*models.MatchSuggestion, error)
	UnmatchInboxItem(ctx context.Context, tenantID, inboxID, actorID string) error
	ListDecidedSuggestions(ctx context.Context, tenantID string) ([]*models.MatchSuggestion, error)

	GetCalibrationProfile(ctx context.Context, tenantID string) (*models.CalibrationProfile, error)
	UpsertCalibrationProfile(ctx context.Context, profile *models.CalibrationProfile) error
}

// SystemActor is recorded as the deciding actor on automatic confirmations
const SystemActor = "system"

// Config holds the orchestration parameters
type Config struct {
	// Concurrency is the number of batch workers
	Concurrency int `json:"concurrency"`

	// ItemTimeout bounds the processing time of a single item
	ItemTimeout time.Duration `json:"item_timeout"`

	// MaxRetries is how many times a transient failure is retried before
	// the item is marked as errored
	MaxRetries int `json:"max_retries"`

	// RetryBackoff is the base delay between retry attempts
	RetryBackoff time.Duration `json:"retry_backoff"`
}

// DefaultServiceConfig returns the default orchestration parameters
func DefaultServiceConfig() *Config {
	return &Config{
		Concurrency:  4,
		ItemTimeout:  30 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1: %d", c.Concurrency)
	}
	if c.ItemTimeout <= 0 {
		return fmt.Errorf("item timeout must be positive: %v", c.ItemTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative: %d", c.MaxRetries)
	}
	return nil
}

// Service coordinates matching, persistence and calibration for all tenants
type Service struct {
	config     *Config
	engine     *matcher.Engine
	gateway    Gateway
	calibrator *calibration.Calibrator
	log        logger.Logger
}

// NewService creates the matching service
func NewService(config *Config, engine *matcher.Engine, gateway Gateway, calibrator *calibration.Calibrator) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ValidationError("config", config, err.Error())
	}
	if calibrator == nil {
		calibrator = calibration.NewCalibrator(nil)
	}

	return &Service{
		config:     config,
		engine:     engine,
		gateway:    gateway,
		calibrator: calibrator,
		log:        logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// ProcessInboxMatching runs a candidate search for one inbox item and
// persists the outcome: a confirmed suggestion on auto-match, a ranked open
// suggestion set on suggest, or a no_match status when nothing clears the
// threshold. Transient failures are retried; a permanent failure moves the
// item to error.
func (s *Service) ProcessInboxMatching(ctx context.Context, tenantID, inboxID string) (*matcher.Outcome, error) {
	log := s.log.WithTenant(tenantID).WithField("inbox_id", inboxID)

	item, err := s.gateway.GetInboxItem(ctx, tenantID, inboxID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.InboxStatusMatched {
		return nil, apperrors.ValidationError("inbox_id", inboxID,
			"item is already matched, unmatch it before reprocessing")
	}

	if err := s.gateway.UpdateInboxStatus(ctx, tenantID, inboxID,
		models.InboxStatusProcessing, "matching in progress"); err != nil {
		return nil, err
	}

	profile := s.profileFor(ctx, tenantID)

	var outcome *matcher.Outcome
	err = s.withRetry(ctx, "inbox matching", func() error {
		var ferr error
		outcome, ferr = s.engine.FindMatchesForInbox(ctx, tenantID, inboxID, profile)
		return ferr
	})
	if err != nil {
		s.markError(ctx, tenantID, inboxID, err)
		return nil, err
	}

	if err := s.persistInboxOutcome(ctx, tenantID, inboxID, outcome); err != nil {
		s.markError(ctx, tenantID, inboxID, err)
		return nil, err
	}

	log.WithFields(logger.Fields{
		"decision":   outcome.Decision.String(),
		"candidates": len(outcome.Candidates),
	}).Info("Processed inbox item")

	return outcome, nil
}

// ProcessTransactionMatching runs the reverse-direction search for one bank
// transaction. Candidates may span multiple inbox items; suggestions are
// added to each item without disturbing that item's existing suggestions.
func (s *Service) ProcessTransactionMatching(ctx context.Context, tenantID, transactionID string) (*matcher.Outcome, error) {
	log := s.log.WithTenant(tenantID).WithField("transaction_id", transactionID)

	profile := s.profileFor(ctx, tenantID)

	var outcome *matcher.Outcome
	err := s.withRetry(ctx, "transaction matching", func() error {
		var ferr error
		outcome, ferr = s.engine.FindMatchesForTransaction(ctx, tenantID, transactionID, profile)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	switch outcome.Decision {
	case matcher.DecisionAutoMatch:
		best := outcome.Best()
		sg := newSuggestion(tenantID, best)
		if err := s.gateway.AddSuggestions(ctx, []*models.MatchSuggestion{sg}); err != nil {
			return nil, err
		}
		if sg.Status == models.SuggestionStatusDeclined {
			// A pairing a person declined is never auto-confirmed again
			log.WithField("inbox_id", sg.InboxID).
				Info("Auto-match withheld, pairing was previously declined")
			break
		}
		if _, err := s.gateway.ConfirmSuggestion(ctx, tenantID, sg.ID, SystemActor); err != nil {
			return nil, err
		}

	case matcher.DecisionSuggest:
		suggestions := make([]*models.MatchSuggestion, 0, len(outcome.Candidates))
		for _, c := range outcome.Candidates {
			suggestions = append(suggestions, newSuggestion(tenantID, c))
		}
		if err := s.gateway.AddSuggestions(ctx, suggestions); err != nil {
			return nil, err
		}

		reason := fmt.Sprintf("candidate for transaction %s", transactionID)
		marked := make(map[string]bool)
		for _, sg := range suggestions {
			// Items whose pairing was already decided keep their status
			if sg.Status != models.SuggestionStatusSuggested || marked[sg.InboxID] {
				continue
			}
			marked[sg.InboxID] = true
			if err := s.gateway.MarkSuggested(ctx, tenantID, sg.InboxID, reason); err != nil {
				return nil, err
			}
		}
	}

	log.WithFields(logger.Fields{
		"decision":   outcome.Decision.String(),
		"candidates": len(outcome.Candidates),
	}).Info("Processed transaction")

	return outcome, nil
}

// ConfirmMatch confirms a suggestion on behalf of an actor. Confirming the
// already-confirmed suggestion again succeeds without side effects.
func (s *Service) ConfirmMatch(ctx context.Context, tenantID, suggestionID, actorID string) (*models.MatchSuggestion, error) {
	sg, err := s.gateway.ConfirmSuggestion(ctx, tenantID, suggestionID, actorID)
	if err != nil {
		return nil, err
	}

	s.log.WithTenant(tenantID).WithFields(logger.Fields{
		"suggestion_id":  suggestionID,
		"inbox_id":       sg.InboxID,
		"transaction_id": sg.TransactionID,
		"actor":          actorID,
	}).Info("Confirmed match")

	return sg, nil
}

// DeclineMatch declines a suggestion, recording negative calibration
// feedback for the pairing
func (s *Service) DeclineMatch(ctx context.Context, tenantID, suggestionID, actorID string) (*models.MatchSuggestion, error) {
	sg, err := s.gateway.DeclineSuggestion(ctx, tenantID, suggestionID, actorID)
	if err != nil {
		return nil, err
	}

	s.log.WithTenant(tenantID).WithFields(logger.Fields{
		"suggestion_id":  suggestionID,
		"inbox_id":       sg.InboxID,
		"transaction_id": sg.TransactionID,
		"actor":          actorID,
	}).Info("Declined suggestion")

	return sg, nil
}

// Unmatch reverses a confirmed match on an inbox item
func (s *Service) Unmatch(ctx context.Context, tenantID, inboxID, actorID string) error {
	if err := s.gateway.UnmatchInboxItem(ctx, tenantID, inboxID, actorID); err != nil {
		return err
	}

	s.log.WithTenant(tenantID).WithFields(logger.Fields{
		"inbox_id": inboxID,
		"actor":    actorID,
	}).Info("Reversed confirmed match")

	return nil
}

// Recalibrate recomputes the tenant's calibration profile from its decided
// suggestion history and persists the result
func (s *Service) Recalibrate(ctx context.Context, tenantID string) (*models.CalibrationProfile, error) {
	history, err := s.gateway.ListDecidedSuggestions(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	current, err := s.gateway.GetCalibrationProfile(ctx, tenantID)
	if err != nil && !apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil, err
	}

	next := s.calibrator.Recalibrate(tenantID, history, current)
	if err := s.gateway.UpsertCalibrationProfile(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// persistInboxOutcome applies a search outcome to the state machine. The
// gateway reports the surviving row for each pairing, so a pairing a person
// already declined is acted on as declined instead of re-confirmed or
// re-opened.
func (s *Service) persistInboxOutcome(ctx context.Context, tenantID, inboxID string, outcome *matcher.Outcome) error {
	switch outcome.Decision {
	case matcher.DecisionAutoMatch:
		sg := newSuggestion(tenantID, outcome.Best())
		if err := s.gateway.ReplaceOpenSuggestions(ctx, tenantID, inboxID,
			[]*models.MatchSuggestion{sg}); err != nil {
			return err
		}
		if sg.Status == models.SuggestionStatusDeclined {
			return s.gateway.UpdateInboxStatus(ctx, tenantID, inboxID,
				models.InboxStatusNoMatch, "best candidate was previously declined")
		}
		_, err := s.gateway.ConfirmSuggestion(ctx, tenantID, sg.ID, SystemActor)
		return err

	case matcher.DecisionSuggest:
		suggestions := make([]*models.MatchSuggestion, 0, len(outcome.Candidates))
		for _, c := range outcome.Candidates {
			suggestions = append(suggestions, newSuggestion(tenantID, c))
		}
		if err := s.gateway.ReplaceOpenSuggestions(ctx, tenantID, inboxID, suggestions); err != nil {
			return err
		}

		open := 0
		for _, sg := range suggestions {
			if sg.Status == models.SuggestionStatusSuggested {
				open++
			}
		}
		if open == 0 {
			return s.gateway.UpdateInboxStatus(ctx, tenantID, inboxID,
				models.InboxStatusNoMatch, "all candidates were previously declined")
		}
		return s.gateway.UpdateInboxStatus(ctx, tenantID, inboxID,
			models.InboxStatusSuggestedMatch,
			fmt.Sprintf("%d candidates awaiting review", open))

	default:
		if err := s.gateway.ReplaceOpenSuggestions(ctx, tenantID, inboxID, nil); err != nil {
			return err
		}
		reason := "no candidate cleared the suggest threshold"
		if outcome.ConflictingCandidates > 0 {
			reason = fmt.Sprintf("%d strong candidates are already matched to other items",
				outcome.ConflictingCandidates)
		}
		return s.gateway.UpdateInboxStatus(ctx, tenantID, inboxID,
			models.InboxStatusNoMatch, reason)
	}
}

// profileFor loads the tenant's calibration profile, falling back to the
// defaults for tenants that have never been calibrated
func (s *Service) profileFor(ctx context.Context, tenantID string) *models.CalibrationProfile {
	profile, err := s.gateway.GetCalibrationProfile(ctx, tenantID)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeNotFound) {
			s.log.WithTenant(tenantID).WithError(err).
				Warn("Failed to load calibration profile, using defaults")
		}
		return matcher.DefaultProfile(tenantID)
	}
	return profile
}

// markError records a permanent processing failure on the item. Best effort;
// the original error is what the caller sees.
func (s *Service) markError(ctx context.Context, tenantID, inboxID string, cause error) {
	if uerr := s.gateway.UpdateInboxStatus(ctx, tenantID, inboxID,
		models.InboxStatusError, cause.Error()); uerr != nil {
		s.log.WithTenant(tenantID).WithField("inbox_id", inboxID).
			WithError(uerr).Warn("Failed to record item error status")
	}
}

// withRetry retries fn on transient failures with linear backoff
func (s *Service) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.Timeout(operation, ctx.Err())
			case <-time.After(s.config.RetryBackoff * time.Duration(attempt)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}

		s.log.WithError(lastErr).WithFields(logger.Fields{
			"operation": operation,
			"attempt":   attempt + 1,
		}).Warn("Transient failure, retrying")
	}
	return lastErr
}

// isTransient reports whether an error is worth retrying
func isTransient(err error) bool {
	me, ok := apperrors.AsMatchError(err)
	if !ok {
		return false
	}
	if me.Code == apperrors.CodeTimeout {
		return false
	}
	return me.Category == apperrors.CategoryStorage || me.Category == apperrors.CategoryDependency
}

func newSuggestion(tenantID string, c *matcher.MatchCandidate) *models.MatchSuggestion {
	return &models.MatchSuggestion{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		InboxID:       c.InboxID,
		TransactionID: c.TransactionID,
		Confidence:    c.Confidence,
		Status:        models.SuggestionStatusSuggested,
		CreatedAt:     time.Now().UTC(),
	}
}
