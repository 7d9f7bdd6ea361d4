package matcher

import (
	"context"
	"sort"
	"time"

	"inbox-matching-service/internal/features"
	"inbox-matching-service/internal/models"
	"inbox-matching-service/internal/rates"
	"inbox-matching-service/pkg/logger"
)

// CandidateSource is the narrow read interface the engine needs from the
// persistence gateway. Every query is tenant-scoped.
type CandidateSource interface {
	GetInboxItem(ctx context.Context, tenantID, inboxID string) (*models.InboxItem, error)
	GetTransaction(ctx context.Context, tenantID, transactionID string) (*models.Transaction, error)
	ListTransactionsInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.Transaction, error)
	ListInboxItemsInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.InboxItem, error)
}

// Decision classifies the outcome of a candidate search
type Decision int

const (
	// DecisionNone means no candidate cleared the suggest threshold
	DecisionNone Decision = iota

	// DecisionSuggest means the ranked candidates require human review
	DecisionSuggest

	// DecisionAutoMatch means the top candidate cleared the auto-match
	// threshold and leads the runner-up by at least the ambiguity margin
	DecisionAutoMatch
)

// String returns the string representation of Decision
func (d Decision) String() string {
	switch d {
	case DecisionAutoMatch:
		return "auto_match"
	case DecisionSuggest:
		return "suggest"
	default:
		return "none"
	}
}

// MatchCandidate is an ephemeral scoring result for one pairing. Candidates
// are produced fresh on every search call and never persisted; only the
// chosen decision becomes a MatchSuggestion.
type MatchCandidate struct {
	InboxID          string        `json:"inbox_id"`
	TransactionID    string        `json:"transaction_id"`
	Confidence       float64       `json:"confidence"`
	Scores           FeatureScores `json:"scores"`
	Rank             int           `json:"rank"`
	DateDistanceDays int           `json:"date_distance_days"`
}

// Outcome is the result of a candidate search: the decision classification
// and the ranked candidate list backing it
type Outcome struct {
	Decision   Decision          `json:"decision"`
	Candidates []*MatchCandidate `json:"candidates"`

	// ConflictingCandidates counts pairings that cleared the suggest
	// threshold but are excluded because the counterpart is confirmed
	// elsewhere. A nonzero count means the record would have matched if a
	// person untangled the existing confirmation first.
	ConflictingCandidates int `json:"conflicting_candidates,omitempty"`
}

// Best returns the top-ranked candidate, or nil when there is none
func (o *Outcome) Best() *MatchCandidate {
	if len(o.Candidates) == 0 {
		return nil
	}
	return o.Candidates[0]
}

// Engine performs bidirectional candidate search and scoring. It holds no
// per-call state; the same engine serves all tenants, with per-tenant
// thresholds supplied through the calibration profile on each call.
type Engine struct {
	config *Config
	scorer *Scorer
	source CandidateSource
	log    logger.Logger
}

// NewEngine creates a matching engine backed by the given candidate source.
// The converter may be nil, degrading cross-currency scoring to unknown.
func NewEngine(config *Config, source CandidateSource, converter rates.Converter) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	return &Engine{
		config: config,
		scorer: NewScorer(config, converter),
		source: source,
		log:    logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// FindMatchesForInbox searches the tenant's transactions for candidates
// matching one inbox item and classifies the result. Ranking is
// deterministic for fixed inputs: confidence descending, ties broken by
// closer date, then by transaction id.
func (e *Engine) FindMatchesForInbox(
	ctx context.Context,
	tenantID, inboxID string,
	profile *models.CalibrationProfile,
) (*Outcome, error) {

	item, err := e.source.GetInboxItem(ctx, tenantID, inboxID)
	if err != nil {
		return nil, err
	}

	inboxFeatures, err := features.FromInboxItem(item)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		profile = DefaultProfile(tenantID)
	}

	from, to := e.window(inboxFeatures.Date, item.CreatedAt)
	transactions, err := e.source.ListTransactionsInWindow(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	var candidates []*MatchCandidate
	conflicting := 0
	for _, tx := range transactions {
		candidate := e.score(ctx, inboxFeatures, inboxID, tx, profile)
		if candidate == nil {
			continue
		}

		// A transaction already confirmed against a different inbox item
		// is not rankable, but a strong pairing with it is a conflict worth
		// surfacing; re-scoring the item's own confirmed pairing stays
		// allowed so an existing match can be re-evaluated.
		if tx.MatchedInboxID != nil && *tx.MatchedInboxID != inboxID {
			conflicting++
			continue
		}
		candidates = append(candidates, candidate)
	}

	outcome := e.classify(candidates, profile)
	outcome.ConflictingCandidates = conflicting

	e.log.WithTenant(tenantID).WithFields(logger.Fields{
		"inbox_id":    inboxID,
		"candidates":  len(transactions),
		"ranked":      len(outcome.Candidates),
		"conflicting": conflicting,
		"decision":    outcome.Decision.String(),
	}).Debug("Inbox candidate search completed")

	return outcome, nil
}

// FindMatchesForTransaction is the reverse lookup: given one transaction,
// search the tenant's inbox items for candidates.
func (e *Engine) FindMatchesForTransaction(
	ctx context.Context,
	tenantID, transactionID string,
	profile *models.CalibrationProfile,
) (*Outcome, error) {

	tx, err := e.source.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		profile = DefaultProfile(tenantID)
	}

	txFeatures := features.FromTransaction(tx)

	from, to := e.window(txFeatures.Date, tx.CreatedAt)
	items, err := e.source.ListInboxItemsInWindow(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	var candidates []*MatchCandidate
	conflicting := 0
	for _, item := range items {
		inboxFeatures, err := features.FromInboxItem(item)
		if err != nil {
			// Unscoreable items are skipped in reverse lookup, not fatal
			continue
		}

		candidate := e.score(ctx, inboxFeatures, item.ID, tx, profile)
		if candidate == nil {
			continue
		}

		if item.MatchedTransactionID != nil && *item.MatchedTransactionID != transactionID {
			conflicting++
			continue
		}
		candidates = append(candidates, candidate)
	}

	outcome := e.classify(candidates, profile)
	outcome.ConflictingCandidates = conflicting

	e.log.WithTenant(tenantID).WithFields(logger.Fields{
		"transaction_id": transactionID,
		"ranked":         len(outcome.Candidates),
		"conflicting":    conflicting,
		"decision":       outcome.Decision.String(),
	}).Debug("Transaction candidate search completed")

	return outcome, nil
}

// window computes the candidate lookback window around the document date,
// falling back to the record creation time when no date was extracted
func (e *Engine) window(date *time.Time, createdAt time.Time) (time.Time, time.Time) {
	ref := models.DateOnly(createdAt)
	if date != nil {
		ref = *date
	}

	lookback := time.Duration(e.config.LookbackDays) * 24 * time.Hour
	return ref.Add(-lookback), ref.Add(lookback)
}

// score computes one candidate, or nil when the pairing is not worth ranking
func (e *Engine) score(
	ctx context.Context,
	inboxFeatures *features.FeatureSet,
	inboxID string,
	tx *models.Transaction,
	profile *models.CalibrationProfile,
) *MatchCandidate {

	txFeatures := features.FromTransaction(tx)
	scores := e.scorer.ScoreAll(ctx, inboxFeatures, txFeatures)

	confidence, known := AggregateConfidence(scores, profile.Weights)
	if !known {
		return nil
	}

	// A pairing whose only evidence is weak text similarity is noise
	if !scores.Amount.Known && !scores.Date.Known &&
		scores.Text.Known && scores.Text.Value < e.config.MinTextScore {
		return nil
	}

	if confidence < profile.SuggestThreshold {
		return nil
	}

	dateDistance := e.config.LookbackDays
	if inboxFeatures.HasDate() && txFeatures.HasDate() {
		dateDistance = models.DaysBetween(*inboxFeatures.Date, *txFeatures.Date)
	}

	return &MatchCandidate{
		InboxID:          inboxID,
		TransactionID:    tx.ID,
		Confidence:       confidence,
		Scores:           scores,
		DateDistanceDays: dateDistance,
	}
}

// classify ranks the candidates and applies the decision policy: auto-match
// only when the top candidate clears the auto threshold and is not within
// the ambiguity margin of the runner-up; otherwise the top-N become
// suggestions for human review.
func (e *Engine) classify(candidates []*MatchCandidate, profile *models.CalibrationProfile) *Outcome {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if candidates[i].DateDistanceDays != candidates[j].DateDistanceDays {
			return candidates[i].DateDistanceDays < candidates[j].DateDistanceDays
		}
		if candidates[i].TransactionID != candidates[j].TransactionID {
			return candidates[i].TransactionID < candidates[j].TransactionID
		}
		return candidates[i].InboxID < candidates[j].InboxID
	})

	if len(candidates) > e.config.MaxSuggestions {
		candidates = candidates[:e.config.MaxSuggestions]
	}

	for i, c := range candidates {
		c.Rank = i + 1
	}

	if len(candidates) == 0 {
		return &Outcome{Decision: DecisionNone}
	}

	top := candidates[0]
	if top.Confidence >= profile.AutoMatchThreshold {
		unambiguous := len(candidates) == 1 ||
			top.Confidence-candidates[1].Confidence >= profile.AmbiguityMargin

		if unambiguous {
			return &Outcome{Decision: DecisionAutoMatch, Candidates: candidates}
		}
	}

	return &Outcome{Decision: DecisionSuggest, Candidates: candidates}
}
