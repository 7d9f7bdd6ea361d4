package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"inbox-matching-service/internal/matcher"
	apperrors "inbox-matching-service/pkg/errors"
	"inbox-matching-service/pkg/logger"
)

// BatchFailure records one item that could not be processed. The batch
// continues past failures; they are reported, not fatal.
type BatchFailure struct {
	InboxID string `json:"inbox_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchReport summarizes a batch run
type BatchReport struct {
	Processed   int            `json:"processed"`
	AutoMatched int            `json:"auto_matched"`
	Suggested   int            `json:"suggested"`
	NoMatch     int            `json:"no_match"`
	Failed      int            `json:"failed"`
	Failures    []BatchFailure `json:"failures,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// BatchProcessMatching processes a list of inbox items with bounded
// concurrency. The id list must be non-empty and within the engine's batch
// size limit. Each item gets its own timeout; an item that exceeds it is
// reported as failed with a timeout code and the batch moves on.
func (s *Service) BatchProcessMatching(ctx context.Context, tenantID string, inboxIDs []string) (*BatchReport, error) {
	if len(inboxIDs) == 0 {
		return nil, apperrors.ValidationError("inbox_ids", inboxIDs, "batch cannot be empty")
	}
	maxBatch := s.engine.Config().MaxBatchSize
	if len(inboxIDs) > maxBatch {
		return nil, apperrors.ValidationError("inbox_ids", len(inboxIDs),
			"batch exceeds the maximum size").
			WithContext("max_batch_size", maxBatch)
	}

	start := time.Now()
	log := s.log.WithTenant(tenantID).WithField("batch_size", len(inboxIDs))
	log.Info("Starting batch matching")

	type result struct {
		inboxID  string
		decision matcher.Decision
		err      error
	}

	jobs := make(chan string)
	results := make(chan result, len(inboxIDs))

	var wg sync.WaitGroup
	for w := 0; w < s.config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inboxID := range jobs {
				itemCtx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
				outcome, err := s.ProcessInboxMatching(itemCtx, tenantID, inboxID)
				cancel()

				r := result{inboxID: inboxID, err: err}
				if err == nil {
					r.decision = outcome.Decision
				} else if itemCtx.Err() == context.DeadlineExceeded {
					r.err = apperrors.Timeout("inbox matching", itemCtx.Err()).
						WithContext("inbox_id", inboxID)
				}
				results <- r
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range inboxIDs {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := &BatchReport{}
	for r := range results {
		report.Processed++
		if r.err != nil {
			report.Failed++
			report.Failures = append(report.Failures, BatchFailure{
				InboxID: r.inboxID,
				Code:    string(apperrors.Code(r.err)),
				Message: r.err.Error(),
			})
			continue
		}
		switch r.decision {
		case matcher.DecisionAutoMatch:
			report.AutoMatched++
		case matcher.DecisionSuggest:
			report.Suggested++
		default:
			report.NoMatch++
		}
	}

	// Deterministic failure order regardless of worker interleaving
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].InboxID < report.Failures[j].InboxID
	})

	report.Duration = time.Since(start)

	log.WithFields(logger.Fields{
		"processed":    report.Processed,
		"auto_matched": report.AutoMatched,
		"suggested":    report.Suggested,
		"no_match":     report.NoMatch,
		"failed":       report.Failed,
		"duration":     report.Duration.String(),
	}).Info("Batch matching complete")

	if ctx.Err() != nil {
		return report, apperrors.Timeout("batch matching", ctx.Err())
	}
	return report, nil
}

// TaskHandle tracks an asynchronously submitted batch
type TaskHandle struct {
	done   chan struct{}
	report *BatchReport
	err    error
}

// Wait blocks until the batch finishes or ctx is cancelled. Cancelling the
// wait does not cancel the batch.
func (h *TaskHandle) Wait(ctx context.Context) (*BatchReport, error) {
	select {
	case <-h.done:
		return h.report, h.err
	case <-ctx.Done():
		return nil, apperrors.Timeout("batch wait", ctx.Err())
	}
}

// Done reports whether the batch has finished without blocking
func (h *TaskHandle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// SubmitBatch starts a batch in the background and returns a handle to wait
// on. The batch runs under the given context; cancelling it stops the batch.
func (s *Service) SubmitBatch(ctx context.Context, tenantID string, inboxIDs []string) *TaskHandle {
	h := &TaskHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.report, h.err = s.BatchProcessMatching(ctx, tenantID, inboxIDs)
	}()
	return h
}
