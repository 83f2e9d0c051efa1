// Package reconcile turns batch dispatch outcomes into token store writes.
package reconcile

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps the number of store writes in flight per batch.
const DefaultConcurrency = 16

const (
	opTouch      = "touch"
	opDeactivate = "deactivate"
)

// Summary reports what a reconciliation pass did.
type Summary struct {
	Touched     int
	Deactivated int
	// Skipped counts failures that left the token untouched.
	Skipped     int
	WriteErrors int
}

// Reconciler applies touch and deactivate writes for a DispatchResult.
type Reconciler struct {
	store       push.TokenStore
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Reconciler. A concurrency below 1 uses DefaultConcurrency.
func New(store push.TokenStore, concurrency int, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{
		store:       store,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With("component", "Reconciler"),
	}
}

// Reconcile zips result.Responses with tokens by index. Successful tokens are
// touched, terminally failed tokens are deactivated and every other failure is
// left alone. Store errors are logged and counted; they never fail the call.
// All writes have finished when Reconcile returns.
func (r *Reconciler) Reconcile(ctx context.Context, tokens []string, result *push.DispatchResult) Summary {
	var summary Summary
	if result == nil {
		return summary
	}
	if len(result.Responses) != len(tokens) {
		r.logger.Error("Dispatch result does not align with token list, skipping reconciliation",
			"tokens", len(tokens), "responses", len(result.Responses))
		return summary
	}

	var touched, deactivated, writeErrors atomic.Int64

	// Delivery already happened; a caller going away must not drop the bookkeeping.
	writeCtx := context.WithoutCancel(ctx)

	// Writes are best effort, so the group context is not used to cancel siblings.
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, resp := range result.Responses {
		token := tokens[i]

		var op string
		switch {
		case resp.OK():
			op = opTouch
		case resp.Err.Kind.Terminal():
			op = opDeactivate
		default:
			summary.Skipped++
			continue
		}

		g.Go(func() error {
			var err error
			if op == opTouch {
				_, err = r.store.TouchToken(writeCtx, token)
			} else {
				_, err = r.store.DeactivateToken(writeCtx, token)
			}
			r.metrics.TokenWrite(op, err)

			if err != nil {
				writeErrors.Add(1)
				r.logger.Warn("Token store write failed", "op", op, "token_suffix", suffix(token), "err", err)
				return nil
			}
			if op == opTouch {
				touched.Add(1)
			} else {
				deactivated.Add(1)
				r.logger.Info("Deactivated dead token", "token_suffix", suffix(token))
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Touched = int(touched.Load())
	summary.Deactivated = int(deactivated.Load())
	summary.WriteErrors = int(writeErrors.Load())

	r.logger.Debug("Reconciliation complete",
		"touched", summary.Touched,
		"deactivated", summary.Deactivated,
		"skipped", summary.Skipped,
		"write_errors", summary.WriteErrors)
	return summary
}

// suffix keeps full tokens out of logs.
func suffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[len(token)-8:]
}
