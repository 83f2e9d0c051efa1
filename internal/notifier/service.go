// Package notifier is the orchestrating layer of the push service. It resolves
// targets, builds messages, dispatches them and reconciles token state.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/internal/builder"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/reconcile"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Addressing modes, used as metric and log labels.
const (
	ModeUser      = "user"
	ModeToken     = "token"
	ModeMultiple  = "multiple"
	ModeTopic     = "topic"
	ModeCondition = "condition"
	ModeSubscribe = "subscribe"
	ModeUnsub     = "unsubscribe"
)

// ErrOwnerRequired is returned when a user-addressed send has no owner.
var ErrOwnerRequired = errors.New("owner id is required")

// UserSendResult aggregates the outcome of a user-addressed send.
type UserSendResult struct {
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
	TotalTokens  int `json:"totalTokens"`
}

// Service exposes the outward push operations.
type Service struct {
	store      push.TokenStore
	dispatcher push.Dispatcher
	reconciler *reconcile.Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Service. m may be nil.
func New(store push.TokenStore, dispatcher push.Dispatcher, reconciler *reconcile.Reconciler, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger.With("component", "Notifier"),
	}
}

// SendToUser delivers to every active device of ownerID. Owners with more
// tokens than one multicast allows are sent in consecutive chunks, each
// reconciled on its own.
func (s *Service) SendToUser(ctx context.Context, ownerID string, in builder.Input) (res *UserSendResult, err error) {
	defer func() { s.metrics.Send(ModeUser, err) }()

	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	log := s.logger.With("owner", ownerID)

	tokens, err := s.store.ActiveTokensForOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tokens for owner: %w", err)
	}
	if len(tokens) == 0 {
		log.Info("No active devices for owner")
		return nil, push.ErrNoActiveDevices
	}

	msg := builder.Build(in)
	res = &UserSendResult{TotalTokens: len(tokens)}

	var firstErr error
	failedChunks, chunks := 0, 0
	for start := 0; start < len(tokens); start += builder.MaxMulticastTokens {
		end := min(start+builder.MaxMulticastTokens, len(tokens))
		chunk := tokens[start:end]
		chunks++

		began := time.Now()
		result, sendErr := s.dispatcher.SendToTokens(ctx, chunk, msg)
		s.metrics.ObserveDispatch(ModeUser, began)
		if sendErr != nil {
			log.Error("Chunk dispatch failed", "chunk_start", start, "chunk_size", len(chunk), "err", sendErr)
			res.FailureCount += len(chunk)
			failedChunks++
			if firstErr == nil {
				firstErr = sendErr
			}
			continue
		}

		res.SuccessCount += result.SuccessCount
		res.FailureCount += result.FailureCount
		s.metrics.Recipients(result.SuccessCount, result.FailureCount)

		summary := s.reconciler.Reconcile(ctx, chunk, result)
		if summary.WriteErrors > 0 {
			log.Warn("Reconciliation had store write errors", "write_errors", summary.WriteErrors)
		}
	}

	if failedChunks == chunks {
		return nil, firstErr
	}

	log.Info("Sent to user",
		"total_tokens", res.TotalTokens,
		"success", res.SuccessCount,
		"failure", res.FailureCount)
	return res, nil
}

// SendToToken delivers to one token. The token is touched on success and
// deactivated when the provider reports it dead; the error is still returned.
func (s *Service) SendToToken(ctx context.Context, token string, in builder.Input) (id string, err error) {
	defer func() { s.metrics.Send(ModeToken, err) }()

	if err := builder.ValidateToken(token); err != nil {
		return "", err
	}
	msg := builder.Build(in)

	began := time.Now()
	id, err = s.dispatcher.SendToToken(ctx, token, msg)
	s.metrics.ObserveDispatch(ModeToken, began)

	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if push.KindOf(err).Terminal() {
			_, werr := s.store.DeactivateToken(writeCtx, token)
			s.metrics.TokenWrite("deactivate", werr)
			if werr != nil {
				s.logger.Warn("Failed to deactivate dead token", "err", werr)
			} else {
				s.logger.Info("Deactivated dead token after single send", "kind", push.KindOf(err).String())
			}
		}
		return "", err
	}

	_, werr := s.store.TouchToken(writeCtx, token)
	s.metrics.TokenWrite("touch", werr)
	if werr != nil {
		s.logger.Warn("Failed to update token last-used", "err", werr)
	}
	return id, nil
}

// SendToMultiple multicasts to an explicit token list. The tokens are not
// necessarily tied to a known owner, so no reconciliation happens here.
func (s *Service) SendToMultiple(ctx context.Context, tokens []string, in builder.Input) (res *push.DispatchResult, err error) {
	defer func() { s.metrics.Send(ModeMultiple, err) }()

	if err := builder.ValidateTokens(tokens, builder.MaxMulticastTokens); err != nil {
		return nil, err
	}
	msg := builder.Build(in)

	began := time.Now()
	res, err = s.dispatcher.SendToTokens(ctx, tokens, msg)
	s.metrics.ObserveDispatch(ModeMultiple, began)
	if err != nil {
		return nil, err
	}
	s.metrics.Recipients(res.SuccessCount, res.FailureCount)
	return res, nil
}

// SendToTopic delivers to the subscribers of topic.
func (s *Service) SendToTopic(ctx context.Context, topic string, in builder.Input) (id string, err error) {
	defer func() { s.metrics.Send(ModeTopic, err) }()

	if err := builder.ValidateTopic(topic); err != nil {
		return "", err
	}

	began := time.Now()
	defer s.metrics.ObserveDispatch(ModeTopic, began)
	return s.dispatcher.SendToTopic(ctx, topic, builder.Build(in))
}

// SendToCondition delivers to every token matching condition.
func (s *Service) SendToCondition(ctx context.Context, condition string, in builder.Input) (id string, err error) {
	defer func() { s.metrics.Send(ModeCondition, err) }()

	if err := builder.ValidateCondition(condition); err != nil {
		return "", err
	}

	began := time.Now()
	defer s.metrics.ObserveDispatch(ModeCondition, began)
	return s.dispatcher.SendToCondition(ctx, condition, builder.Build(in))
}

// SubscribeTopic adds tokens to topic.
func (s *Service) SubscribeTopic(ctx context.Context, tokens []string, topic string) (res *push.TopicResult, err error) {
	defer func() { s.metrics.Send(ModeSubscribe, err) }()

	if err := validateTopicManagement(tokens, topic); err != nil {
		return nil, err
	}
	return s.dispatcher.Subscribe(ctx, tokens, topic)
}

// UnsubscribeTopic removes tokens from topic.
func (s *Service) UnsubscribeTopic(ctx context.Context, tokens []string, topic string) (res *push.TopicResult, err error) {
	defer func() { s.metrics.Send(ModeUnsub, err) }()

	if err := validateTopicManagement(tokens, topic); err != nil {
		return nil, err
	}
	return s.dispatcher.Unsubscribe(ctx, tokens, topic)
}

func validateTopicManagement(tokens []string, topic string) error {
	if err := builder.ValidateTopic(topic); err != nil {
		return err
	}
	return builder.ValidateTokens(tokens, builder.MaxTopicManagementTokens)
}
