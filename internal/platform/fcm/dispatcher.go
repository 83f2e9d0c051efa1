// --- File: internal/platform/fcm/dispatcher.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests supply a mock.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithProviderTimeout bounds every provider call. Zero leaves the caller's
// context untouched.
func WithProviderTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.timeout = d
	}
}

// Dispatcher implements push.Dispatcher on top of Firebase Cloud Messaging.
type Dispatcher struct {
	client   MessagingClient
	timeout  time.Duration
	classify func(error) *push.Error
	logger   *slog.Logger
}

var _ push.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher accepts the concrete client but stores it as the interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:   client,
		classify: Classify,
		logger:   logger.With("component", "FCMDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

// SendToToken delivers msg to a single token.
func (d *Dispatcher) SendToToken(ctx context.Context, token string, msg *push.Message) (string, error) {
	fm := toFCMMessage(msg)
	fm.Token = token
	return d.send(ctx, fm, "token")
}

// SendToTopic delivers msg to every subscriber of topic.
func (d *Dispatcher) SendToTopic(ctx context.Context, topic string, msg *push.Message) (string, error) {
	fm := toFCMMessage(msg)
	fm.Topic = topic
	return d.send(ctx, fm, "topic")
}

// SendToCondition delivers msg to every token matching the topic condition.
func (d *Dispatcher) SendToCondition(ctx context.Context, condition string, msg *push.Message) (string, error) {
	fm := toFCMMessage(msg)
	fm.Condition = condition
	return d.send(ctx, fm, "condition")
}

func (d *Dispatcher) send(ctx context.Context, fm *messaging.Message, mode string) (string, error) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	id, err := d.client.Send(callCtx, fm)
	if err != nil {
		pe := d.classify(err)
		d.logger.Warn("FCM send failed", "mode", mode, "kind", pe.Kind.String(), "code", pe.Code, "err", err)
		return "", pe
	}
	d.logger.Debug("FCM send accepted", "mode", mode, "message_id", id)
	return id, nil
}

// SendToTokens addresses every token in one multicast call. Responses[i] is the
// outcome for tokens[i].
func (d *Dispatcher) SendToTokens(ctx context.Context, tokens []string, msg *push.Message) (*push.DispatchResult, error) {
	if len(tokens) == 0 {
		return &push.DispatchResult{Responses: []push.RecipientResult{}}, nil
	}

	fm := toFCMMessage(msg)
	mm := &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         fm.Data,
		Notification: fm.Notification,
		Android:      fm.Android,
		APNS:         fm.APNS,
		Webpush:      fm.Webpush,
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	br, err := d.client.SendEachForMulticast(callCtx, mm)
	if err != nil {
		pe := d.classify(err)
		d.logger.Error("FCM multicast failed", "tokens", len(tokens), "code", pe.Code, "err", err)
		return nil, pe
	}

	if br == nil || len(br.Responses) != len(tokens) {
		got := 0
		if br != nil {
			got = len(br.Responses)
		}
		d.logger.Error("FCM multicast response count mismatch", "tokens", len(tokens), "responses", got)
		return nil, &push.Error{
			Kind: push.KindProviderError,
			Code: "response-mismatch",
			Msg:  fmt.Sprintf("provider returned %d responses for %d tokens", got, len(tokens)),
		}
	}

	result := &push.DispatchResult{Responses: make([]push.RecipientResult, len(tokens))}
	for i, resp := range br.Responses {
		rr := push.RecipientResult{Token: tokens[i]}
		switch {
		case resp != nil && resp.Success:
			rr.MessageID = resp.MessageID
			result.SuccessCount++
		case resp == nil || resp.Error == nil:
			rr.Err = &push.Error{Kind: push.KindProviderError, Code: "unknown", Msg: "provider reported failure without error"}
			result.FailureCount++
		default:
			rr.Err = d.classify(resp.Error)
			result.FailureCount++
		}
		result.Responses[i] = rr
	}

	d.logger.Debug("FCM multicast complete", "success", result.SuccessCount, "failure", result.FailureCount)
	return result, nil
}

// Subscribe adds tokens to topic.
func (d *Dispatcher) Subscribe(ctx context.Context, tokens []string, topic string) (*push.TopicResult, error) {
	return d.manageTopic(ctx, tokens, topic, "subscribe", d.client.SubscribeToTopic)
}

// Unsubscribe removes tokens from topic.
func (d *Dispatcher) Unsubscribe(ctx context.Context, tokens []string, topic string) (*push.TopicResult, error) {
	return d.manageTopic(ctx, tokens, topic, "unsubscribe", d.client.UnsubscribeFromTopic)
}

type topicCall func(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)

func (d *Dispatcher) manageTopic(ctx context.Context, tokens []string, topic, op string, call topicCall) (*push.TopicResult, error) {
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	resp, err := call(callCtx, tokens, topic)
	if err != nil {
		pe := d.classify(err)
		d.logger.Error("FCM topic management failed", "op", op, "topic", topic, "code", pe.Code, "err", err)
		return nil, pe
	}

	result := &push.TopicResult{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
	}
	for _, e := range resp.Errors {
		if e == nil {
			continue
		}
		te := push.TopicError{Index: e.Index, Reason: e.Reason}
		if e.Index >= 0 && e.Index < len(tokens) {
			te.Token = tokens[e.Index]
		}
		result.Errors = append(result.Errors, te)
	}
	return result, nil
}
