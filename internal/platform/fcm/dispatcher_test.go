package fcm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func (m *MockClient) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.TopicManagementResponse), args.Error(1)
}

func (m *MockClient) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.TopicManagementResponse), args.Error(1)
}

var (
	errUnregistered = errors.New("fake: unregistered")
	errInvalidArg   = errors.New("fake: invalid argument")
	errQuota        = errors.New("fake: quota exceeded")
)

// fakeClassify stands in for the SDK predicates.
func fakeClassify(err error) *push.Error {
	switch {
	case errors.Is(err, errUnregistered):
		return &push.Error{Kind: push.KindTokenNotRegistered, Code: "unregistered", Err: err}
	case errors.Is(err, errInvalidArg):
		return &push.Error{Kind: push.KindInvalidToken, Code: "invalid-registration-token", Err: err}
	case errors.Is(err, errQuota):
		return &push.Error{Kind: push.KindProviderError, Code: "quota-exceeded", Err: err}
	}
	return &push.Error{Kind: push.KindProviderError, Code: "unknown", Err: err}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(client fcm.MessagingClient, opts ...fcm.Option) *fcm.Dispatcher {
	d := fcm.NewDispatcher(client, newTestLogger(), opts...)
	fcm.SetClassifier(d, fakeClassify)
	return d
}

func makeTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("fcm-token-%04d", i)
	}
	return tokens
}

// batchFor fails every index divisible by 3 and succeeds the rest, encoding the
// index into both the message ID and the error so alignment can be checked.
func batchFor(n int) *messaging.BatchResponse {
	br := &messaging.BatchResponse{Responses: make([]*messaging.SendResponse, n)}
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			br.Responses[i] = &messaging.SendResponse{Error: fmt.Errorf("index %d: %w", i, errUnregistered)}
			br.FailureCount++
		} else {
			br.Responses[i] = &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)}
			br.SuccessCount++
		}
	}
	return br
}

func TestSendToTokens_OrderPreservation(t *testing.T) {
	ctx := context.Background()

	for _, n := range []int{1, 2, 3, 7, 100, 499, 500} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			mockClient := new(MockClient)
			dispatcher := newDispatcher(mockClient)
			tokens := makeTokens(n)

			mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(mm *messaging.MulticastMessage) bool {
				return assert.ObjectsAreEqual(tokens, mm.Tokens)
			})).Return(batchFor(n), nil).Once()

			result, err := dispatcher.SendToTokens(ctx, tokens, &push.Message{Data: map[string]string{"k": "v"}})
			require.NoError(t, err)
			require.Len(t, result.Responses, n)
			assert.Equal(t, n, result.SuccessCount+result.FailureCount)

			for i, rr := range result.Responses {
				assert.Equal(t, tokens[i], rr.Token)
				if i%3 == 0 {
					require.NotNil(t, rr.Err, "index %d", i)
					assert.Equal(t, push.KindTokenNotRegistered, rr.Err.Kind)
					assert.Contains(t, rr.Err.Error(), fmt.Sprintf("index %d:", i))
				} else {
					assert.True(t, rr.OK(), "index %d", i)
					assert.Equal(t, fmt.Sprintf("msg-%d", i), rr.MessageID)
				}
			}
			mockClient.AssertExpectations(t)
		})
	}
}

func TestSendToTokens_Failures(t *testing.T) {
	ctx := context.Background()
	msg := &push.Message{Notification: &push.Notification{Title: "Test"}}

	t.Run("Whole batch failure is classified", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errQuota)

		result, err := dispatcher.SendToTokens(ctx, makeTokens(2), msg)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, push.ErrProvider)
		assert.ErrorIs(t, err, errQuota)
	})

	t.Run("Response count mismatch is a provider error", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(batchFor(2), nil)

		result, err := dispatcher.SendToTokens(ctx, makeTokens(3), msg)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, push.ErrProvider)
	})

	t.Run("Per-token error kinds", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		br := &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 2,
			Responses: []*messaging.SendResponse{
				{Error: errInvalidArg},
				{Success: true, MessageID: "msg-1"},
				{Error: errQuota},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(br, nil)

		result, err := dispatcher.SendToTokens(ctx, makeTokens(3), msg)
		require.NoError(t, err)
		assert.Equal(t, 1, result.SuccessCount)
		assert.Equal(t, 2, result.FailureCount)
		assert.Equal(t, push.KindInvalidToken, result.Responses[0].Err.Kind)
		assert.Equal(t, "msg-1", result.Responses[1].MessageID)
		assert.Equal(t, push.KindProviderError, result.Responses[2].Err.Kind)
		assert.Equal(t, "quota-exceeded", result.Responses[2].Err.Code)
	})

	t.Run("Empty token list makes no provider call", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		result, err := dispatcher.SendToTokens(ctx, nil, msg)
		require.NoError(t, err)
		assert.Empty(t, result.Responses)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})
}

func TestSingleSends(t *testing.T) {
	ctx := context.Background()
	silent := &push.Message{Data: map[string]string{"sync": "1"}}

	t.Run("Token send carries the address and data-only payload", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Token == "fcm-token-0001" && m.Topic == "" && m.Notification == nil && m.Data["sync"] == "1"
		})).Return("projects/p/messages/1", nil)

		id, err := dispatcher.SendToToken(ctx, "fcm-token-0001", silent)
		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/1", id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Topic send", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Topic == "news-2024" && m.Token == "" && m.Condition == ""
		})).Return("msg-topic", nil)

		id, err := dispatcher.SendToTopic(ctx, "news-2024", silent)
		require.NoError(t, err)
		assert.Equal(t, "msg-topic", id)
	})

	t.Run("Condition send", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)
		cond := "'dogs' in topics && 'cats' in topics"

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Condition == cond && m.Topic == ""
		})).Return("msg-cond", nil)

		id, err := dispatcher.SendToCondition(ctx, cond, silent)
		require.NoError(t, err)
		assert.Equal(t, "msg-cond", id)
	})

	t.Run("Unregistered token surfaces terminal kind", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		mockClient.On("Send", ctx, mock.Anything).Return("", errUnregistered)

		_, err := dispatcher.SendToToken(ctx, "fcm-token-0001", silent)
		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrTokenNotRegistered)
		assert.True(t, push.KindOf(err).Terminal())
	})

	t.Run("Provider timeout bounds the call", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient, fcm.WithProviderTimeout(time.Second))

		mockClient.On("Send", mock.MatchedBy(func(c context.Context) bool {
			_, ok := c.Deadline()
			return ok
		}), mock.Anything).Return("msg-1", nil)

		_, err := dispatcher.SendToToken(ctx, "fcm-token-0001", silent)
		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})
}

func TestTopicManagement(t *testing.T) {
	ctx := context.Background()
	tokens := makeTokens(3)

	t.Run("Subscribe maps per-token errors back to tokens", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		resp := &messaging.TopicManagementResponse{
			SuccessCount: 2,
			FailureCount: 1,
			Errors:       []*messaging.ErrorInfo{{Index: 1, Reason: "registration-token-not-registered"}},
		}
		mockClient.On("SubscribeToTopic", ctx, tokens, "news").Return(resp, nil)

		result, err := dispatcher.Subscribe(ctx, tokens, "news")
		require.NoError(t, err)
		assert.Equal(t, 2, result.SuccessCount)
		assert.Equal(t, 1, result.FailureCount)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, tokens[1], result.Errors[0].Token)
		assert.Equal(t, "registration-token-not-registered", result.Errors[0].Reason)
	})

	t.Run("Unsubscribe failure is classified", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := newDispatcher(mockClient)

		mockClient.On("UnsubscribeFromTopic", ctx, tokens, "news").Return(nil, errors.New("auth failed"))

		_, err := dispatcher.Unsubscribe(ctx, tokens, "news")
		require.Error(t, err)
		assert.ErrorIs(t, err, push.ErrProvider)
	})
}
