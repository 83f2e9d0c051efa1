package push_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func TestError_KindMatching(t *testing.T) {
	cause := errors.New("registration token is not registered")
	err := &push.Error{Kind: push.KindTokenNotRegistered, Code: "unregistered", Err: cause}
	wrapped := fmt.Errorf("send failed: %w", err)

	assert.ErrorIs(t, wrapped, push.ErrTokenNotRegistered)
	assert.NotErrorIs(t, wrapped, push.ErrInvalidToken)
	assert.ErrorIs(t, wrapped, cause, "Unwrap should expose the provider cause")
	assert.Equal(t, push.KindTokenNotRegistered, push.KindOf(wrapped))
	assert.Equal(t, push.KindUnknown, push.KindOf(errors.New("plain")))
}

func TestErrorKind_Classes(t *testing.T) {
	assert.True(t, push.KindInvalidToken.Terminal())
	assert.True(t, push.KindTokenNotRegistered.Terminal())
	assert.False(t, push.KindProviderError.Terminal())
	assert.False(t, push.KindNoActiveDevices.Terminal())

	assert.True(t, push.KindTooManyRecipients.Validation())
	assert.True(t, push.KindInvalidTopic.Validation())
	assert.False(t, push.KindProviderError.Validation())
}

func TestError_Message(t *testing.T) {
	err := &push.Error{Kind: push.KindProviderError, Code: "quota-exceeded", Msg: "send failed"}
	assert.Equal(t, "send failed (code=quota-exceeded)", err.Error())

	bare := &push.Error{Kind: push.KindInvalidTopic}
	assert.Equal(t, "invalid_topic", bare.Error())
}

func TestError_MarshalJSON(t *testing.T) {
	res := push.RecipientResult{
		Token: "token-abc-123",
		Err:   &push.Error{Kind: push.KindProviderError, Code: "unavailable", Msg: "provider rejected"},
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, "provider_error", errObj["kind"])
	assert.Equal(t, "unavailable", errObj["code"])

	ok := push.RecipientResult{Token: "token-abc-123", MessageID: "m-1"}
	raw, err = json.Marshal(ok)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "error")
}
