package fcm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/builder"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm/fcmtest"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func TestClassify_SDKErrors(t *testing.T) {
	testCases := []struct {
		name         string
		reply        fcmtest.Reply
		wantKind     push.ErrorKind
		wantCode     string
		wantTerminal bool
	}{
		{name: "Unregistered token", reply: fcmtest.Unregistered, wantKind: push.KindTokenNotRegistered, wantCode: "unregistered", wantTerminal: true},
		{name: "Malformed registration token", reply: fcmtest.InvalidToken, wantKind: push.KindInvalidToken, wantCode: "invalid-registration-token", wantTerminal: true},
		{name: "Oversized payload", reply: fcmtest.PayloadTooLarge, wantKind: push.KindProviderError, wantCode: "invalid-argument"},
		{name: "Quota exceeded", reply: fcmtest.QuotaExceeded, wantKind: push.KindProviderError, wantCode: "quota-exceeded"},
		{name: "Unavailable", reply: fcmtest.Unavailable, wantKind: push.KindProviderError, wantCode: "unavailable"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const token = "fcm-token-under-test"
			client, _ := fcmtest.NewClient(t, map[string]fcmtest.Reply{token: tc.reply})
			d := fcm.NewDispatcher(client, newTestLogger())

			_, err := d.SendToToken(context.Background(), token, builder.Build(builder.Input{Title: "t", Body: "b"}))

			require.Error(t, err)
			pe := fcm.Classify(errorsCause(t, err))
			assert.Equal(t, tc.wantKind, pe.Kind)
			assert.Equal(t, tc.wantCode, pe.Code)
			assert.Equal(t, tc.wantTerminal, pe.Kind.Terminal())

			assert.Equal(t, tc.wantKind, push.KindOf(err))
		})
	}
}

func TestSendToTokens_MixedSDKErrors(t *testing.T) {
	tokens := []string{"fcm-token-ok-0001", "fcm-token-gone-002", "fcm-token-bad-0003", "fcm-token-ok-0004", "fcm-token-quota-05"}
	client, fake := fcmtest.NewClient(t, map[string]fcmtest.Reply{
		tokens[1]: fcmtest.Unregistered,
		tokens[2]: fcmtest.InvalidToken,
		tokens[4]: fcmtest.QuotaExceeded,
	})
	d := fcm.NewDispatcher(client, newTestLogger())

	res, err := d.SendToTokens(context.Background(), tokens, builder.Build(builder.Input{Data: map[string]string{"k": "v"}}))

	require.NoError(t, err)
	require.Len(t, res.Responses, len(tokens))
	assert.Equal(t, len(tokens), fake.Sends())
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 3, res.FailureCount)

	for i, r := range res.Responses {
		assert.Equal(t, tokens[i], r.Token)
	}
	assert.Equal(t, "projects/"+fcmtest.ProjectID+"/messages/"+tokens[0], res.Responses[0].MessageID)
	assert.Equal(t, push.KindTokenNotRegistered, res.Responses[1].Err.Kind)
	assert.Equal(t, push.KindInvalidToken, res.Responses[2].Err.Kind)
	assert.True(t, res.Responses[3].OK())
	assert.Equal(t, push.KindProviderError, res.Responses[4].Err.Kind)
	assert.Equal(t, "quota-exceeded", res.Responses[4].Err.Code)
}

// errorsCause returns the SDK error wrapped by a dispatcher error.
func errorsCause(t *testing.T, err error) error {
	t.Helper()
	var pe *push.Error
	require.ErrorAs(t, err, &pe)
	require.NotNil(t, pe.Err)
	return pe.Err
}
