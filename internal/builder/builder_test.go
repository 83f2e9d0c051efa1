package builder_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/builder"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func makeTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("fcm-token-%04d", i)
	}
	return tokens
}

func TestBuild(t *testing.T) {
	t.Run("Notification message", func(t *testing.T) {
		msg := builder.Build(builder.Input{
			Title:    "Hi",
			Body:     "Body",
			ImageURL: "https://cdn.example.com/a.png",
			Data:     map[string]string{"k": "v"},
		})

		require.NotNil(t, msg.Notification)
		assert.Equal(t, "Hi", msg.Notification.Title)
		assert.Equal(t, "Body", msg.Notification.Body)
		assert.Equal(t, "https://cdn.example.com/a.png", msg.Notification.ImageURL)
		assert.Equal(t, map[string]string{"k": "v"}, msg.Data)
		assert.False(t, msg.Silent())
		assert.Nil(t, msg.Overrides)
	})

	t.Run("Data-only message is silent", func(t *testing.T) {
		msg := builder.Build(builder.Input{Data: map[string]string{"sync": "1"}})

		assert.Nil(t, msg.Notification)
		assert.True(t, msg.Silent())
		assert.Equal(t, "1", msg.Data["sync"])
	})

	t.Run("Data map is copied", func(t *testing.T) {
		data := map[string]string{"k": "v"}
		msg := builder.Build(builder.Input{Title: "t", Data: data})
		data["k"] = "changed"
		assert.Equal(t, "v", msg.Data["k"])
	})

	t.Run("Android priority defaults to high", func(t *testing.T) {
		in := builder.Input{
			Title: "t",
			Overrides: &push.PlatformOverrides{
				Android: &push.AndroidOverrides{TTL: time.Hour, CollapseKey: "chat"},
				Web:     &push.WebOverrides{Link: "https://app.example.com"},
			},
		}
		msg := builder.Build(in)

		require.NotNil(t, msg.Overrides)
		assert.Equal(t, push.PriorityHigh, msg.Overrides.Android.Priority)
		assert.Equal(t, time.Hour, msg.Overrides.Android.TTL)
		assert.Equal(t, "https://app.example.com", msg.Overrides.Web.Link)
		assert.Nil(t, msg.Overrides.APNS)
		// Caller's struct untouched.
		assert.Empty(t, in.Overrides.Android.Priority)
	})
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, builder.ValidateToken("abcdefghij"))

	for _, bad := range []string{"", "   ", "short"} {
		err := builder.ValidateToken(bad)
		assert.ErrorIs(t, err, push.ErrInvalidToken, "token %q", bad)
	}
}

func TestValidateTokens_Bounds(t *testing.T) {
	testCases := []struct {
		name    string
		count   int
		max     int
		wantErr error
	}{
		{name: "Empty list rejected", count: 0, max: builder.MaxMulticastTokens, wantErr: push.ErrTooManyRecipients},
		{name: "Single token", count: 1, max: builder.MaxMulticastTokens},
		{name: "Multicast upper bound", count: 500, max: builder.MaxMulticastTokens},
		{name: "Multicast over bound", count: 501, max: builder.MaxMulticastTokens, wantErr: push.ErrTooManyRecipients},
		{name: "Topic management upper bound", count: 1000, max: builder.MaxTopicManagementTokens},
		{name: "Topic management over bound", count: 1001, max: builder.MaxTopicManagementTokens, wantErr: push.ErrTooManyRecipients},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := builder.ValidateTokens(makeTokens(tc.count), tc.max)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("Malformed token reports index", func(t *testing.T) {
		tokens := makeTokens(3)
		tokens[2] = "bad"
		err := builder.ValidateTokens(tokens, builder.MaxMulticastTokens)
		require.ErrorIs(t, err, push.ErrInvalidToken)
		assert.Contains(t, err.Error(), "index 2")
	})
}

func TestValidateTopic(t *testing.T) {
	for _, good := range []string{"news-2024", "a.b~c%d_e", "X"} {
		assert.NoError(t, builder.ValidateTopic(good), good)
	}
	for _, bad := range []string{"", "news feed!", "a/b", "topic#1"} {
		assert.ErrorIs(t, builder.ValidateTopic(bad), push.ErrInvalidTopic, bad)
	}
}

func TestValidateCondition(t *testing.T) {
	assert.NoError(t, builder.ValidateCondition("'dogs' in topics || 'cats' in topics"))
	assert.NoError(t, builder.ValidateCondition(strings.Repeat("a", builder.MaxConditionLength)))

	assert.ErrorIs(t, builder.ValidateCondition(""), push.ErrInvalidCondition)
	assert.ErrorIs(t, builder.ValidateCondition(strings.Repeat("a", builder.MaxConditionLength+1)), push.ErrInvalidCondition)
}
