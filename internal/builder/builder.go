// Package builder assembles provider-agnostic push messages and performs all
// local address validation. Nothing here touches the network.
package builder

import (
	"regexp"
	"strings"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	// MinTokenLength rejects obviously malformed tokens before a provider round trip.
	MinTokenLength = 10
	// MaxMulticastTokens is the provider's batch limit for one multicast call.
	MaxMulticastTokens = 500
	// MaxTopicManagementTokens is the provider's limit for one (un)subscribe call.
	MaxTopicManagementTokens = 1000
	MaxConditionLength       = 1000
)

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9-_.~%]+$`)

// Input carries the request parameters a Message is built from.
type Input struct {
	Title     string                  `json:"title,omitempty"`
	Body      string                  `json:"body,omitempty"`
	ImageURL  string                  `json:"imageUrl,omitempty"`
	Data      map[string]string       `json:"data,omitempty"`
	Overrides *push.PlatformOverrides `json:"overrides,omitempty"`
}

// Build produces the Message for in. Without a title, body or image the message
// is data-only.
func Build(in Input) *push.Message {
	msg := &push.Message{
		Data: make(map[string]string, len(in.Data)),
	}
	for k, v := range in.Data {
		msg.Data[k] = v
	}

	if in.Title != "" || in.Body != "" || in.ImageURL != "" {
		msg.Notification = &push.Notification{
			Title:    in.Title,
			Body:     in.Body,
			ImageURL: in.ImageURL,
		}
	}

	if in.Overrides != nil {
		msg.Overrides = normalizeOverrides(in.Overrides)
	}
	return msg
}

// normalizeOverrides copies o, defaulting Android priority to high.
func normalizeOverrides(o *push.PlatformOverrides) *push.PlatformOverrides {
	out := &push.PlatformOverrides{}
	if o.Android != nil {
		android := *o.Android
		if android.Priority == "" {
			android.Priority = push.PriorityHigh
		}
		out.Android = &android
	}
	if o.APNS != nil {
		apns := *o.APNS
		out.APNS = &apns
	}
	if o.Web != nil {
		web := *o.Web
		out.Web = &web
	}
	return out
}

// ValidateToken checks the syntax of a single delivery token.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return push.NewError(push.KindInvalidToken, "invalid token: token must be a non-empty string")
	}
	if len(token) < MinTokenLength {
		return push.NewError(push.KindInvalidToken, "invalid token: token is too short")
	}
	return nil
}

// ValidateTokens checks that 1..max tokens were supplied and that each one is
// well formed.
func ValidateTokens(tokens []string, max int) error {
	if len(tokens) == 0 {
		return push.NewError(push.KindTooManyRecipients, "invalid tokens: must be a non-empty list")
	}
	if len(tokens) > max {
		return push.NewError(push.KindTooManyRecipients, "too many tokens: %d supplied, maximum is %d", len(tokens), max)
	}
	for i, token := range tokens {
		if err := ValidateToken(token); err != nil {
			return push.NewError(push.KindInvalidToken, "invalid token at index %d: %v", i, err)
		}
	}
	return nil
}

// ValidateTopic checks a topic name against the provider's allowed alphabet.
func ValidateTopic(topic string) error {
	if topic == "" {
		return push.NewError(push.KindInvalidTopic, "invalid topic: topic must be a non-empty string")
	}
	if !topicPattern.MatchString(topic) {
		return push.NewError(push.KindInvalidTopic, "invalid topic %q: must match %s", topic, topicPattern.String())
	}
	return nil
}

// ValidateCondition checks the length of a topic condition. The boolean grammar
// is left to the provider.
func ValidateCondition(condition string) error {
	if strings.TrimSpace(condition) == "" {
		return push.NewError(push.KindInvalidCondition, "invalid condition: condition must be a non-empty string")
	}
	if len(condition) > MaxConditionLength {
		return push.NewError(push.KindInvalidCondition, "invalid condition: %d characters exceeds maximum of %d", len(condition), MaxConditionLength)
	}
	return nil
}
