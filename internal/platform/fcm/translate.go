package fcm

import (
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Classify maps a Firebase error onto the closed push.ErrorKind set. It is the
// only place FCM error codes are inspected.
func Classify(err error) *push.Error {
	if err == nil {
		return nil
	}
	switch {
	case messaging.IsUnregistered(err):
		return &push.Error{Kind: push.KindTokenNotRegistered, Code: "unregistered", Msg: "token is not registered", Err: err}
	case messaging.IsInvalidArgument(err) && namesRegistrationToken(err):
		return &push.Error{Kind: push.KindInvalidToken, Code: "invalid-registration-token", Msg: "provider rejected the registration token", Err: err}
	case messaging.IsInvalidArgument(err):
		// Payload problems (size, data keys, image URL) say nothing about the token.
		return &push.Error{Kind: push.KindProviderError, Code: "invalid-argument", Msg: "provider rejected the message", Err: err}
	}
	return &push.Error{Kind: push.KindProviderError, Code: providerCode(err), Msg: "provider error", Err: err}
}

// namesRegistrationToken reports whether an INVALID_ARGUMENT rejection is about
// the token itself ("... is not a valid FCM registration token").
func namesRegistrationToken(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "registration token")
}

func providerCode(err error) string {
	switch {
	case messaging.IsSenderIDMismatch(err):
		return "sender-id-mismatch"
	case messaging.IsQuotaExceeded(err):
		return "quota-exceeded"
	case messaging.IsUnavailable(err):
		return "unavailable"
	case messaging.IsThirdPartyAuthError(err):
		return "third-party-auth-error"
	case messaging.IsInternal(err):
		return "internal"
	default:
		return "unknown"
	}
}

// toFCMMessage renders the provider-agnostic message as an FCM message without
// an address.
func toFCMMessage(msg *push.Message) *messaging.Message {
	fm := &messaging.Message{
		Data: msg.Data,
	}
	if msg.Notification != nil {
		fm.Notification = &messaging.Notification{
			Title:    msg.Notification.Title,
			Body:     msg.Notification.Body,
			ImageURL: msg.Notification.ImageURL,
		}
	}
	if msg.Overrides != nil {
		fm.Android = toAndroid(msg.Overrides.Android)
		fm.APNS = toAPNS(msg.Overrides.APNS)
		fm.Webpush = toWebpush(msg.Overrides.Web, msg.Notification)
	}
	return fm
}

func toAndroid(o *push.AndroidOverrides) *messaging.AndroidConfig {
	if o == nil {
		return nil
	}
	cfg := &messaging.AndroidConfig{
		CollapseKey: o.CollapseKey,
		Priority:    string(o.Priority),
	}
	if o.TTL > 0 {
		ttl := o.TTL
		cfg.TTL = &ttl
	}
	if o.Icon != "" || o.Sound != "" || o.ClickAction != "" || o.ChannelID != "" {
		cfg.Notification = &messaging.AndroidNotification{
			Icon:        o.Icon,
			Sound:       o.Sound,
			ClickAction: o.ClickAction,
			ChannelID:   o.ChannelID,
		}
	}
	return cfg
}

func toAPNS(o *push.APNSOverrides) *messaging.APNSConfig {
	if o == nil {
		return nil
	}
	headers := map[string]string{}
	switch o.Priority {
	case push.PriorityHigh:
		headers["apns-priority"] = "10"
	case push.PriorityNormal:
		headers["apns-priority"] = "5"
	}
	if o.CollapseID != "" {
		headers["apns-collapse-id"] = o.CollapseID
	}
	if len(headers) == 0 {
		headers = nil
	}

	return &messaging.APNSConfig{
		Headers: headers,
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Badge:            o.Badge,
				Sound:            o.Sound,
				Category:         o.Category,
				ThreadID:         o.ThreadID,
				ContentAvailable: o.ContentAvailable,
			},
		},
	}
}

func toWebpush(o *push.WebOverrides, n *push.Notification) *messaging.WebpushConfig {
	if o == nil {
		return nil
	}
	cfg := &messaging.WebpushConfig{}
	if o.TTL > 0 {
		cfg.Headers = map[string]string{"TTL": strconv.FormatInt(int64(o.TTL.Seconds()), 10)}
	}
	if n != nil {
		cfg.Notification = &messaging.WebpushNotification{
			Title: n.Title,
			Body:  n.Body,
			Icon:  o.Icon,
			Badge: o.Badge,
			Image: n.ImageURL,
		}
	}
	if o.Link != "" {
		cfg.FCMOptions = &messaging.WebpushFCMOptions{Link: o.Link}
	}
	return cfg
}

