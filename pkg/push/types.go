// Package push contains the domain models and collaborator contracts shared by
// the push service: device tokens, provider-agnostic messages, dispatch results
// and the error taxonomy.
package push

import (
	"encoding/json"
	"time"
)

// Platform identifies the client family a token was issued to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	default:
		return false
	}
}

// DeviceToken is a single registered client installation.
type DeviceToken struct {
	Token      string    `json:"token"`
	OwnerID    string    `json:"ownerId"`
	Platform   Platform  `json:"platform"`
	DeviceID   string    `json:"deviceId,omitempty"`
	DeviceName string    `json:"deviceName,omitempty"`
	AppVersion string    `json:"appVersion,omitempty"`
	OSVersion  string    `json:"osVersion,omitempty"`
	Active     bool      `json:"active"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DeviceRegistration is the input for creating or refreshing a DeviceToken.
type DeviceRegistration struct {
	Token      string   `json:"token"`
	OwnerID    string   `json:"-"`
	Platform   Platform `json:"platform"`
	DeviceID   string   `json:"deviceId,omitempty"`
	DeviceName string   `json:"deviceName,omitempty"`
	AppVersion string   `json:"appVersion,omitempty"`
	OSVersion  string   `json:"osVersion,omitempty"`
}

// DeviceUpdate carries the descriptive fields of an active device that may
// change after registration. Nil fields are left as they are.
type DeviceUpdate struct {
	Platform   *Platform `json:"platform,omitempty"`
	DeviceName *string   `json:"deviceName,omitempty"`
	AppVersion *string   `json:"appVersion,omitempty"`
	OSVersion  *string   `json:"osVersion,omitempty"`
}

// DeviceStats summarises the registry.
type DeviceStats struct {
	TotalActive int              `json:"totalActive"`
	Inactive    int              `json:"inactive"`
	ByPlatform  map[Platform]int `json:"byPlatform"`
}

// Notification is the user-visible part of a Message.
type Notification struct {
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Priority is a delivery urgency hint.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// AndroidOverrides tune delivery and presentation on Android clients. On the
// wire TTL is expressed in milliseconds.
type AndroidOverrides struct {
	Priority    Priority      `json:"priority,omitempty"`
	TTL         time.Duration `json:"ttl,omitempty"`
	CollapseKey string        `json:"collapseKey,omitempty"`
	Icon        string        `json:"icon,omitempty"`
	Sound       string        `json:"sound,omitempty"`
	ClickAction string        `json:"clickAction,omitempty"`
	ChannelID   string        `json:"channelId,omitempty"`
}

// APNSOverrides tune delivery and presentation on Apple clients.
type APNSOverrides struct {
	Priority         Priority `json:"priority,omitempty"`
	CollapseID       string   `json:"collapseId,omitempty"`
	Badge            *int     `json:"badge,omitempty"`
	Sound            string   `json:"sound,omitempty"`
	Category         string   `json:"category,omitempty"`
	ThreadID         string   `json:"threadId,omitempty"`
	ContentAvailable bool     `json:"contentAvailable,omitempty"`
}

// WebOverrides tune presentation in browsers. On the wire TTL is expressed in
// seconds, matching the Web Push TTL header.
type WebOverrides struct {
	Icon  string        `json:"icon,omitempty"`
	Badge string        `json:"badge,omitempty"`
	Link  string        `json:"link,omitempty"`
	TTL   time.Duration `json:"ttl,omitempty"`
}

func (o AndroidOverrides) MarshalJSON() ([]byte, error) {
	type alias AndroidOverrides
	return json.Marshal(struct {
		alias
		TTL int64 `json:"ttl,omitempty"`
	}{alias(o), o.TTL.Milliseconds()})
}

func (o *AndroidOverrides) UnmarshalJSON(b []byte) error {
	type alias AndroidOverrides
	aux := struct {
		*alias
		TTL int64 `json:"ttl,omitempty"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.TTL = time.Duration(aux.TTL) * time.Millisecond
	return nil
}

func (o WebOverrides) MarshalJSON() ([]byte, error) {
	type alias WebOverrides
	return json.Marshal(struct {
		alias
		TTL int64 `json:"ttl,omitempty"`
	}{alias(o), int64(o.TTL / time.Second)})
}

func (o *WebOverrides) UnmarshalJSON(b []byte) error {
	type alias WebOverrides
	aux := struct {
		*alias
		TTL int64 `json:"ttl,omitempty"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.TTL = time.Duration(aux.TTL) * time.Second
	return nil
}

// PlatformOverrides are optional per-platform hints. They never affect whether a
// message is deliverable.
type PlatformOverrides struct {
	Android *AndroidOverrides `json:"android,omitempty"`
	APNS    *APNSOverrides    `json:"apns,omitempty"`
	Web     *WebOverrides     `json:"webpush,omitempty"`
}

// Message is the provider-agnostic content of a single send. The address
// (token, token list, topic or condition) is supplied to the Dispatcher call.
// A nil Notification makes the message data-only.
type Message struct {
	Notification *Notification
	Data         map[string]string
	Overrides    *PlatformOverrides
}

// Silent reports whether the message carries no display payload.
func (m *Message) Silent() bool {
	return m.Notification == nil
}

// RecipientResult is the outcome for one token of a batch send.
type RecipientResult struct {
	Token     string `json:"token"`
	MessageID string `json:"messageId,omitempty"`
	Err       *Error `json:"error,omitempty"`
}

// OK reports whether the provider accepted the message for this token.
func (r RecipientResult) OK() bool {
	return r.Err == nil
}

// DispatchResult is the outcome of a batch send. Responses[i] always
// corresponds to the i-th token of the request.
type DispatchResult struct {
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
	Responses    []RecipientResult `json:"responses"`
}

// TopicError describes a token the provider refused to (un)subscribe.
type TopicError struct {
	Index  int    `json:"index"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// TopicResult is the outcome of a topic subscription change.
type TopicResult struct {
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	Errors       []TopicError `json:"errors,omitempty"`
}
