// --- File: pkg/push/interfaces.go ---
package push

import (
	"context"
	"time"
)

// Dispatcher performs the provider call for each addressing mode. It never
// mutates local state; every provider failure is returned as an *Error.
type Dispatcher interface {
	SendToToken(ctx context.Context, token string, msg *Message) (string, error)
	// SendToTokens addresses every token in a single provider batch. The result
	// is aligned by index with tokens.
	SendToTokens(ctx context.Context, tokens []string, msg *Message) (*DispatchResult, error)
	SendToTopic(ctx context.Context, topic string, msg *Message) (string, error)
	SendToCondition(ctx context.Context, condition string, msg *Message) (string, error)
	Subscribe(ctx context.Context, tokens []string, topic string) (*TopicResult, error)
	Unsubscribe(ctx context.Context, tokens []string, topic string) (*TopicResult, error)
}

// TokenStore is the slice of the device registry the notification core needs.
type TokenStore interface {
	// ActiveTokensForOwner returns the tokens of every active device of ownerID.
	ActiveTokensForOwner(ctx context.Context, ownerID string) ([]string, error)
	// TouchToken records a successful delivery. found is false when no active
	// record exists for token.
	TouchToken(ctx context.Context, token string) (found bool, err error)
	// DeactivateToken excludes token from future fan-out.
	DeactivateToken(ctx context.Context, token string) (found bool, err error)
}

// DeviceRegistry is the full device-registration data layer.
type DeviceRegistry interface {
	TokenStore

	// Register creates the record for reg.Token or refreshes the existing one,
	// reactivating it and assigning it to reg.OwnerID.
	Register(ctx context.Context, reg DeviceRegistration) (*DeviceToken, error)
	// FindByToken returns nil, nil when no record exists.
	FindByToken(ctx context.Context, token string) (*DeviceToken, error)
	// ListForOwner returns active devices, most recently used first.
	ListForOwner(ctx context.Context, ownerID string) ([]DeviceToken, error)
	// Update applies upd to the active record for token. It never reactivates
	// a record and returns nil, nil when no active record exists.
	Update(ctx context.Context, token string, upd DeviceUpdate) (*DeviceToken, error)
	Remove(ctx context.Context, token string) (found bool, err error)
	// Cleanup deletes inactive records and records unused since olderThan.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
	Stats(ctx context.Context) (*DeviceStats, error)
}
