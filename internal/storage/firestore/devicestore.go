package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// DefaultCollection holds one document per registered token.
const DefaultCollection = "user_devices"

// DeviceStore implements push.DeviceRegistry using Google Cloud Firestore.
type DeviceStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
	logger     *slog.Logger
}

var _ push.DeviceRegistry = (*DeviceStore)(nil)

func NewDeviceStore(client *firestore.Client, collection string, logger *slog.Logger) *DeviceStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &DeviceStore{
		client:     client,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("component", "FirestoreDeviceStore"),
	}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Token      string    `firestore:"token"`
	OwnerID    string    `firestore:"owner_id"`
	Platform   string    `firestore:"platform"`
	DeviceID   string    `firestore:"device_id,omitempty"`
	DeviceName string    `firestore:"device_name,omitempty"`
	AppVersion string    `firestore:"app_version,omitempty"`
	OSVersion  string    `firestore:"os_version,omitempty"`
	Active     bool      `firestore:"active"`
	LastUsedAt time.Time `firestore:"last_used_at"`
	CreatedAt  time.Time `firestore:"created_at"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

func (r deviceRecord) toDomain() push.DeviceToken {
	return push.DeviceToken{
		Token:      r.Token,
		OwnerID:    r.OwnerID,
		Platform:   push.Platform(r.Platform),
		DeviceID:   r.DeviceID,
		DeviceName: r.DeviceName,
		AppVersion: r.AppVersion,
		OSVersion:  r.OSVersion,
		Active:     r.Active,
		LastUsedAt: r.LastUsedAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Register upserts the record for reg.Token. An existing record keeps its
// creation time and is reactivated and reassigned to reg.OwnerID.
func (s *DeviceStore) Register(ctx context.Context, reg push.DeviceRegistration) (*push.DeviceToken, error) {
	ref := s.deviceRef(reg.Token)
	now := s.now()

	var saved deviceRecord
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		createdAt := now
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var existing deviceRecord
			if err := snap.DataTo(&existing); err == nil && !existing.CreatedAt.IsZero() {
				createdAt = existing.CreatedAt
			}
		}

		saved = deviceRecord{
			Token:      reg.Token,
			OwnerID:    reg.OwnerID,
			Platform:   string(reg.Platform),
			DeviceID:   reg.DeviceID,
			DeviceName: reg.DeviceName,
			AppVersion: reg.AppVersion,
			OSVersion:  reg.OSVersion,
			Active:     true,
			LastUsedAt: now,
			CreatedAt:  createdAt,
			UpdatedAt:  now,
		}
		return tx.Set(ref, saved)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	device := saved.toDomain()
	return &device, nil
}

func (s *DeviceStore) FindByToken(ctx context.Context, token string) (*push.DeviceToken, error) {
	snap, err := s.deviceRef(token).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	var record deviceRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode device: %w", err)
	}
	device := record.toDomain()
	return &device, nil
}

// ListForOwner returns the owner's active devices, most recently used first.
func (s *DeviceStore) ListForOwner(ctx context.Context, ownerID string) ([]push.DeviceToken, error) {
	records, err := s.activeForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	devices := make([]push.DeviceToken, 0, len(records))
	for _, r := range records {
		devices = append(devices, r.toDomain())
	}
	return devices, nil
}

func (s *DeviceStore) ActiveTokensForOwner(ctx context.Context, ownerID string) ([]string, error) {
	records, err := s.activeForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(records))
	for _, r := range records {
		tokens = append(tokens, r.Token)
	}
	return tokens, nil
}

// activeForOwner sorts in memory so the query needs no composite index.
func (s *DeviceStore) activeForOwner(ctx context.Context, ownerID string) ([]deviceRecord, error) {
	q := s.devices().
		Where("owner_id", "==", ownerID).
		Where("active", "==", true)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []deviceRecord
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping undecodable device record", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastUsedAt.After(records[j].LastUsedAt)
	})
	return records, nil
}

// Update changes the descriptive fields of an active record. Inactive or
// missing records are left alone and reported as nil.
func (s *DeviceStore) Update(ctx context.Context, token string, upd push.DeviceUpdate) (*push.DeviceToken, error) {
	ref := s.deviceRef(token)

	var saved *deviceRecord
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		saved = nil
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var record deviceRecord
		if err := snap.DataTo(&record); err != nil {
			return fmt.Errorf("failed to decode device: %w", err)
		}
		if !record.Active {
			return nil
		}

		now := s.now()
		updates := []firestore.Update{{Path: "updated_at", Value: now}}
		if upd.Platform != nil {
			record.Platform = string(*upd.Platform)
			updates = append(updates, firestore.Update{Path: "platform", Value: record.Platform})
		}
		if upd.DeviceName != nil {
			record.DeviceName = *upd.DeviceName
			updates = append(updates, firestore.Update{Path: "device_name", Value: record.DeviceName})
		}
		if upd.AppVersion != nil {
			record.AppVersion = *upd.AppVersion
			updates = append(updates, firestore.Update{Path: "app_version", Value: record.AppVersion})
		}
		if upd.OSVersion != nil {
			record.OSVersion = *upd.OSVersion
			updates = append(updates, firestore.Update{Path: "os_version", Value: record.OSVersion})
		}
		record.UpdatedAt = now

		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		saved = &record
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	if saved == nil {
		return nil, nil
	}

	device := saved.toDomain()
	return &device, nil
}

// TouchToken records a successful delivery on an active record.
func (s *DeviceStore) TouchToken(ctx context.Context, token string) (bool, error) {
	return s.update(ctx, token, true, func(now time.Time) []firestore.Update {
		return []firestore.Update{
			{Path: "last_used_at", Value: now},
			{Path: "updated_at", Value: now},
		}
	})
}

// DeactivateToken reports found only when it flipped an active record.
func (s *DeviceStore) DeactivateToken(ctx context.Context, token string) (bool, error) {
	return s.update(ctx, token, true, func(now time.Time) []firestore.Update {
		return []firestore.Update{
			{Path: "active", Value: false},
			{Path: "updated_at", Value: now},
		}
	})
}

func (s *DeviceStore) update(ctx context.Context, token string, requireActive bool, updates func(time.Time) []firestore.Update) (bool, error) {
	ref := s.deviceRef(token)
	found := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		found = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if requireActive {
			active, err := snap.DataAt("active")
			if err != nil || active != true {
				return nil
			}
		}
		found = true
		return tx.Update(ref, updates(s.now()))
	})
	if err != nil {
		return false, fmt.Errorf("failed to update device: %w", err)
	}
	return found, nil
}

func (s *DeviceStore) Remove(ctx context.Context, token string) (bool, error) {
	ref := s.deviceRef(token)
	_, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get device: %w", err)
	}

	if _, err := ref.Delete(ctx); err != nil {
		return false, fmt.Errorf("failed to delete device: %w", err)
	}
	return true, nil
}

// Cleanup deletes every inactive record and every record not used since
// olderThan, returning the number removed.
func (s *DeviceStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	queries := []firestore.Query{
		s.devices().Where("active", "==", false),
		s.devices().Where("last_used_at", "<", olderThan),
	}

	refs := map[string]*firestore.DocumentRef{}
	for _, q := range queries {
		iter := q.Select().Documents(ctx)
		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				return 0, fmt.Errorf("firestore iteration failed: %w", err)
			}
			refs[doc.Ref.ID] = doc.Ref
		}
		iter.Stop()
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to enqueue delete: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	if firstErr != nil {
		return deleted, fmt.Errorf("cleanup partially failed (%d of %d deleted): %w", deleted, len(jobs), firstErr)
	}

	s.logger.Info("Cleaned up device records", "deleted", deleted, "older_than", olderThan)
	return deleted, nil
}

func (s *DeviceStore) Stats(ctx context.Context) (*push.DeviceStats, error) {
	stats := &push.DeviceStats{ByPlatform: map[push.Platform]int{}}
	active := s.devices().Where("active", "==", true)

	var err error
	if stats.TotalActive, err = s.count(ctx, active); err != nil {
		return nil, err
	}
	if stats.Inactive, err = s.count(ctx, s.devices().Where("active", "==", false)); err != nil {
		return nil, err
	}
	for _, p := range []push.Platform{push.PlatformIOS, push.PlatformAndroid, push.PlatformWeb} {
		n, err := s.count(ctx, active.Where("platform", "==", string(p)))
		if err != nil {
			return nil, err
		}
		stats.ByPlatform[p] = n
	}
	return stats, nil
}

func (s *DeviceStore) count(ctx context.Context, q firestore.Query) (int, error) {
	res, err := q.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("firestore count failed: %w", err)
	}

	switch v := res["count"].(type) {
	case *firestorepb.Value:
		return int(v.GetIntegerValue()), nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("unexpected count result type %T", v)
	}
}

// --- Helpers ---

func (s *DeviceStore) devices() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// deviceRef: {collection}/{sha256(token)}
func (s *DeviceStore) deviceRef(token string) *firestore.DocumentRef {
	return s.devices().Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
