package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/internal/builder"
	"github.com/tinywideclouds/go-push-service/internal/notifier"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// UserSender is the notifier operation the pipeline drives.
type UserSender interface {
	SendToUser(ctx context.Context, ownerID string, in builder.Input) (*notifier.UserSendResult, error)
}

// NewProcessor creates the stage that fans an event out to the recipient's
// devices. Every delivery outcome is final: only failures that happen before
// anything was sent are returned for redelivery.
func NewProcessor(sender UserSender, logger *slog.Logger) messagepipeline.StreamProcessor[PushEvent] {
	return func(ctx context.Context, original messagepipeline.Message, event *PushEvent) error {
		procLogger := logger.With(
			"recipient_id", event.RecipientID,
			"pubsub_msg_id", original.ID,
		)

		res, err := sender.SendToUser(ctx, event.RecipientID, builder.Input{
			Title:    event.Title,
			Body:     event.Body,
			ImageURL: event.ImageURL,
			Data:     event.Data,
		})
		switch {
		case err == nil:
			procLogger.Info("Push event delivered",
				"total_tokens", res.TotalTokens,
				"success", res.SuccessCount,
				"failure", res.FailureCount)
			return nil
		case push.KindOf(err) == push.KindNoActiveDevices:
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		case push.KindOf(err) != push.KindUnknown:
			// The provider was reached; retrying would duplicate deliveries.
			procLogger.Error("Push event dispatch failed", "kind", push.KindOf(err).String(), "err", err)
			return nil
		default:
			procLogger.Error("Failed to resolve device tokens", "err", err)
			return err
		}
	}
}
