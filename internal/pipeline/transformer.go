// Package pipeline contains the Pub/Sub ingestion stages of the service.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// PushEvent asks for a notification to be delivered to every active device of
// RecipientID.
type PushEvent struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

func (e *PushEvent) validate() error {
	if e.RecipientID == "" {
		return errors.New("missing recipient_id")
	}
	recipient, err := urn.Parse(e.RecipientID)
	if err != nil {
		return fmt.Errorf("invalid recipient_id: %w", err)
	}
	e.RecipientID = recipient.String()

	if (e.Title == "" || e.Body == "") && len(e.Data) == 0 {
		return errors.New("event needs title and body or a non-empty data object")
	}
	return nil
}

// PushEventTransformer is a dataflow Transformer that unmarshals and validates
// a raw payload. Undecodable or invalid events are skipped so the
// StreamingService can route them to the DLQ.
func PushEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*PushEvent, bool, error) {
	var event PushEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push event from message %s: %w", msg.ID, err)
	}
	if err := event.validate(); err != nil {
		return nil, true, fmt.Errorf("invalid push event in message %s: %w", msg.ID, err)
	}
	return &event, false, nil
}
