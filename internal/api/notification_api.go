package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-service/internal/builder"
	"github.com/tinywideclouds/go-push-service/internal/notifier"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Notifier is the slice of notifier.Service the HTTP surface drives.
type Notifier interface {
	SendToUser(ctx context.Context, ownerID string, in builder.Input) (*notifier.UserSendResult, error)
	SendToToken(ctx context.Context, token string, in builder.Input) (string, error)
	SendToMultiple(ctx context.Context, tokens []string, in builder.Input) (*push.DispatchResult, error)
	SendToTopic(ctx context.Context, topic string, in builder.Input) (string, error)
	SendToCondition(ctx context.Context, condition string, in builder.Input) (string, error)
	SubscribeTopic(ctx context.Context, tokens []string, topic string) (*push.TopicResult, error)
	UnsubscribeTopic(ctx context.Context, tokens []string, topic string) (*push.TopicResult, error)
}

var errEmptyContent = errors.New("either title and body or a non-empty data object is required")

// contentRequest is the message part shared by every send body.
type contentRequest struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	ImageURL string                 `json:"imageUrl,omitempty"`
	Data     map[string]string      `json:"data,omitempty"`
	Android  *push.AndroidOverrides `json:"android,omitempty"`
	APNS     *push.APNSOverrides    `json:"apns,omitempty"`
	Webpush  *push.WebOverrides     `json:"webpush,omitempty"`
}

func (c contentRequest) validate() error {
	if (c.Title != "" && c.Body != "") || len(c.Data) > 0 {
		return nil
	}
	return errEmptyContent
}

func (c contentRequest) input() builder.Input {
	in := builder.Input{
		Title:    c.Title,
		Body:     c.Body,
		ImageURL: c.ImageURL,
		Data:     c.Data,
	}
	if c.Android != nil || c.APNS != nil || c.Webpush != nil {
		in.Overrides = &push.PlatformOverrides{Android: c.Android, APNS: c.APNS, Web: c.Webpush}
	}
	return in
}

type SendToUserRequest struct {
	OwnerID string `json:"ownerId"`
	contentRequest
}

type SendToTokenRequest struct {
	Token string `json:"token"`
	contentRequest
}

type SendToMultipleRequest struct {
	Tokens []string `json:"tokens"`
	contentRequest
}

type SendToTopicRequest struct {
	Topic string `json:"topic"`
	contentRequest
}

type SendToConditionRequest struct {
	Condition string `json:"condition"`
	contentRequest
}

type TopicSubscriptionRequest struct {
	Tokens []string `json:"tokens"`
	Topic  string   `json:"topic"`
}

type NotificationAPI struct {
	Notifier Notifier
	Logger   *slog.Logger
}

func NewNotificationAPI(n Notifier, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Notifier: n,
		Logger:   logger.With("component", "NotificationAPI"),
	}
}

// begin authenticates the caller, decodes the body into dest and returns a
// request-scoped logger.
func (api *NotificationAPI) begin(w http.ResponseWriter, r *http.Request, op string, dest any) (*slog.Logger, bool) {
	caller, ok := ownerFromRequest(w, r)
	if !ok {
		return nil, false
	}
	if err := decodeJSON(w, r, dest); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	return api.Logger.With("op", op, "request_id", uuid.NewString(), "caller", caller), true
}

func (api *NotificationAPI) SendToUser(w http.ResponseWriter, r *http.Request) {
	var req SendToUserRequest
	log, ok := api.begin(w, r, "send-to-user", &req)
	if !ok {
		return
	}
	if req.OwnerID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing ownerId")
		return
	}
	owner, err := urn.Parse(req.OwnerID)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid ownerId")
		return
	}
	if err := req.validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := api.Notifier.SendToUser(r.Context(), owner.String(), req.input())
	if err != nil {
		writeServiceError(w, log, "send-to-user", err)
		return
	}
	log.Info("Notification sent to user", "owner", owner.String(), "success", res.SuccessCount, "failure", res.FailureCount)
	writeJSON(w, http.StatusOK, res)
}

func (api *NotificationAPI) SendToToken(w http.ResponseWriter, r *http.Request) {
	var req SendToTokenRequest
	log, ok := api.begin(w, r, "send-to-token", &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := api.Notifier.SendToToken(r.Context(), req.Token, req.input())
	if err != nil {
		writeServiceError(w, log, "send-to-token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

func (api *NotificationAPI) SendToMultiple(w http.ResponseWriter, r *http.Request) {
	var req SendToMultipleRequest
	log, ok := api.begin(w, r, "send-to-multiple", &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := api.Notifier.SendToMultiple(r.Context(), req.Tokens, req.input())
	if err != nil {
		writeServiceError(w, log, "send-to-multiple", err)
		return
	}
	log.Info("Multicast sent", "tokens", len(req.Tokens), "success", res.SuccessCount, "failure", res.FailureCount)
	writeJSON(w, http.StatusOK, res)
}

func (api *NotificationAPI) SendToTopic(w http.ResponseWriter, r *http.Request) {
	var req SendToTopicRequest
	log, ok := api.begin(w, r, "send-to-topic", &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := api.Notifier.SendToTopic(r.Context(), req.Topic, req.input())
	if err != nil {
		writeServiceError(w, log, "send-to-topic", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

func (api *NotificationAPI) SendToCondition(w http.ResponseWriter, r *http.Request) {
	var req SendToConditionRequest
	log, ok := api.begin(w, r, "send-to-condition", &req)
	if !ok {
		return
	}
	if err := req.validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := api.Notifier.SendToCondition(r.Context(), req.Condition, req.input())
	if err != nil {
		writeServiceError(w, log, "send-to-condition", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

func (api *NotificationAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req TopicSubscriptionRequest
	log, ok := api.begin(w, r, "subscribe-to-topic", &req)
	if !ok {
		return
	}

	res, err := api.Notifier.SubscribeTopic(r.Context(), req.Tokens, req.Topic)
	if err != nil {
		writeServiceError(w, log, "subscribe-to-topic", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (api *NotificationAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req TopicSubscriptionRequest
	log, ok := api.begin(w, r, "unsubscribe-from-topic", &req)
	if !ok {
		return
	}

	res, err := api.Notifier.UnsubscribeTopic(r.Context(), req.Tokens, req.Topic)
	if err != nil {
		writeServiceError(w, log, "unsubscribe-from-topic", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
