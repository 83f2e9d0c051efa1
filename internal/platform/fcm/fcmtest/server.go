// Package fcmtest runs a fake FCM v1 send endpoint and hands out real
// *messaging.Client values pointed at it, so provider errors come from the SDK
// itself.
package fcmtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

const ProjectID = "fcmtest-project"

// Reply is the error the endpoint returns for one token.
type Reply struct {
	HTTPStatus int
	// Status is the google.rpc status, e.g. "INVALID_ARGUMENT".
	Status string
	// ErrorCode is the FcmError detail, e.g. "UNREGISTERED". Optional.
	ErrorCode string
	Message   string
}

var (
	Unregistered = Reply{
		HTTPStatus: http.StatusNotFound,
		Status:     "NOT_FOUND",
		ErrorCode:  "UNREGISTERED",
		Message:    "Requested entity was not found.",
	}
	InvalidToken = Reply{
		HTTPStatus: http.StatusBadRequest,
		Status:     "INVALID_ARGUMENT",
		ErrorCode:  "INVALID_ARGUMENT",
		Message:    "The registration token is not a valid FCM registration token",
	}
	PayloadTooLarge = Reply{
		HTTPStatus: http.StatusBadRequest,
		Status:     "INVALID_ARGUMENT",
		ErrorCode:  "INVALID_ARGUMENT",
		Message:    "Message payload exceeds the maximum size",
	}
	QuotaExceeded = Reply{
		HTTPStatus: http.StatusTooManyRequests,
		Status:     "RESOURCE_EXHAUSTED",
		ErrorCode:  "QUOTA_EXCEEDED",
		Message:    "Sending quota exceeded.",
	}
	Unavailable = Reply{
		HTTPStatus: http.StatusServiceUnavailable,
		Status:     "UNAVAILABLE",
		ErrorCode:  "UNAVAILABLE",
		Message:    "The service is currently unavailable.",
	}
)

// Server answers sends by token. Tokens without a Reply succeed with message
// ID "projects/<project>/messages/<token>".
type Server struct {
	mu      sync.Mutex
	replies map[string]Reply
	sends   int
}

func (s *Server) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/messages:send") {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Message struct {
			Token string `json:"token"`
		} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.sends++
	reply, failed := s.replies[body.Message.Token]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !failed {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name": "projects/" + ProjectID + "/messages/" + body.Message.Token,
		})
		return
	}

	errBody := map[string]any{
		"code":    reply.HTTPStatus,
		"message": reply.Message,
		"status":  reply.Status,
	}
	if reply.ErrorCode != "" {
		errBody["details"] = []map[string]string{{
			"@type":     "type.googleapis.com/google.firebase.fcm.v1.FcmError",
			"errorCode": reply.ErrorCode,
		}}
	}
	if reply.HTTPStatus == http.StatusServiceUnavailable {
		// Keep the SDK's retries immediate.
		w.Header().Set("Retry-After", "0")
	}
	w.WriteHeader(reply.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": errBody})
}

// NewClient starts a fake endpoint and returns a messaging client bound to it.
func NewClient(t testing.TB, replies map[string]Reply) (*messaging.Client, *Server) {
	t.Helper()
	fake := &Server{replies: replies}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: ProjectID},
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("firebase app: %v", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		t.Fatalf("messaging client: %v", err)
	}
	return client, fake
}
