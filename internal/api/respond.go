package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-service/internal/notifier"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// maxBodyBytes bounds request bodies; a full multicast list fits comfortably.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest)
}

// ownerFromRequest resolves the authenticated caller. There is no fallback
// identity: a missing or malformed handle is a 401.
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	owner, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user identity")
		return "", false
	}
	return owner.String(), true
}

// statusForError maps the push error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	if errors.Is(err, notifier.ErrOwnerRequired) {
		return http.StatusBadRequest
	}
	switch kind := push.KindOf(err); {
	case kind == push.KindNoActiveDevices:
		return http.StatusNotFound
	case kind == push.KindTokenNotRegistered:
		return http.StatusGone
	case kind == push.KindProviderError:
		return http.StatusBadGateway
	case kind == push.KindInvalidToken, kind.Validation():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs and renders err. Provider causes stay in the log.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusForError(err)
	msg := err.Error()
	var pe *push.Error
	if errors.As(err, &pe) && pe.Kind == push.KindProviderError {
		msg = "push provider error"
		if pe.Code != "" {
			msg += ": " + pe.Code
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "op", op, "status", status, "err", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		logger.Warn("Request rejected", "op", op, "status", status, "err", err)
	}
	response.WriteJSONError(w, status, msg)
}
