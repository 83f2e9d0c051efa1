package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	maxDeviceNameLength = 100
	maxVersionLength    = 20
)

type DeviceAPI struct {
	Store       push.DeviceRegistry
	CleanupDays int
	Logger      *slog.Logger
}

func NewDeviceAPI(store push.DeviceRegistry, cleanupDays int, logger *slog.Logger) *DeviceAPI {
	if cleanupDays <= 0 {
		cleanupDays = 30
	}
	return &DeviceAPI{
		Store:       store,
		CleanupDays: cleanupDays,
		Logger:      logger.With("component", "DeviceAPI"),
	}
}

func validateRegistration(reg push.DeviceRegistration) error {
	if strings.TrimSpace(reg.Token) == "" {
		return fmt.Errorf("missing token")
	}
	if !reg.Platform.Valid() {
		return fmt.Errorf("platform must be one of ios, android, web")
	}
	if len(reg.DeviceName) > maxDeviceNameLength {
		return fmt.Errorf("deviceName exceeds %d characters", maxDeviceNameLength)
	}
	if len(reg.AppVersion) > maxVersionLength || len(reg.OSVersion) > maxVersionLength {
		return fmt.Errorf("appVersion and osVersion must not exceed %d characters", maxVersionLength)
	}
	return nil
}

func validateUpdate(upd push.DeviceUpdate) error {
	if upd.Platform != nil && !upd.Platform.Valid() {
		return fmt.Errorf("platform must be one of ios, android, web")
	}
	if upd.DeviceName != nil && len(*upd.DeviceName) > maxDeviceNameLength {
		return fmt.Errorf("deviceName exceeds %d characters", maxDeviceNameLength)
	}
	for _, v := range []*string{upd.AppVersion, upd.OSVersion} {
		if v != nil && len(*v) > maxVersionLength {
			return fmt.Errorf("appVersion and osVersion must not exceed %d characters", maxVersionLength)
		}
	}
	return nil
}

// Register creates or refreshes the caller's device record.
func (api *DeviceAPI) Register(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var reg push.DeviceRegistration
	if err := decodeJSON(w, r, &reg); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateRegistration(reg); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg.OwnerID = owner

	device, err := api.Store.Register(r.Context(), reg)
	if err != nil {
		api.Logger.Error("Failed to register device", "owner", owner, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Device registered", "owner", owner, "platform", reg.Platform)

	writeJSON(w, http.StatusCreated, device)
}

// ListMine returns the caller's active devices.
func (api *DeviceAPI) ListMine(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	api.list(w, r, owner)
}

func (api *DeviceAPI) list(w http.ResponseWriter, r *http.Request, owner string) {
	devices, err := api.Store.ListForOwner(r.Context(), owner)
	if err != nil {
		api.Logger.Error("Failed to list devices", "owner", owner, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if devices == nil {
		devices = []push.DeviceToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// ownedDevice loads the device for the {token} path value and checks that the
// caller owns it. Another owner's token is reported as not found.
func (api *DeviceAPI) ownedDevice(w http.ResponseWriter, r *http.Request) (*push.DeviceToken, bool) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return nil, false
	}
	token := r.PathValue("token")
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return nil, false
	}

	device, err := api.Store.FindByToken(r.Context(), token)
	if err != nil {
		api.Logger.Error("Failed to load device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return nil, false
	}
	if device == nil || device.OwnerID != owner {
		response.WriteJSONError(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	return device, true
}

func (api *DeviceAPI) GetByToken(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// Update changes the descriptive fields of one of the caller's active devices.
// An inactive device is not reactivated and is reported as not found.
func (api *DeviceAPI) Update(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}

	var upd push.DeviceUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateUpdate(upd); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := api.Store.Update(r.Context(), device.Token, upd)
	if err != nil {
		api.Logger.Error("Device update failed", "op", "update", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if updated == nil {
		response.WriteJSONError(w, http.StatusNotFound, "active device not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (api *DeviceAPI) TouchLastUsed(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}
	found, err := api.Store.TouchToken(r.Context(), device.Token)
	api.writeMutation(w, "touch", found, err)
}

func (api *DeviceAPI) Deactivate(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}
	found, err := api.Store.DeactivateToken(r.Context(), device.Token)
	api.writeMutation(w, "deactivate", found, err)
}

func (api *DeviceAPI) Delete(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}
	found, err := api.Store.Remove(r.Context(), device.Token)
	api.writeMutation(w, "delete", found, err)
}

func (api *DeviceAPI) writeMutation(w http.ResponseWriter, op string, found bool, err error) {
	if err != nil {
		api.Logger.Error("Device update failed", "op", op, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if !found {
		response.WriteJSONError(w, http.StatusNotFound, "active device not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Admin ---

// ListForUser returns the active devices of the {id} path value.
func (api *DeviceAPI) ListForUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerFromRequest(w, r); !ok {
		return
	}
	target, err := urn.Parse(r.PathValue("id"))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	api.list(w, r, target.String())
}

// Cleanup deletes inactive devices and devices unused for ?days=N days.
func (api *DeviceAPI) Cleanup(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerFromRequest(w, r); !ok {
		return
	}
	days := api.CleanupDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.WriteJSONError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := api.Store.Cleanup(r.Context(), cutoff)
	if err != nil {
		api.Logger.Error("Device cleanup failed", "days", days, "deleted", deleted, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	api.Logger.Info("Device cleanup complete", "days", days, "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "days": days})
}

func (api *DeviceAPI) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerFromRequest(w, r); !ok {
		return
	}
	stats, err := api.Store.Stats(r.Context())
	if err != nil {
		api.Logger.Error("Device stats failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
