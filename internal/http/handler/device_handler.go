package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/http/response"
	"github.com/screenbridge/broker/internal/observability"
	"github.com/screenbridge/broker/internal/repository"
	"github.com/screenbridge/broker/internal/service"
)

// DeviceHandler exposes the identity allocator to the connection layer.
type DeviceHandler struct {
	devices service.DeviceIDServiceInterface
}

func NewDeviceHandler(devices service.DeviceIDServiceInterface) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type acquireRequest struct {
	Cookie string `json:"cookie"`
}

type deviceIDPayload struct {
	DeviceID  int64     `json:"device_id"`
	Cookie    string    `json:"cookie"`
	UpdatedAt time.Time `json:"updated_at"`
}

func deviceIDToPayload(binding *domain.UsedDeviceID) deviceIDPayload {
	return deviceIDPayload{
		DeviceID:  binding.DeviceID,
		Cookie:    binding.Cookie,
		UpdatedAt: binding.UpdatedAt,
	}
}

func (h *DeviceHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	binding, err := h.devices.Acquire(req.Cookie)
	if err != nil {
		if errors.Is(err, repository.ErrPoolExhausted) {
			response.Error(w, r, http.StatusServiceUnavailable, "POOL_EXHAUSTED", "no device ids available", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "acquire device id failed", nil)
		return
	}
	observability.Audit(r, "device.acquired", "device_id", binding.DeviceID)
	response.JSON(w, r, http.StatusOK, deviceIDToPayload(binding))
}

func (h *DeviceHandler) Release(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be a positive integer", nil)
		return
	}
	released, err := h.devices.Release(deviceID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "release device id failed", nil)
		return
	}
	if released {
		observability.Audit(r, "device.released", "device_id", deviceID)
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"released": released})
}

type updateCookieRequest struct {
	Cookie string `json:"cookie"`
}

// UpdateCookie rebinds the identity to a new client cookie, for clients that
// rotate their stored cookie.
func (h *DeviceHandler) UpdateCookie(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be a positive integer", nil)
		return
	}
	var req updateCookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if req.Cookie == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_COOKIE", "cookie is required", nil)
		return
	}
	changed, err := h.devices.UpdateCookie(deviceID, req.Cookie)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "update cookie failed", nil)
		return
	}
	if !changed {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "device id not assigned", nil)
		return
	}
	observability.Audit(r, "device.cookie_updated", "device_id", deviceID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"updated": true})
}

func (h *DeviceHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be a positive integer", nil)
		return
	}
	binding, err := h.devices.LookupByDeviceID(deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceIDNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "device id not assigned", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device id lookup failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, deviceIDToPayload(binding))
}
