package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tradstry/internal/domain/notification"
)

// DeviceRegistrar stores push tokens for a user.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, params notification.RegisterParams) (*notification.Device, error)
	UnregisterDevice(ctx context.Context, userID int64, token string) error
}

type NotificationHandler struct {
	devices DeviceRegistrar
}

func NewNotificationHandler(devices DeviceRegistrar) *NotificationHandler {
	return &NotificationHandler{devices: devices}
}

type deviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

// HandleDevice handles /api/notifications/register-device/. POST registers
// the token, DELETE removes it on logout.
func (h *NotificationHandler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		h.unregister(w, r, userID, req.Token)
		return
	}

	device, err := h.devices.RegisterDevice(r.Context(), notification.RegisterParams{
		UserID:   userID,
		Token:    req.Token,
		Platform: notification.Platform(req.DeviceType),
	})
	switch {
	case errors.Is(err, notification.ErrInvalidToken), errors.Is(err, notification.ErrInvalidDeviceType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		log.Printf("Error registering device for user %d: %v", userID, err)
		http.Error(w, "Failed to register device", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "token": device.Token})
	}
}

func (h *NotificationHandler) unregister(w http.ResponseWriter, r *http.Request, userID int64, token string) {
	err := h.devices.UnregisterDevice(r.Context(), userID, token)
	switch {
	case errors.Is(err, notification.ErrInvalidToken):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, notification.ErrDeviceNotFound):
		http.Error(w, "Device not found", http.StatusNotFound)
	case err != nil:
		log.Printf("Error removing device for user %d: %v", userID, err)
		http.Error(w, "Failed to remove device", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
