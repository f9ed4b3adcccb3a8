package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/http/response"
	"github.com/screenbridge/broker/internal/observability"
	"github.com/screenbridge/broker/internal/repository"
	"github.com/screenbridge/broker/internal/service"
)

// SessionHandler exposes the order lifecycle to the signaling/transport
// layer. This is the only sanctioned mutation surface; nothing else writes
// the order tables.
type SessionHandler struct {
	orders service.OrderServiceInterface
}

func NewSessionHandler(orders service.OrderServiceInterface) *SessionHandler {
	return &SessionHandler{orders: orders}
}

type createOrderRequest struct {
	FromDeviceID    int64 `json:"from_device_id"`
	ToDeviceID      int64 `json:"to_device_id"`
	ClientRequestID int64 `json:"client_request_id"`
}

type orderPayload struct {
	ID              uint      `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	FromDeviceID    int64     `json:"from_device_id"`
	ToDeviceID      int64     `json:"to_device_id"`
	ClientRequestID int64     `json:"client_request_id"`
	SignalingHost   string    `json:"signaling_host"`
	SignalingPort   int       `json:"signaling_port"`
	RoomID          string    `json:"room_id"`
	ServiceID       string    `json:"service_id"`
	ClientID        string    `json:"client_id"`
	AuthToken       string    `json:"auth_token"`
	P2PUser         string    `json:"p2p_user"`
	P2PToken        string    `json:"p2p_token"`
	RelayServer     string    `json:"relay_server"`
	ReflexServers   []string  `json:"reflex_servers"`
}

func orderToPayload(order *domain.Order) orderPayload {
	return orderPayload{
		ID:              order.ID,
		CreatedAt:       order.CreatedAt,
		FromDeviceID:    order.FromDeviceID,
		ToDeviceID:      order.ToDeviceID,
		ClientRequestID: order.ClientRequestID,
		SignalingHost:   order.SignalingHost,
		SignalingPort:   order.SignalingPort,
		RoomID:          order.RoomID,
		ServiceID:       order.ServiceID,
		ClientID:        order.ClientID,
		AuthToken:       order.AuthToken,
		P2PUser:         order.P2PUser,
		P2PToken:        order.P2PToken,
		RelayServer:     order.RelayServer,
		ReflexServers:   order.ReflexServerList(),
	}
}

func (h *SessionHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if req.FromDeviceID <= 0 || req.ToDeviceID <= 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device ids must be positive", nil)
		return
	}
	if req.FromDeviceID == req.ToDeviceID {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "a device cannot control itself", nil)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req.FromDeviceID, req.ToDeviceID, req.ClientRequestID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateRoom):
			response.Error(w, r, http.StatusConflict, "DUPLICATE_ROOM", "room id already exists", nil)
		case errors.Is(err, repository.ErrDuplicateActiveSession):
			response.Error(w, r, http.StatusConflict, "DUPLICATE_ACTIVE_SESSION", "controlled device already has an active session", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "create order failed", nil)
		}
		return
	}
	observability.Audit(r, "order.created", "room_id", order.RoomID, "from_device_id", order.FromDeviceID, "to_device_id", order.ToDeviceID)
	response.JSON(w, r, http.StatusCreated, orderToPayload(order))
}

type finishOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *SessionHandler) FinishOrder(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	var req finishOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if req.Reason == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_REASON", "finish reason is required", nil)
		return
	}
	finished, err := h.orders.Finish(r.Context(), roomID, req.Reason)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "finish order failed", nil)
		return
	}
	if finished {
		observability.Audit(r, "order.finished", "room_id", roomID, "reason", req.Reason)
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"finished": finished})
}

type closeOrderRequest struct {
	DeviceID int64 `json:"device_id"`
}

func (h *SessionHandler) CloseOrder(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	var req closeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if req.DeviceID <= 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be positive", nil)
		return
	}
	finished, err := h.orders.FinishByDeviceClose(r.Context(), roomID, req.DeviceID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "close order failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"finished": finished})
}

type deviceLogoutRequest struct {
	Role string `json:"role"`
}

func (h *SessionHandler) DeviceLogout(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be a positive integer", nil)
		return
	}
	var req deviceLogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	switch req.Role {
	case "controlled":
		finished, err := h.orders.FinishByControlledLogout(r.Context(), deviceID)
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device logout failed", nil)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"finished_orders": boolToCount(finished)})
	case "controlling":
		finished, err := h.orders.FinishByControllingLogout(r.Context(), deviceID)
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device logout failed", nil)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"finished_orders": finished})
	default:
		response.Error(w, r, http.StatusBadRequest, "INVALID_ROLE", "role must be controlled or controlling", nil)
	}
}

func (h *SessionHandler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be a positive integer", nil)
		return
	}
	status, err := h.orders.StatusByControlledDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no active session for device", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "status lookup failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *SessionHandler) ActiveOrders(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_DEVICE_ID", "device id must be a positive integer", nil)
		return
	}
	switch r.URL.Query().Get("role") {
	case "controlled":
		current, err := h.orders.ActiveByControlledDevice(deviceID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				response.JSON(w, r, http.StatusOK, []domain.CurrentOrder{})
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "active order lookup failed", nil)
			return
		}
		response.JSON(w, r, http.StatusOK, []domain.CurrentOrder{*current})
	case "controlling":
		currents, err := h.orders.ActiveByControllingDevice(deviceID)
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "active order lookup failed", nil)
			return
		}
		if currents == nil {
			currents = []domain.CurrentOrder{}
		}
		response.JSON(w, r, http.StatusOK, currents)
	default:
		response.Error(w, r, http.StatusBadRequest, "INVALID_ROLE", "role must be controlled or controlling", nil)
	}
}

func pathDeviceID(r *http.Request) (int64, error) {
	deviceID, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil || deviceID <= 0 {
		return 0, errors.New("invalid device id")
	}
	return deviceID, nil
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
