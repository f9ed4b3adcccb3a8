package handler

import (
	"net/http"
	"strconv"

	"github.com/screenbridge/broker/internal/http/response"
	"github.com/screenbridge/broker/internal/observability"
	"github.com/screenbridge/broker/internal/service"
)

// ManagerHandler is the reporting surface: pool statistics, order history
// and the online audit log. Read-only.
type ManagerHandler struct {
	orders  service.OrderServiceInterface
	devices service.DeviceIDServiceInterface
	onlines service.OnlineServiceInterface

	historyMaxLimit int
	onlineMaxLimit  int
}

func NewManagerHandler(
	orders service.OrderServiceInterface,
	devices service.DeviceIDServiceInterface,
	onlines service.OnlineServiceInterface,
	historyMaxLimit, onlineMaxLimit int,
) *ManagerHandler {
	return &ManagerHandler{
		orders:          orders,
		devices:         devices,
		onlines:         onlines,
		historyMaxLimit: historyMaxLimit,
		onlineMaxLimit:  onlineMaxLimit,
	}
}

type devicesPayload struct {
	Used   int64 `json:"used"`
	Unused int64 `json:"unused"`
	Total  int64 `json:"total"`
	Active int64 `json:"active_sessions"`
}

func (h *ManagerHandler) Devices(w http.ResponseWriter, r *http.Request) {
	stats, err := h.devices.Stats()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device stats failed", nil)
		return
	}
	active, err := h.orders.CountActive()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "active session count failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, devicesPayload{
		Used:   stats.Used,
		Unused: stats.Unused,
		Total:  stats.Used + stats.Unused,
		Active: active,
	})
}

func (h *ManagerHandler) Orders(w http.ResponseWriter, r *http.Request) {
	index, limit := pageParams(r, h.historyMaxLimit)
	page, err := h.orders.History(index, limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "order history failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

type onlineHistoryPayload struct {
	Total   int64 `json:"total"`
	Index   int   `json:"index"`
	Limit   int   `json:"limit"`
	Records any   `json:"records"`
}

func (h *ManagerHandler) OnlineHistory(w http.ResponseWriter, r *http.Request) {
	index, limit := pageParams(r, h.onlineMaxLimit)
	records, total, err := h.onlines.History(index, limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "online history failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, onlineHistoryPayload{
		Total:   total,
		Index:   index,
		Limit:   limit,
		Records: records,
	})
}

func (h *ManagerHandler) ClearOnlineHistory(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.onlines.Clear()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "clear online history failed", nil)
		return
	}
	observability.Audit(r, "online_history.cleared", "deleted", deleted)
	response.JSON(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
}

func pageParams(r *http.Request, maxLimit int) (index, limit int) {
	index, _ = strconv.Atoi(r.URL.Query().Get("index"))
	if index < 0 {
		index = 0
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = maxLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return index, limit
}
