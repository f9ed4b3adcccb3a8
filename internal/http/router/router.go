package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/screenbridge/broker/internal/http/handler"
	"github.com/screenbridge/broker/internal/http/middleware"
	"github.com/screenbridge/broker/internal/http/response"
)

type Dependencies struct {
	SessionHandler *handler.SessionHandler
	DeviceHandler  *handler.DeviceHandler
	ManagerHandler *handler.ManagerHandler
	Readiness      func(ctx context.Context) error
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		if err := dep.Readiness(r.Context()); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "store is not ready", nil)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", dep.SessionHandler.CreateOrder)
			r.Post("/{roomID}/finish", dep.SessionHandler.FinishOrder)
			r.Post("/{roomID}/close", dep.SessionHandler.CloseOrder)
		})
		r.Route("/devices", func(r chi.Router) {
			r.Post("/acquire", dep.DeviceHandler.Acquire)
			r.Get("/{deviceID}", dep.DeviceHandler.Lookup)
			r.Post("/{deviceID}/release", dep.DeviceHandler.Release)
			r.Put("/{deviceID}/cookie", dep.DeviceHandler.UpdateCookie)
			r.Post("/{deviceID}/logout", dep.SessionHandler.DeviceLogout)
			r.Get("/{deviceID}/status", dep.SessionHandler.DeviceStatus)
			r.Get("/{deviceID}/orders", dep.SessionHandler.ActiveOrders)
		})
	})

	r.Route("/mgr", func(r chi.Router) {
		r.Get("/devices", dep.ManagerHandler.Devices)
		r.Get("/devices/online", dep.ManagerHandler.OnlineHistory)
		r.Delete("/devices/online", dep.ManagerHandler.ClearOnlineHistory)
		r.Get("/orders", dep.ManagerHandler.Orders)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
