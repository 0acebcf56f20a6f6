package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupDataRouter serves device ingestion.
func SetupDataRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Logging(h.log))
	r.Use(Recovery(h.log))

	r.Get("/api/health", h.HandleHealth)
	r.With(h.auth.IngestMiddleware).Post("/api/sensors/{nodeId}/data", h.HandleSubmitReading)

	return r
}

// SetupUIRouter serves the REST API, metrics and the real-time channel.
func SetupUIRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Logging(h.log))
	r.Use(Recovery(h.log))

	r.Get("/api/health", h.HandleHealth)
	r.Post("/api/auth/token", h.HandleToken)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/sensors", func(r chi.Router) {
		r.With(h.auth.IngestMiddleware).Post("/{nodeId}/data", h.HandleSubmitReading)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.JWTMiddleware)
			r.Get("/", h.HandleListSensors)
			r.Post("/register", h.HandleRegisterSensor)
			r.Get("/{nodeId}", h.HandleGetSensor)
			r.Delete("/{nodeId}", h.HandleDeleteSensor)
			r.Put("/{nodeId}/thresholds", h.HandleUpdateThresholds)
			r.Get("/{nodeId}/data", h.HandleSensorHistory)
		})
	})

	r.Route("/api/alerts", func(r chi.Router) {
		r.Use(h.auth.JWTMiddleware)
		r.Get("/", h.HandleListAlerts)
		r.Get("/unread", h.HandleUnreadCount)
		r.Post("/mark-all-read", h.HandleMarkAllRead)
		r.Get("/{alertId}", h.HandleGetAlert)
		r.Post("/{alertId}/{action}", h.HandleAlertAction)
	})

	return r
}
