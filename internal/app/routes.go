package app

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"clinic-api/internal/handlers"
	"clinic-api/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers) {
	// Add logging middleware to all routes
	router.Use(middleware.LoggingMiddleware)

	// Session bootstrap (no auth required, the widget calls this first)
	router.HandleFunc("/bootstrap/session", h.BootstrapSession).Methods("POST")

	// Catalog endpoints (no auth required)
	router.HandleFunc("/medical-specialties", h.GetSpecialties).Methods("GET")
	router.HandleFunc("/doctors/{serviceId}", h.GetDoctors).Methods("GET")
	router.HandleFunc("/doctor-availability/{doctorId}/{startDate}", h.GetAvailability).Methods("GET")

	// Booking endpoints require a widget session token
	sessions := h.Sessions()
	router.Handle("/appointment",
		sessions.RequireSession(http.HandlerFunc(h.CreateAppointment))).Methods("POST")
	router.Handle("/appointment/{id}/status",
		sessions.RequireSession(http.HandlerFunc(h.GetAppointmentStatus))).Methods("GET")

	// Operational endpoints
	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
}
