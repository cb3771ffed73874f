package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/latest", s.handleLatest)
		r.Get("/battery_data", s.handleBatteryData)
		r.Get("/battery_data.csv", s.handleBatteryDataCSV)
	})

	r.Get("/ws", s.hub.handleWebSocket)

	return r
}
