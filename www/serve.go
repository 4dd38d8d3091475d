package www

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ssankko/speechkit/health"
)

// Routes mounts the health endpoint on r.
func Routes(r chi.Router, tracker *health.Tracker, poller *health.Poller) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		report := health.NewReport(tracker, poller)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			http.Error(
				w,
				"Failed to render health report",
				http.StatusInternalServerError,
			)
		}
	})
}

// Serve runs the health HTTP server until the listener fails.
func Serve(port int, tracker *health.Tracker, poller *health.Poller) error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	Routes(r, tracker, poller)

	log.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	return http.ListenAndServe(fmt.Sprintf(":%d", port), r)
}
