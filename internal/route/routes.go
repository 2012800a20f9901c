package route

import (
	"net/http"

	"distdetect/internal/handler"
	"distdetect/internal/logger"
	"distdetect/internal/middleware"
	"distdetect/internal/repository"
	"distdetect/internal/service/websocket"

	"github.com/gorilla/mux"
)

// SetupRoutes registers the status API, the live event stream and the log
// endpoints, wrapped with request logging. runRepo may be nil when run
// history is disabled.
func SetupRoutes(logger *logger.Logger, hub *websocket.HubService,
	runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))

	api := r.PathPrefix("/api").Subrouter()

	// Live session events and results
	if hub != nil {
		api.HandleFunc("/live", handler.LiveWebsocketHandler(hub, logger)).Methods(http.MethodGet)
	}

	// Run history
	if runRepo != nil {
		api.HandleFunc("/runs", handler.GetRunsHandler(logger, runRepo, detectionRepo)).Methods(http.MethodGet)
		api.HandleFunc("/runs/{id}", handler.GetRunHandler(logger, runRepo, detectionRepo)).Methods(http.MethodGet)
		api.HandleFunc("/runs/{id}", handler.DeleteRunHandler(logger, runRepo)).Methods(http.MethodDelete)
		api.HandleFunc("/runs/{id}/image", handler.RunImageHandler(logger, runRepo)).Methods(http.MethodGet)
	}

	// Log endpoints
	r.HandleFunc("/logs/{level}", handler.ShowLogsHandler(logger)).Methods(http.MethodGet)
	r.HandleFunc("/logs/{level}/clear", handler.ClearLogsHandler(logger)).Methods(http.MethodPost)

	return r
}
