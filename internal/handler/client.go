package handler

import (
	"net/http"

	"distdetect/internal/logger"
	"distdetect/internal/service/websocket"

	gorillaws "github.com/gorilla/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveWebsocketHandler registers viewers in the hub so they receive session
// events and run results as they happen.
func LiveWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		logger.Info("Viewer connected from %s", r.RemoteAddr)

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Error("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}
