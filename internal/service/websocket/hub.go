package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"distdetect/internal/logger"

	"github.com/gorilla/websocket"
)

// broadcastBuffer is how many messages may wait for the hub loop before
// Broadcast starts dropping them.
const broadcastBuffer = 256

// writeWait bounds a single write to a viewer.
const writeWait = 5 * time.Second

// Envelope is the JSON message sent to live viewers.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HubService fans messages out to every connected live viewer.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	// done is closed when Run returns.
	done   chan struct{}
	mutex  sync.RWMutex
	logger *logger.Logger
}

// NewHubService creates a hub. Nothing is delivered until Run is started.
func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every viewer connection.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", h.GetClientCount())

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", h.GetClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer. After the hub has stopped the connection is closed
// instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a viewer.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a raw message for every viewer. It never blocks; when the
// queue is full the message is dropped.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warning("Broadcast queue full, dropping message")
	}
}

// Publish wraps data in an Envelope of the given type and broadcasts it.
func (h *HubService) Publish(kind string, data interface{}) error {
	msg, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", kind, err)
	}
	h.Broadcast(msg)
	return nil
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
