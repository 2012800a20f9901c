package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"distdetect/internal/config"
	"distdetect/internal/logger"
	"distdetect/internal/model"
)

// ResultsTopic is appended to the configured topic prefix.
const ResultsTopic = "results"

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	// at-least-once
	resultsQoS = 1
)

// ResultMessage is the JSON payload published when a run completes.
type ResultMessage struct {
	RunID      string                       `json:"run_id"`
	Mode       string                       `json:"mode"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Sessions   int                          `json:"sessions"`
	Failed     int                          `json:"failed"`
	Counts     map[string]int               `json:"counts"`
	Detections map[string][]model.Detection `json:"detections"`
}

// NewResultMessage builds the published payload of a run, keyed by class name.
func NewResultMessage(run *model.Run, result model.AggregatedResult) ResultMessage {
	msg := ResultMessage{
		RunID:      run.ID,
		Mode:       run.Mode,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Sessions:   run.SessionsTotal,
		Failed:     run.SessionsFailed,
		Counts:     make(map[string]int, len(result)),
		Detections: make(map[string][]model.Detection, len(result)),
	}
	for class, dets := range result {
		msg.Counts[class.String()] = len(dets)
		msg.Detections[class.String()] = dets
	}
	return msg
}

// MQTTEmitter publishes run results to an MQTT broker.
type MQTTEmitter struct {
	broker   string
	clientID string
	topic    string
	logger   *logger.Logger

	Client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter for the configured broker.
func NewMQTTEmitter(cfg *config.Config, logger *logger.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		broker:   cfg.MQTTBroker,
		clientID: cfg.MQTTClientID,
		topic:    cfg.MQTTTopic,
		logger:   logger,
	}
}

// Connect establishes the broker connection with automatic reconnects.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established (broker %s, client %s)", e.broker, e.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warning("MQTT connection lost, will auto-reconnect: %v", err)
	}

	e.Client = mqtt.NewClient(opts)
	e.logger.Info("Connecting to MQTT broker %s", e.broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishResult publishes a finished run to <topic>/results.
func (e *MQTTEmitter) PublishResult(run *model.Run, result model.AggregatedResult) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(NewResultMessage(run, result))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	topic := e.Topic()
	token := e.Client.Publish(topic, resultsQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debug("Published run %s to %s (%d bytes)", run.ID, topic, len(payload))
	return nil
}

// Topic returns the results topic.
func (e *MQTTEmitter) Topic() string {
	return fmt.Sprintf("%s/%s", e.topic, ResultsTopic)
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
