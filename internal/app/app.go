package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"distdetect/internal/config"
	"distdetect/internal/emitter"
	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/repository"
	"distdetect/internal/repository/sqlite"
	"distdetect/internal/route"
	"distdetect/internal/service/aggregator"
	"distdetect/internal/service/ai"
	"distdetect/internal/service/coordinator"
	"distdetect/internal/service/storage"
	"distdetect/internal/service/websocket"
)

// App wires the coordinator with its run history, live viewers and result emitter.
type App struct {
	config *config.Config
	logger *logger.Logger

	db            *sqlite.DB
	runRepo       repository.RunRepository
	detectionRepo repository.DetectionRepository

	supervisor *coordinator.Supervisor
	store      *storage.RunStore
	hub        *websocket.HubService
	emitter    *emitter.MQTTEmitter
	server     *http.Server
}

// NewApp creates the coordinator application. Optional parts (database,
// status API, MQTT) are only set up when configured.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	if cfg.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.runRepo = sqlite.NewRunRepository(db)
		a.detectionRepo = sqlite.NewDetectionRepository(db)
	}

	if cfg.HTTPPort > 0 {
		a.hub = websocket.NewHubService(logger.WithPrefix("live"))
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           route.SetupRoutes(logger, a.hub, a.runRepo, a.detectionRepo),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if cfg.MQTTBroker != "" {
		a.emitter = emitter.NewMQTTEmitter(cfg, logger.WithPrefix("mqtt"))
	}

	a.store = storage.NewRunStore(cfg.OutputDirectory, ai.NewRenderer(cfg.OutputDirectory, logger), logger, a.runRepo, a.detectionRepo)
	a.supervisor = coordinator.NewSupervisor(coordinator.OptionsFromConfig(cfg), a.observe, logger)
	return a, nil
}

// Start launches the background services: live hub, status API and MQTT.
func (a *App) Start(ctx context.Context) {
	if a.hub != nil {
		go a.hub.Run(ctx)
	}

	if a.server != nil {
		go func() {
			a.logger.Info("Status API on http://localhost:%d", a.config.HTTPPort)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Status API stopped: %v", err)
			}
		}()
	}

	if a.emitter != nil {
		if err := a.emitter.Connect(ctx); err != nil {
			a.logger.Warning("MQTT unavailable, results will not be published: %v", err)
		}
	}
}

// Serving reports whether the status API is enabled.
func (a *App) Serving() bool {
	return a.server != nil
}

// RunOnce loads the source image, runs one coordinator round and hands the
// aggregated result to rendering, storage, live viewers and MQTT.
func (a *App) RunOnce(ctx context.Context) (*model.Run, model.AggregatedResult, error) {
	image, err := os.ReadFile(a.config.ImagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(image) == 0 {
		return nil, nil, fmt.Errorf("image %s is empty", a.config.ImagePath)
	}
	a.logger.Info("Loaded %s (%d bytes)", a.config.ImagePath, len(image))

	report, err := a.supervisor.Run(ctx, image)
	if err != nil {
		return nil, nil, err
	}

	result := aggregator.Merge(a.supervisor.Classes(), report.Results)
	for _, s := range aggregator.Summarize(result) {
		a.logger.Info("%s: %d detection(s)", s.Class, s.Count)
	}
	if len(report.Unassigned) > 0 {
		a.logger.Warning("Classes never assigned: %v", report.Unassigned)
	}

	run := &model.Run{
		ID:             uuid.NewString(),
		Mode:           a.config.Mode,
		ImagePath:      a.config.ImagePath,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
		SessionsTotal:  report.Sessions,
		SessionsFailed: report.Failed,
	}

	if err := a.store.Save(run, result); err != nil {
		a.logger.Error("Error storing run: %v", err)
	}

	if a.hub != nil {
		if err := a.hub.Publish("result", emitter.NewResultMessage(run, result)); err != nil {
			a.logger.Error("Error broadcasting result: %v", err)
		}
	}
	if a.emitter != nil {
		if err := a.emitter.PublishResult(run, result); err != nil {
			a.logger.Warning("Error publishing result: %v", err)
		}
	}

	return run, result, nil
}

// Close stops the status API and releases the database and broker connection.
func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.emitter != nil {
		a.emitter.Disconnect()
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *App) observe(ev coordinator.SessionEvent) {
	if a.hub == nil {
		return
	}
	if err := a.hub.Publish("session", ev); err != nil {
		a.logger.Error("Error broadcasting session event: %v", err)
	}
}
