package app

import (
	"context"
	"fmt"

	"distdetect/internal/config"
	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/service/ai"
	"distdetect/internal/service/worker"
)

// NewAvailability returns the availability source named by the configuration.
func NewAvailability(cfg *config.Config) worker.Availability {
	switch cfg.Availability {
	case config.AvailabilityYes:
		return worker.Always(true)
	case config.AvailabilityNo:
		return worker.Always(false)
	default:
		// Non-interactive workers accept.
		return worker.NewPrompt(true)
	}
}

// RunWorker loads the detection network and runs one worker session against
// the configured coordinator, in the configured mode.
func RunWorker(ctx context.Context, cfg *config.Config, logger *logger.Logger) error {
	detector, err := ai.NewDetectorService(cfg, logger)
	if err != nil {
		return err
	}
	defer detector.Close()

	w := worker.New(detector, NewAvailability(cfg), worker.Options{
		DialTimeout:   cfg.IOTimeout,
		IOTimeout:     cfg.IOTimeout,
		FramedReplies: cfg.FramedReplies,
	}, logger)

	switch cfg.Mode {
	case config.ModeStatic:
		class := model.ClassID(cfg.WorkerClass)
		logger.Info("Static worker for %s connecting to %s", class, cfg.CoordinatorAddress)
		return w.RunStatic(ctx, cfg.CoordinatorAddress, class)
	case config.ModeDynamic:
		logger.Info("Dynamic worker connecting to %s", cfg.CoordinatorAddress)
		return w.RunDynamic(ctx, cfg.CoordinatorAddress)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}
