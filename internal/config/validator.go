package config

import (
	"errors"
	"fmt"

	"distdetect/internal/model"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeStatic, ModeDynamic:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeStatic, ModeDynamic, c.Mode))
	}
	switch c.Policy {
	case PolicyFirst, PolicyEven:
	default:
		errs = append(errs, fmt.Errorf("policy must be %q or %q, got %q", PolicyFirst, PolicyEven, c.Policy))
	}
	switch c.Availability {
	case AvailabilityPrompt, AvailabilityYes, AvailabilityNo:
	default:
		errs = append(errs, fmt.Errorf("worker.availability must be prompt, yes or no, got %q", c.Availability))
	}

	if c.ExpectedWorkers < 1 {
		errs = append(errs, fmt.Errorf("expected_workers must be at least 1, got %d", c.ExpectedWorkers))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions must be at least 1, got %d", c.MaxSessions))
	}
	if c.AcceptWindow < 0 {
		errs = append(errs, errors.New("accept_window must not be negative"))
	}
	if c.IOTimeout <= 0 || c.AvailabilityTimeout <= 0 || c.ResultTimeout <= 0 {
		errs = append(errs, errors.New("io_timeout, availability_timeout and result_timeout must be positive"))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Errorf("model.confidence must be within [0,1], got %g", c.Confidence))
	}
	if c.WorkerClass < 0 || !model.ClassID(c.WorkerClass).Valid() {
		errs = append(errs, fmt.Errorf("worker.class %d is not a known class", c.WorkerClass))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTPPort))
	}

	return errors.Join(errs...)
}

// ValidateCoordinator checks the settings only the coordinator needs.
func (c *Config) ValidateCoordinator() error {
	if c.Mode == ModeDynamic && c.AcceptWindow == 0 {
		return errors.New("accept_window is required in dynamic mode")
	}
	if c.ImagePath == "" {
		return errors.New("image is required")
	}
	return nil
}
