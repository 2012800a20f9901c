package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/protocol"
)

// ErrDecode is returned by a Detector that cannot decode the image bytes.
// The worker answers such images with an empty result.
var ErrDecode = errors.New("image decode error")

// Detector runs object detection restricted to the given classes.
type Detector interface {
	Detect(ctx context.Context, image []byte, classes []model.ClassID) (map[model.ClassID][]model.Detection, error)
}

// Options tune a worker's connection behaviour.
type Options struct {
	// DialTimeout bounds connecting to the coordinator.
	DialTimeout time.Duration
	// IOTimeout is the read deadline for protocol messages; 0 disables it.
	IOTimeout time.Duration
	// FramedReplies sends the final result length-prefixed instead of
	// terminating it by closing the connection.
	FramedReplies bool
}

// Worker is the client side of one detection session.
type Worker struct {
	detector     Detector
	availability Availability
	opts         Options
	logger       *logger.Logger
}

// New creates a worker. availability may be nil for static-only workers.
func New(detector Detector, availability Availability, opts Options, logger *logger.Logger) *Worker {
	if availability == nil {
		availability = Always(true)
	}
	return &Worker{
		detector:     detector,
		availability: availability,
		opts:         opts,
		logger:       logger,
	}
}

// RunStatic connects to the coordinator, announces class, receives the image
// and replies with the detections for that class.
func (w *Worker) RunStatic(ctx context.Context, addr string, class model.ClassID) error {
	if !class.Valid() {
		return fmt.Errorf("%w: unknown class id %d", protocol.ErrProtocol, uint32(class))
	}

	conn, err := w.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := protocol.WriteClassID(conn, class); err != nil {
		return err
	}
	w.logger.Info("Connected to %s as %s worker", addr, class)

	img, err := w.readFrame(conn)
	if err != nil {
		return fmt.Errorf("receiving image: %w", err)
	}
	w.logger.Info("Received image (%d bytes)", len(img))

	detections := w.detect(ctx, img, model.NewAssignment(class))

	payload, err := protocol.EncodeDetections(detections[class])
	if err != nil {
		return err
	}
	if err := protocol.WriteReply(conn, payload, w.opts.FramedReplies); err != nil {
		return err
	}
	w.logger.Info("Sent %d %s detection(s)", len(detections[class]), class)
	return nil
}

// RunDynamic connects to the coordinator, answers the availability probe and,
// when accepted, detects every assigned class.
func (w *Worker) RunDynamic(ctx context.Context, addr string) error {
	conn, err := w.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.setDeadline(conn)
	probe, err := protocol.ReadRaw(conn)
	if err != nil {
		return fmt.Errorf("receiving availability probe: %w", err)
	}
	if err := protocol.DecodeProbe(probe); err != nil {
		return err
	}
	// Operator input may take a while.
	conn.SetReadDeadline(time.Time{})

	available, err := w.availability.Available(ctx)
	if err != nil {
		return fmt.Errorf("checking availability: %w", err)
	}

	reply := protocol.ReplyNo
	if available {
		reply = protocol.ReplyYes
	}
	if err := protocol.WriteRaw(conn, []byte(reply)); err != nil {
		return err
	}
	if !available {
		w.logger.Info("Declined work from %s", addr)
		return nil
	}

	// The coordinator hands out classes in arrival order, so the assignment
	// may wait for earlier workers' answers; it bounds that wait itself.
	raw, err := protocol.ReadFramed(conn)
	if errors.Is(err, protocol.ErrNoFrame) {
		w.logger.Info("Coordinator %s had no classes left to assign", addr)
		return nil
	}
	if err != nil {
		return fmt.Errorf("receiving assignment: %w", err)
	}
	assignment, err := protocol.DecodeAssignment(raw)
	if err != nil {
		return err
	}

	img, err := w.readFrame(conn)
	if err != nil {
		return fmt.Errorf("receiving image: %w", err)
	}
	w.logger.Info("Received image (%d bytes) for %v", len(img), assignment)

	detections := w.detect(ctx, img, assignment)

	payload, err := protocol.EncodeResult(detections)
	if err != nil {
		return err
	}
	if err := protocol.WriteReply(conn, payload, w.opts.FramedReplies); err != nil {
		return err
	}
	w.logger.Info("Sent detections for %d class(es)", len(detections))
	return nil
}

// detect runs the detector and keeps only assigned classes, each present.
// A decode failure or any other detector error yields empty lists.
func (w *Worker) detect(ctx context.Context, img []byte, assignment model.Assignment) map[model.ClassID][]model.Detection {
	out := make(map[model.ClassID][]model.Detection, len(assignment))
	for _, class := range assignment {
		out[class] = []model.Detection{}
		w.logger.Info("Detecting %s...", class)
	}

	found, err := w.detector.Detect(ctx, img, assignment)
	switch {
	case errors.Is(err, ErrDecode):
		w.logger.Warning("Could not decode image, replying with empty result: %v", err)
		return out
	case err != nil:
		w.logger.Error("Detection failed, replying with empty result: %v", err)
		return out
	}

	for class, dets := range found {
		if !assignment.Contains(class) {
			continue
		}
		for _, d := range dets {
			if err := d.Validate(); err != nil {
				w.logger.Warning("Dropping invalid %s detection: %v", class, err)
				continue
			}
			out[class] = append(out[class], d)
		}
	}
	return out
}

func (w *Worker) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: w.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to coordinator %s: %w", addr, err)
	}
	return conn, nil
}

func (w *Worker) readFrame(conn net.Conn) ([]byte, error) {
	w.setDeadline(conn)
	defer conn.SetReadDeadline(time.Time{})
	return protocol.ReadFramed(conn)
}

func (w *Worker) setDeadline(conn net.Conn) {
	if w.opts.IOTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(w.opts.IOTimeout))
	}
}
