package ai

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"distdetect/internal/config"
	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/service/worker"

	"gocv.io/x/gocv"
)

const (
	// DefaultConfidence is the minimum confidence for object detections.
	DefaultConfidence = 0.5
	// inputSize is the SSD MobileNet input resolution.
	inputSize = 300
)

// ErrDecode is returned when the image bytes cannot be decoded.
var ErrDecode = worker.ErrDecode

var _ worker.Detector = (*DetectorService)(nil)

// DetectorService runs an SSD MobileNet (COCO) network through OpenCV DNN and
// keeps only the requested classes.
type DetectorService struct {
	net        gocv.Net
	netMu      sync.Mutex
	ready      bool
	modelPath  string
	configPath string
	confidence float64
	logger     *logger.Logger
}

// NewDetectorService creates a detector with model/config paths and a logger.
// It attempts to initialize the underlying DNN network.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	service := &DetectorService{
		modelPath:  cfg.ModelPath,
		configPath: cfg.ConfigPath,
		confidence: cfg.Confidence,
		logger:     logger,
	}
	if service.confidence <= 0 {
		service.confidence = DefaultConfidence
	}

	if err := service.initializeNet(); err != nil {
		return nil, fmt.Errorf("could not initialize detection network: %w", err)
	}
	return service, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.ready = true
	s.logger.Info("Detection network initialized from %s", s.modelPath)
	return nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if s.ready {
		s.ready = false
		return s.net.Close()
	}
	return nil
}

// Detect decodes the image, runs the network once and groups the detections
// that belong to the requested classes. Every requested class is present in
// the returned map.
func (s *DetectorService) Detect(ctx context.Context, imageBytes []byte, classes []model.ClassID) (map[model.ClassID][]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("%w: decoded image is empty", ErrDecode)
	}

	wanted := make(map[model.ClassID]bool, len(classes))
	results := make(map[model.ClassID][]model.Detection, len(classes))
	for _, c := range classes {
		wanted[c] = true
		results[c] = []model.Detection{}
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(inputSize, inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.netMu.Lock()
	if !s.ready {
		s.netMu.Unlock()
		return nil, fmt.Errorf("detection network not initialized")
	}
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	s.netMu.Unlock()
	defer output.Close()

	cols := float64(mat.Cols())
	rows := float64(mat.Rows())

	// Output rows: [ batch_id, label, confidence, x1, y1, x2, y2 ], coordinates normalized.
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := float64(reshaped.GetFloatAt(i, 2))
		if confidence < s.confidence {
			continue
		}
		class, ok := classFromLabel(int(reshaped.GetFloatAt(i, 1)))
		if !ok || !wanted[class] {
			continue
		}

		d := model.Detection{
			Box: model.Box{
				X1: clamp(float64(reshaped.GetFloatAt(i, 3))*cols, 0, cols),
				Y1: clamp(float64(reshaped.GetFloatAt(i, 4))*rows, 0, rows),
				X2: clamp(float64(reshaped.GetFloatAt(i, 5))*cols, 0, cols),
				Y2: clamp(float64(reshaped.GetFloatAt(i, 6))*rows, 0, rows),
			},
			Confidence: clamp(confidence, 0, 1),
			Class:      class,
		}
		if d.Box.X1 > d.Box.X2 {
			d.Box.X1, d.Box.X2 = d.Box.X2, d.Box.X1
		}
		if d.Box.Y1 > d.Box.Y2 {
			d.Box.Y1, d.Box.Y2 = d.Box.Y2, d.Box.Y1
		}

		results[class] = append(results[class], d)
		s.logger.Debug("Detected %s (%.2f)", class, confidence)
	}

	return results, nil
}

// classFromLabel maps SSD COCO label ids (1-based) onto the known classes.
func classFromLabel(label int) (model.ClassID, bool) {
	if label < 1 {
		return 0, false
	}
	class := model.ClassID(label - 1)
	return class, class.Valid()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
