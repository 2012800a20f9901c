package ai

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"distdetect/internal/logger"
	"distdetect/internal/model"

	"gocv.io/x/gocv"
)

// DefaultOutputName is the file name of the rendered result image.
const DefaultOutputName = "detected_objects_image.jpg"

// Renderer draws aggregated detections onto the source image.
type Renderer struct {
	outputDir string
	logger    *logger.Logger
}

// NewRenderer creates a renderer writing into outputDir.
func NewRenderer(outputDir string, logger *logger.Logger) *Renderer {
	return &Renderer{outputDir: outputDir, logger: logger}
}

// Render draws one rectangle and label per detection and writes the result
// under the output directory. It returns the written path.
func (r *Renderer) Render(imagePath string, name string, result model.AggregatedResult) (string, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	encoded, err := r.DrawDetections(img, result)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if name == "" {
		name = DefaultOutputName
	}
	outputPath := filepath.Join(r.outputDir, name)
	if err := os.WriteFile(outputPath, encoded, 0644); err != nil {
		return "", fmt.Errorf("failed to write rendered image: %w", err)
	}

	r.logger.Info("Image saved to %s", outputPath)
	return outputPath, nil
}

// DrawDetections draws detection results on the image and returns a re-encoded JPEG buffer.
func (r *Renderer) DrawDetections(img []byte, result model.AggregatedResult) ([]byte, error) {
	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("%w: decoded image is empty", ErrDecode)
	}

	for _, class := range result.Classes() {
		colour := class.Color()
		for _, d := range result[class] {
			rect := image.Rect(int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2))
			if err := gocv.Rectangle(&mat, rect, colour, 2); err != nil {
				return nil, fmt.Errorf("failed to draw rectangle: %w", err)
			}

			label := fmt.Sprintf("%s: %.2f", class, d.Confidence)
			pt := image.Pt(int(d.Box.X1), int(d.Box.Y1)-5)
			if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, colour, 1); err != nil {
				return nil, fmt.Errorf("failed to draw text: %w", err)
			}
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		r.logger.Error("Failed to encode image: %v", err)
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())

	return out, nil
}
