package protocol

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"distdetect/internal/model"
)

// AvailabilityProbe is the sentinel value a dynamic coordinator sends to ask
// whether a worker can take work.
const AvailabilityProbe = "Check availability"

// Availability reply tokens.
const (
	ReplyYes = "yes"
	ReplyNo  = "no"
)

// EncodeProbe serializes the availability probe sentinel.
func EncodeProbe() ([]byte, error) {
	return msgpack.Marshal(AvailabilityProbe)
}

// DecodeProbe checks that b carries the availability probe sentinel.
func DecodeProbe(b []byte) error {
	var s string
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: probe: %v", ErrDeserialization, err)
	}
	if s != AvailabilityProbe {
		return fmt.Errorf("%w: unexpected probe %q", ErrProtocol, s)
	}
	return nil
}

// IsAffirmative interprets an availability reply. Anything other than an
// affirmative token counts as a decline.
func IsAffirmative(reply []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(reply))) {
	case ReplyYes, "y":
		return true
	default:
		return false
	}
}

// EncodeAssignment serializes the classes given to a dynamic worker.
func EncodeAssignment(a model.Assignment) ([]byte, error) {
	b, err := msgpack.Marshal([]model.ClassID(a))
	if err != nil {
		return nil, fmt.Errorf("encoding assignment: %w", err)
	}
	return b, nil
}

// DecodeAssignment parses an assignment and rejects unknown or missing classes.
func DecodeAssignment(b []byte) (model.Assignment, error) {
	var classes []model.ClassID
	if err := msgpack.Unmarshal(b, &classes); err != nil {
		return nil, fmt.Errorf("%w: assignment: %v", ErrDeserialization, err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: empty assignment", ErrProtocol)
	}
	for _, c := range classes {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: unknown class id %d in assignment", ErrProtocol, uint32(c))
		}
	}
	return model.NewAssignment(classes...), nil
}

// EncodeDetections serializes a static worker's single-class reply.
func EncodeDetections(dets []model.Detection) ([]byte, error) {
	if dets == nil {
		dets = []model.Detection{}
	}
	b, err := msgpack.Marshal(dets)
	if err != nil {
		return nil, fmt.Errorf("encoding detections: %w", err)
	}
	return b, nil
}

// DecodeDetections parses a static worker's reply and validates every detection.
func DecodeDetections(b []byte) ([]model.Detection, error) {
	var dets []model.Detection
	if err := msgpack.Unmarshal(b, &dets); err != nil {
		return nil, fmt.Errorf("%w: detections: %v", ErrDeserialization, err)
	}
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: detection %d: %v", ErrDeserialization, i, err)
		}
	}
	if dets == nil {
		dets = []model.Detection{}
	}
	return dets, nil
}

// EncodeResult serializes a dynamic worker's per-class reply.
func EncodeResult(result map[model.ClassID][]model.Detection) ([]byte, error) {
	if result == nil {
		result = map[model.ClassID][]model.Detection{}
	}
	b, err := msgpack.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return b, nil
}

// DecodeResult parses a dynamic worker's per-class reply and validates it.
func DecodeResult(b []byte) (map[model.ClassID][]model.Detection, error) {
	var result map[model.ClassID][]model.Detection
	if err := msgpack.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrDeserialization, err)
	}
	for class, dets := range result {
		if !class.Valid() {
			return nil, fmt.Errorf("%w: unknown class id %d in result", ErrDeserialization, uint32(class))
		}
		for i, d := range dets {
			if err := d.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s detection %d: %v", ErrDeserialization, class, i, err)
			}
		}
	}
	if result == nil {
		result = map[model.ClassID][]model.Detection{}
	}
	return result, nil
}
