package model

import "fmt"

// Box is an axis-aligned bounding box in image pixel coordinates.
type Box struct {
	X1 float64 `json:"x1" msgpack:"x1"`
	Y1 float64 `json:"y1" msgpack:"y1"`
	X2 float64 `json:"x2" msgpack:"x2"`
	Y2 float64 `json:"y2" msgpack:"y2"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Detection is one located object instance.
type Detection struct {
	Box        Box     `json:"box" msgpack:"box"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	Class      ClassID `json:"class" msgpack:"class"`
}

// Validate checks the box ordering, the confidence range and the class id.
func (d Detection) Validate() error {
	if d.Box.X1 > d.Box.X2 || d.Box.Y1 > d.Box.Y2 {
		return fmt.Errorf("invalid box (%g,%g,%g,%g)", d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %g out of range", d.Confidence)
	}
	if !d.Class.Valid() {
		return fmt.Errorf("unknown class id %d", uint32(d.Class))
	}
	return nil
}
