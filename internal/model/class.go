package model

import (
	"fmt"
	"image/color"
	"sort"
)

// ClassID identifies an object category known to both coordinator and workers.
type ClassID uint32

const (
	Person     ClassID = 0
	Bicycle    ClassID = 1
	Car        ClassID = 2
	Motorcycle ClassID = 3
)

var classNames = map[ClassID]string{
	Person:     "Person",
	Bicycle:    "Bicycle",
	Car:        "Car",
	Motorcycle: "Motorcycle",
}

var classColors = map[ClassID]color.RGBA{
	Person:     {R: 255, G: 0, B: 0, A: 0},
	Bicycle:    {R: 0, G: 255, B: 255, A: 0},
	Car:        {R: 0, G: 255, B: 0, A: 0},
	Motorcycle: {R: 0, G: 0, B: 255, A: 0},
}

// Valid reports whether the id belongs to the known class set.
func (c ClassID) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// String returns the display name of the class.
func (c ClassID) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", uint32(c))
}

// Color returns the colour used when rendering detections of this class.
func (c ClassID) Color() color.RGBA {
	if col, ok := classColors[c]; ok {
		return col
	}
	return color.RGBA{R: 255, G: 255, B: 255, A: 0}
}

// ParseClassID converts a raw wire value into a ClassID, rejecting unknown ids.
func ParseClassID(v uint32) (ClassID, error) {
	c := ClassID(v)
	if !c.Valid() {
		return 0, fmt.Errorf("unknown class id %d", v)
	}
	return c, nil
}

// AllClasses returns every known class in ascending order.
func AllClasses() []ClassID {
	classes := make([]ClassID, 0, len(classNames))
	for c := range classNames {
		classes = append(classes, c)
	}
	sortClasses(classes)
	return classes
}

func sortClasses(classes []ClassID) {
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
}
