package scaler

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

// MinMax is an affine map from observed prices onto [0, 1].
// Transform computes (x - Min) * Scale; Inverse undoes it.
type MinMax struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Scale float64 `json:"scale"`
}

// Fit derives the transform from every value in the series. A zero range uses scale 1,
// so a constant series maps to all zeros.
func Fit(values []float64) (*MinMax, error) {
	if len(values) == 0 {
		return nil, errors.New("cannot fit scaler on empty series")
	}
	lo := floats.Min(values)
	hi := floats.Max(values)
	scale := 1.0
	if rng := hi - lo; rng != 0 {
		scale = 1 / rng
	}
	return &MinMax{Min: lo, Max: hi, Scale: scale}, nil
}

func (m *MinMax) Transform(x float64) float64 {
	return (x - m.Min) * m.Scale
}

func (m *MinMax) Inverse(y float64) float64 {
	return y/m.Scale + m.Min
}

// TransformAll returns a normalized copy of values.
func (m *MinMax) TransformAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = m.Transform(v)
	}
	return out
}

// InverseAll maps normalized values back to price units.
func (m *MinMax) InverseAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = m.Inverse(v)
	}
	return out
}
