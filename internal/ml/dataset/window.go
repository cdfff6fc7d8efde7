package dataset

import (
	"fmt"
	"time"
)

// SequenceLength is the number of consecutive days fed to the model per example.
const SequenceLength = 60

// Window is one supervised example: SequenceLength normalized closes and the value that
// followed them. Index is the position of the label in the source series.
type Window struct {
	Inputs []float64
	Label  float64
	Index  int
	Date   time.Time
}

// Build slides a window of length seqLen over values with step 1 and returns
// len(values)-seqLen examples. dates, when non-nil, must align with values and is used to
// stamp each window with its label date.
func Build(values []float64, dates []time.Time, seqLen int) ([]Window, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("invalid sequence length %d", seqLen)
	}
	if dates != nil && len(dates) != len(values) {
		return nil, fmt.Errorf("dates length %d does not match values length %d", len(dates), len(values))
	}
	if len(values) <= seqLen {
		return nil, fmt.Errorf("need more than %d values, got %d", seqLen, len(values))
	}
	out := make([]Window, 0, len(values)-seqLen)
	for i := seqLen; i < len(values); i++ {
		w := Window{
			Inputs: values[i-seqLen : i : i],
			Label:  values[i],
			Index:  i,
		}
		if dates != nil {
			w.Date = dates[i]
		}
		out = append(out, w)
	}
	return out, nil
}

// Split separates windows into model inputs and labels.
func Split(windows []Window) ([][]float64, []float64) {
	x := make([][]float64, len(windows))
	y := make([]float64, len(windows))
	for i := range windows {
		x[i] = windows[i].Inputs
		y[i] = windows[i].Label
	}
	return x, y
}

// Tail returns the last n windows, or all of them when fewer exist.
func Tail(windows []Window, n int) []Window {
	if n >= len(windows) {
		return windows
	}
	return windows[len(windows)-n:]
}

// Latest returns the most recent seqLen values, the input for a next-step forecast.
func Latest(values []float64, seqLen int) ([]float64, error) {
	if len(values) < seqLen {
		return nil, fmt.Errorf("need %d values, got %d", seqLen, len(values))
	}
	return values[len(values)-seqLen:], nil
}
