package lstm

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// TrainOptions configures the network shape and the optimizer.
type TrainOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Dropout      float64
	Units1       int
	Units2       int
	DenseUnits   int
	Seed         uint64
}

// Adam constants, matching the usual framework defaults.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// Model is LSTM -> Dropout -> LSTM -> Dropout -> Dense(ReLU) -> Dense(1) over a
// univariate sequence. It lives only for one pipeline run and is never persisted.
type Model struct {
	rec1   *recurrentLayer
	rec2   *recurrentLayer
	hidden *denseLayer
	output *denseLayer

	dropout float64
	rng     *rand.Rand
	step    int
	losses  []float64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Epochs:       3,
		BatchSize:    32,
		LearningRate: 0.001,
		Dropout:      0.1,
		Units1:       32,
		Units2:       32,
		DenseUnits:   16,
	}
}

func (o TrainOptions) withDefaults() TrainOptions {
	def := DefaultTrainOptions()
	if o.Epochs <= 0 {
		o.Epochs = def.Epochs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.LearningRate <= 0 {
		o.LearningRate = def.LearningRate
	}
	if o.Dropout < 0 || o.Dropout >= 1 {
		o.Dropout = def.Dropout
	}
	if o.Units1 <= 0 {
		o.Units1 = def.Units1
	}
	if o.Units2 <= 0 {
		o.Units2 = def.Units2
	}
	if o.DenseUnits <= 0 {
		o.DenseUnits = def.DenseUnits
	}
	if o.Seed == 0 {
		o.Seed = uint64(time.Now().UnixNano())
	}
	return o
}

// New builds an untrained model with freshly initialized weights.
func New(opts TrainOptions) *Model {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	return &Model{
		rec1:    newRecurrentLayer(rng, 1, opts.Units1),
		rec2:    newRecurrentLayer(rng, opts.Units1, opts.Units2),
		hidden:  newDenseLayer(rng, opts.Units2, opts.DenseUnits, true),
		output:  newDenseLayer(rng, opts.DenseUnits, 1, false),
		dropout: opts.Dropout,
		rng:     rng,
	}
}

// Train fits a new model on samples (each a sequence of normalized values) against the
// next-step labels, minimizing mean squared error with Adam. Batches are taken in order.
// The output bias starts at the label mean so early epochs predict inside the label range.
func Train(samples [][]float64, labels []float64, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	if len(samples[0]) == 0 {
		return nil, errors.New("empty input sequences")
	}
	opts = opts.withDefaults()
	m := New(opts)

	mean := 0.0
	for _, y := range labels {
		mean += y
	}
	m.output.b.val[0] = mean / float64(len(labels))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		epochLoss := 0.0
		for start := 0; start < len(samples); start += opts.BatchSize {
			end := min(start+opts.BatchSize, len(samples))
			loss := m.trainBatch(samples[start:end], labels[start:end], opts.LearningRate)
			epochLoss += loss * float64(end-start)
		}
		epochLoss /= float64(len(samples))
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return nil, fmt.Errorf("training diverged at epoch %d: loss %v", epoch+1, epochLoss)
		}
		m.losses = append(m.losses, epochLoss)
	}
	return m, nil
}

// Predict runs inference on one sequence.
func (m *Model) Predict(seq []float64) float64 {
	if m == nil || len(seq) == 0 {
		return 0
	}
	out, _ := m.forward(seq, false)
	return out
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = m.Predict(samples[i])
	}
	return out
}

// EpochLosses returns the mean training loss of each completed epoch.
func (m *Model) EpochLosses() []float64 {
	if m == nil {
		return nil
	}
	out := make([]float64, len(m.losses))
	copy(out, m.losses)
	return out
}

func (m *Model) params() []*param {
	var ps []*param
	ps = append(ps, m.rec1.params()...)
	ps = append(ps, m.rec2.params()...)
	ps = append(ps, m.hidden.params()...)
	ps = append(ps, m.output.params()...)
	return ps
}

type forwardTrace struct {
	steps1  []recurrentStep
	steps2  []recurrentStep
	mask1   [][]float64
	mask2   []float64
	dense   []float64 // input to the hidden dense layer
	hiddenA []float64
	hiddenY []float64
	outA    []float64
}

func (m *Model) forward(seq []float64, train bool) (float64, *forwardTrace) {
	xs := make([][]float64, len(seq))
	for t, v := range seq {
		xs[t] = []float64{v}
	}
	tr := &forwardTrace{}

	h1, steps1 := m.rec1.forward(xs)
	tr.steps1 = steps1
	if train && m.dropout > 0 {
		tr.mask1 = make([][]float64, len(h1))
		for t := range h1 {
			tr.mask1[t] = m.dropoutMask(len(h1[t]))
			h1[t] = applyMask(h1[t], tr.mask1[t])
		}
	}

	h2, steps2 := m.rec2.forward(h1)
	tr.steps2 = steps2
	last := h2[len(h2)-1]
	if train && m.dropout > 0 {
		tr.mask2 = m.dropoutMask(len(last))
		last = applyMask(last, tr.mask2)
	}
	tr.dense = last

	tr.hiddenA, tr.hiddenY = m.hidden.forward(last)
	var out []float64
	tr.outA, out = m.output.forward(tr.hiddenY)
	return out[0], tr
}

func (m *Model) backward(tr *forwardTrace, dOut float64) {
	dHidden := m.output.backward(tr.hiddenY, tr.outA, []float64{dOut})
	dLast := m.hidden.backward(tr.dense, tr.hiddenA, dHidden)
	if tr.mask2 != nil {
		dLast = applyMask(dLast, tr.mask2)
	}

	dh2 := make([][]float64, len(tr.steps2))
	dh2[len(dh2)-1] = dLast
	dx2 := m.rec2.backward(tr.steps2, dh2)

	if tr.mask1 != nil {
		for t := range dx2 {
			dx2[t] = applyMask(dx2[t], tr.mask1[t])
		}
	}
	m.rec1.backward(tr.steps1, dx2)
}

func (m *Model) trainBatch(samples [][]float64, labels []float64, lr float64) float64 {
	ps := m.params()
	for _, p := range ps {
		p.zeroGrad()
	}
	n := float64(len(samples))
	loss := 0.0
	for i := range samples {
		pred, tr := m.forward(samples[i], true)
		diff := pred - labels[i]
		loss += diff * diff
		m.backward(tr, 2*diff/n)
	}
	m.adamStep(ps, lr)
	return loss / n
}

func (m *Model) adamStep(ps []*param, lr float64) {
	m.step++
	t := float64(m.step)
	lrT := lr * math.Sqrt(1-math.Pow(adamBeta2, t)) / (1 - math.Pow(adamBeta1, t))
	for _, p := range ps {
		for i, g := range p.grad {
			p.m[i] = adamBeta1*p.m[i] + (1-adamBeta1)*g
			p.v[i] = adamBeta2*p.v[i] + (1-adamBeta2)*g*g
			p.val[i] -= lrT * p.m[i] / (math.Sqrt(p.v[i]) + adamEpsilon)
		}
	}
}

// dropoutMask returns inverted-dropout multipliers: 0 with probability p, else 1/(1-p).
func (m *Model) dropoutMask(n int) []float64 {
	keep := 1 / (1 - m.dropout)
	mask := make([]float64, n)
	for i := range mask {
		if m.rng.Float64() >= m.dropout {
			mask[i] = keep
		}
	}
	return mask
}

func applyMask(v, mask []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * mask[i]
	}
	return out
}
