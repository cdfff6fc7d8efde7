package lstm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// param holds one trainable tensor, flattened, with its gradient and Adam moments.
type param struct {
	val  []float64
	grad []float64
	m    []float64
	v    []float64
}

func newParam(n int) *param {
	return &param{
		val:  make([]float64, n),
		grad: make([]float64, n),
		m:    make([]float64, n),
		v:    make([]float64, n),
	}
}

func (p *param) zeroGrad() {
	for i := range p.grad {
		p.grad[i] = 0
	}
}

func glorotUniform(rng *rand.Rand, dst []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}

// orthogonal fills dst (rows x cols, row-major, rows >= cols) with a matrix whose
// columns are orthonormal.
func orthogonal(rng *rand.Rand, dst []float64, rows, cols int) {
	a := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			a.Set(r, c, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q, rr mat.Dense
	qr.QTo(&q)
	qr.RTo(&rr)
	for c := 0; c < cols; c++ {
		sign := 1.0
		if rr.At(c, c) < 0 {
			sign = -1
		}
		for r := 0; r < rows; r++ {
			dst[r*cols+c] = sign * q.At(r, c)
		}
	}
}

func sigmoid(x float64) float64 {
	if x > 35 {
		return 1
	}
	if x < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

// recurrentLayer is an LSTM with gate order input, forget, cell, output.
// Row r of w and u belongs to gate r/units, unit r%units.
type recurrentLayer struct {
	in    int
	units int
	w     *param // 4*units x in
	u     *param // 4*units x units
	b     *param // 4*units
}

type recurrentStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	c, tc           []float64
}

func newRecurrentLayer(rng *rand.Rand, in, units int) *recurrentLayer {
	l := &recurrentLayer{
		in:    in,
		units: units,
		w:     newParam(4 * units * in),
		u:     newParam(4 * units * units),
		b:     newParam(4 * units),
	}
	glorotUniform(rng, l.w.val, in, 4*units)
	orthogonal(rng, l.u.val, 4*units, units)
	for j := 0; j < units; j++ {
		l.b.val[units+j] = 1
	}
	return l
}

func (l *recurrentLayer) params() []*param { return []*param{l.w, l.u, l.b} }

// forward runs the layer over xs and returns every hidden state plus the step cache.
func (l *recurrentLayer) forward(xs [][]float64) ([][]float64, []recurrentStep) {
	H := l.units
	h := make([]float64, H)
	c := make([]float64, H)
	hs := make([][]float64, len(xs))
	steps := make([]recurrentStep, len(xs))
	z := make([]float64, 4*H)

	for t, x := range xs {
		for r := 0; r < 4*H; r++ {
			s := l.b.val[r]
			wRow := l.w.val[r*l.in : (r+1)*l.in]
			for k, xv := range x {
				s += wRow[k] * xv
			}
			uRow := l.u.val[r*H : (r+1)*H]
			for k, hv := range h {
				s += uRow[k] * hv
			}
			z[r] = s
		}
		st := recurrentStep{
			x:     x,
			hPrev: h,
			cPrev: c,
			i:     make([]float64, H),
			f:     make([]float64, H),
			g:     make([]float64, H),
			o:     make([]float64, H),
			c:     make([]float64, H),
			tc:    make([]float64, H),
		}
		hNext := make([]float64, H)
		for j := 0; j < H; j++ {
			st.i[j] = sigmoid(z[j])
			st.f[j] = sigmoid(z[H+j])
			st.g[j] = math.Tanh(z[2*H+j])
			st.o[j] = sigmoid(z[3*H+j])
			st.c[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
			st.tc[j] = math.Tanh(st.c[j])
			hNext[j] = st.o[j] * st.tc[j]
		}
		steps[t] = st
		hs[t] = hNext
		h = hNext
		c = st.c
	}
	return hs, steps
}

// backward accumulates parameter gradients given dL/dh for every step (nil entries mean
// no gradient from above) and returns dL/dx for every step.
func (l *recurrentLayer) backward(steps []recurrentStep, dhs [][]float64) [][]float64 {
	H := l.units
	dxs := make([][]float64, len(steps))
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for j := 0; j < H; j++ {
			dh := dhNext[j]
			if dhs[t] != nil {
				dh += dhs[t][j]
			}
			do := dh * st.tc[j]
			dc := dh*st.o[j]*(1-st.tc[j]*st.tc[j]) + dcNext[j]
			di := dc * st.g[j]
			dg := dc * st.i[j]
			df := dc * st.cPrev[j]
			dz[j] = di * st.i[j] * (1 - st.i[j])
			dz[H+j] = df * st.f[j] * (1 - st.f[j])
			dz[2*H+j] = dg * (1 - st.g[j]*st.g[j])
			dz[3*H+j] = do * st.o[j] * (1 - st.o[j])
			dcNext[j] = dc * st.f[j]
		}

		dx := make([]float64, l.in)
		dhPrev := make([]float64, H)
		for r := 0; r < 4*H; r++ {
			d := dz[r]
			if d == 0 {
				continue
			}
			l.b.grad[r] += d
			wOff := r * l.in
			for k, xv := range st.x {
				l.w.grad[wOff+k] += d * xv
				dx[k] += d * l.w.val[wOff+k]
			}
			uOff := r * H
			for k, hv := range st.hPrev {
				l.u.grad[uOff+k] += d * hv
				dhPrev[k] += d * l.u.val[uOff+k]
			}
		}
		dxs[t] = dx
		dhNext = dhPrev
	}
	return dxs
}

// denseLayer is a fully connected layer with optional ReLU.
type denseLayer struct {
	in   int
	out  int
	relu bool
	w    *param // out x in
	b    *param
}

func newDenseLayer(rng *rand.Rand, in, out int, relu bool) *denseLayer {
	l := &denseLayer{in: in, out: out, relu: relu, w: newParam(out * in), b: newParam(out)}
	glorotUniform(rng, l.w.val, in, out)
	return l
}

func (l *denseLayer) params() []*param { return []*param{l.w, l.b} }

// forward returns the pre-activation and the activation.
func (l *denseLayer) forward(x []float64) ([]float64, []float64) {
	a := make([]float64, l.out)
	y := make([]float64, l.out)
	for r := 0; r < l.out; r++ {
		s := l.b.val[r]
		row := l.w.val[r*l.in : (r+1)*l.in]
		for k, xv := range x {
			s += row[k] * xv
		}
		a[r] = s
		if l.relu && s < 0 {
			s = 0
		}
		y[r] = s
	}
	return a, y
}

func (l *denseLayer) backward(x, a, dy []float64) []float64 {
	dx := make([]float64, l.in)
	for r := 0; r < l.out; r++ {
		d := dy[r]
		if l.relu && a[r] <= 0 {
			continue
		}
		l.b.grad[r] += d
		off := r * l.in
		for k, xv := range x {
			l.w.grad[off+k] += d * xv
			dx[k] += d * l.w.val[off+k]
		}
	}
	return dx
}
