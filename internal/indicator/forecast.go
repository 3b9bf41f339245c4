package indicator

// LinearRegressionPrediction (FORECAST) extrapolates the next value in
// a time series by fitting a least-squares line over the current
// window: slope = cov(x,y)/var(x), intercept = meanY - slope*meanX,
// prediction = slope*(n+1) + intercept.
//
// The regressor sequence x = [1..period] and its mean (period+1)/2 are
// precomputed once at construction and never change; only the
// response-variable statistics are recomputed per call. While the
// window is still filling, n is the current sample count — the
// prediction extrapolates one step past the samples actually held, not
// past the nominal period. That warm-up behavior is deliberate.
type LinearRegressionPrediction struct {
	period int
	buf    []float64 // ring storage for the sample window
	start  int       // index of the oldest sample
	count  int       // samples held, saturates at period
	x      []float64 // regressor positions 1..period, fixed
	meanX  float64   // (period+1)/2, fixed
}

// NewLinearRegressionPrediction creates a forecaster over the given
// window length. Returns ErrInvalidParameter when period < 1.
func NewLinearRegressionPrediction(period int) (*LinearRegressionPrediction, error) {
	if period < 1 {
		return nil, ErrInvalidParameter
	}
	x := make([]float64, period)
	for i := range x {
		x[i] = float64(i + 1)
	}
	return &LinearRegressionPrediction{
		period: period,
		buf:    make([]float64, period),
		x:      x,
		meanX:  (float64(period) + 1.0) / 2.0,
	}, nil
}

func (l *LinearRegressionPrediction) Name() string { return "FORECAST" }
func (l *LinearRegressionPrediction) Period() int  { return l.period }

// at returns the i-th held sample in logical order (0 = oldest).
func (l *LinearRegressionPrediction) at(i int) float64 {
	j := l.start + i
	if j >= l.period {
		j -= l.period
	}
	return l.buf[j]
}

// Next pushes the sample into the FIFO window (evicting the oldest once
// full) and returns the one-step-ahead prediction.
func (l *LinearRegressionPrediction) Next(v float64) float64 {
	if l.count == l.period {
		l.buf[l.start] = v
		l.start++
		if l.start == l.period {
			l.start = 0
		}
	} else {
		l.buf[l.count] = v // start stays 0 until the window fills
		l.count++
	}
	return l.fit(l.count, l.at)
}

// Peek computes the prediction as if v were pushed, without mutating state.
func (l *LinearRegressionPrediction) Peek(v float64) float64 {
	n := l.count
	drop := 0
	if n == l.period {
		drop = 1 // the oldest sample would be evicted
	} else {
		n++
	}
	y := func(i int) float64 {
		if i == n-1 {
			return v
		}
		return l.at(i + drop)
	}
	return l.fit(n, y)
}

// fit runs the regression over n samples accessed through y and returns
// the extrapolated value at position n+1.
func (l *LinearRegressionPrediction) fit(n int, y func(int) float64) float64 {
	if n == 0 {
		return 0.0
	}
	fn := float64(n)

	var sum float64
	for i := 0; i < n; i++ {
		sum += y(i)
	}
	meanY := sum / fn

	var covXY, varX float64
	for i := 0; i < n; i++ {
		dx := l.x[i] - l.meanX
		covXY += dx * (y(i) - meanY)
		varX += dx * dx
	}

	slope := 0.0
	if varX != 0 {
		slope = covXY / varX // varX == 0 only for the single-sample window
	}
	intercept := meanY - slope*l.meanX
	return slope*(fn+1.0) + intercept
}

// Reset clears the sample window only; the precomputed regressor
// moments depend solely on period and are retained.
func (l *LinearRegressionPrediction) Reset() {
	l.start = 0
	l.count = 0
}

// Snapshot serializes forecaster state for checkpoint persistence.
// Samples are stored in logical order, oldest to newest.
func (l *LinearRegressionPrediction) Snapshot() IndicatorSnapshot {
	samples := make([]float64, l.count)
	for i := range samples {
		samples[i] = l.at(i)
	}
	return IndicatorSnapshot{
		Type:    "FORECAST",
		Period:  l.period,
		Samples: samples,
		Count:   l.count,
	}
}

// RestoreFromSnapshot restores forecaster state from a checkpoint,
// truncating oversized persisted windows to the most recent period samples.
func (l *LinearRegressionPrediction) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Period >= 1 && snap.Period != l.period {
		l.period = snap.Period
		l.buf = make([]float64, l.period)
		l.x = make([]float64, l.period)
		for i := range l.x {
			l.x[i] = float64(i + 1)
		}
		l.meanX = (float64(l.period) + 1.0) / 2.0
	}
	samples := snap.Samples
	if len(samples) > l.period {
		samples = samples[len(samples)-l.period:]
	}
	l.Reset()
	for _, s := range samples {
		l.Next(s)
	}
	return nil
}
