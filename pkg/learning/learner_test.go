package learning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpsT(t *testing.T) {
	l := &Learner{A: 0.01, B: 1024, C: 0.55, StepCount: 1}
	want := 0.01 * math.Pow(1.0+1.0/1024.0, -0.55)
	assert.InDelta(t, want, l.EpsT(), 1e-15)

	l.StepCount = 5000
	want = 0.01 * math.Pow(1.0+5000.0/1024.0, -0.55)
	assert.InDelta(t, want, l.EpsT(), 1e-15)

	// step size decays monotonically
	prev := math.Inf(1)
	for step := 1; step < 1000; step += 100 {
		l.StepCount = step
		cur := l.EpsT()
		assert.Less(t, cur, prev)
		prev = cur
	}
}

func TestIsConverged(t *testing.T) {
	l := &Learner{}
	assert.False(t, l.IsConverged(), "no measurements")

	l.PpxsHeldOut = []float64{20}
	assert.False(t, l.IsConverged(), "one measurement")

	l.PpxsHeldOut = []float64{20, 19}
	assert.False(t, l.IsConverged())

	l.PpxsHeldOut = []float64{20, 19, 19}
	assert.True(t, l.IsConverged())

	l.PpxsHeldOut = []float64{19, 19 * (1 + 2e-12)}
	assert.False(t, l.IsConverged())
}

func TestBetaFromTheta(t *testing.T) {
	l := &Learner{K: 2, Beta: make([]float64, 2)}
	l.BetaFromTheta([]float64{1, 3, 2, 2})
	assert.InDelta(t, 0.75, l.Beta[0], 1e-15)
	assert.InDelta(t, 0.5, l.Beta[1], 1e-15)
}

func TestCalEdgeLikelihood(t *testing.T) {
	l := &Learner{
		K:       2,
		Epsilon: 0.05,
		Beta:    []float64{0.8, 0.3},
	}
	piA := []float64{0.6, 0.4}
	piB := []float64{0.5, 0.5}

	s := 0.6*0.5 + 0.4*0.5

	wantLink := 0.6*0.5*0.8 + 0.4*0.5*0.3 + (1-s)*0.05
	assert.InDelta(t, wantLink, l.CalEdgeLikelihood(piA, piB, true), 1e-12)

	wantNonLink := 0.6*0.5*0.2 + 0.4*0.5*0.7 + (1-s)*0.95
	assert.InDelta(t, wantNonLink, l.CalEdgeLikelihood(piA, piB, false), 1e-12)
}

func TestPiFromPhi(t *testing.T) {
	row := make([]float64, 4)
	piFromPhi(row, []float64{1, 2, 1})
	assert.InDelta(t, 0.25, row[0], 1e-15)
	assert.InDelta(t, 0.5, row[1], 1e-15)
	assert.InDelta(t, 0.25, row[2], 1e-15)
	assert.InDelta(t, 4.0, row[3], 1e-15)
}

func TestLocalNetwork(t *testing.T) {
	var ln LocalNetwork
	ln.Unmarshall(0, []int32{3, 5, 9})
	ln.Unmarshall(1, []int32{2})

	assert.True(t, ln.Find(0, 5))
	assert.False(t, ln.Find(0, 4))
	assert.True(t, ln.Find(1, 2))
	assert.False(t, ln.Find(7, 2), "out-of-range index")

	ln.Reset()
	assert.False(t, ln.Find(0, 5))
}
