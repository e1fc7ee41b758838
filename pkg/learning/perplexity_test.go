package learning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/sparsebm/pkg/graph"
)

// seedPi overwrites the stored pi row of every vertex a held-out entry
// touches with a deterministic hand-built distribution, and returns the
// lookup table.
func seedPi(t *testing.T, s *DistributedSampler) map[graph.Vertex][]float64 {
	t.Helper()
	pi := make(map[graph.Vertex][]float64)

	for _, item := range s.perp.items {
		for _, v := range []graph.Vertex{item.Edge.First, item.Edge.Second} {
			if _, ok := pi[v]; ok {
				continue
			}
			row := make([]float64, s.K+1)
			weight := 0.0
			for k := 0; k < s.K; k++ {
				row[k] = float64(1 + (int(v)+k)%3)
				weight += row[k]
			}
			for k := 0; k < s.K; k++ {
				row[k] /= weight
			}
			row[s.K] = weight
			pi[v] = row

			require.NoError(t, s.store.Write([]int32{v}, [][]float64{row}))
			require.NoError(t, s.store.Purge())
		}
	}
	return pi
}

// The distributed evaluation must reproduce a direct scalar computation of
// exp(-avg log likelihood) over the held-out set.
func TestPerplexityMatchesReference(t *testing.T) {
	cfg := testConfig()
	samplers := buildCohortSamplers(t, cfg, chordRing(40), 1)
	s := samplers[0]

	require.NotEmpty(t, s.perp.items)

	pi := seedPi(t, s)
	s.Beta = []float64{0.8, 0.6, 0.4, 0.2}

	got, err := s.calPerplexityHeldOut()
	require.NoError(t, err)

	// independent reference computation
	logSum := 0.0
	for _, item := range s.perp.items {
		piA := pi[item.Edge.First]
		piB := pi[item.Edge.Second]

		ell := 0.0
		shared := 0.0
		for k := 0; k < s.K; k++ {
			f := piA[k] * piB[k]
			shared += f
			if item.Link {
				ell += f * s.Beta[k]
			} else {
				ell += f * (1.0 - s.Beta[k])
			}
		}
		if item.Link {
			ell += (1.0 - shared) * s.Epsilon
		} else {
			ell += (1.0 - shared) * (1.0 - s.Epsilon)
		}
		logSum += math.Log(ell)
	}
	want := math.Exp(-logSum / float64(len(s.perp.items)))

	assert.InDelta(t, want, got, 1e-9)
}

// The running average advances exactly once per evaluation: the second call
// averages the old and new likelihood per edge.
func TestPerplexitySmoothingCounter(t *testing.T) {
	cfg := testConfig()
	samplers := buildCohortSamplers(t, cfg, chordRing(40), 1)
	s := samplers[0]

	seedPi(t, s)
	s.Beta = []float64{0.8, 0.6, 0.4, 0.2}

	assert.Equal(t, 1.0, s.perp.averageCount)
	first, err := s.calPerplexityHeldOut()
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.perp.averageCount)

	// same model state: the smoothed value is unchanged
	second, err := s.calPerplexityHeldOut()
	require.NoError(t, err)
	assert.InDelta(t, first, second, 1e-12)
	assert.Equal(t, 3.0, s.perp.averageCount)

	firstSmoothed := make([]float64, len(s.perp.ppxPerEdge))
	copy(firstSmoothed, s.perp.ppxPerEdge)

	// shift beta: with the counter at 3, the per-edge average moves a third
	// of the way towards the new likelihood on the next call
	s.Beta = []float64{0.5, 0.5, 0.5, 0.5}
	_, err = s.calPerplexityHeldOut()
	require.NoError(t, err)
	for i := range s.perp.ppxPerEdge {
		assert.NotEqual(t, firstSmoothed[i], s.perp.ppxPerEdge[i])
	}
}

func TestHeldOutScatterCoversWholeSet(t *testing.T) {
	cfg := testConfig()
	samplers := buildCohortSamplers(t, cfg, chordRing(40), 1)
	s := samplers[0]

	items := s.net.HeldOutItems()
	assert.Equal(t, len(items), len(s.perp.items))
	assert.Equal(t, items, s.perp.items)
	assert.Len(t, s.perp.nodes, 2*len(items))
}
