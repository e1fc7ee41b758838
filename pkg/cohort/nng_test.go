package cohort

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Spin up a 2-member star on localhost and run one round of collectives.
func TestNNGStarCollectives(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping socket test in short mode")
	}

	const basePort = 29750

	build := func(rank int) (Cohort, error) {
		return NewNNG(NNGConfig{
			Rank:       rank,
			Size:       2,
			MasterHost: "127.0.0.1",
			BasePort:   basePort,
		})
	}

	members := make([]Cohort, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			members[rank], errs[rank] = build(rank)
		}(rank)
	}
	wg.Wait()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	defer members[0].Close()
	defer members[1].Close()

	runAll(t, members, func(c Cohort) error {
		// broadcast
		buf := []float64{0, 0}
		if c.Rank() == 0 {
			buf = []float64{3.5, -1.25}
		}
		if err := c.BroadcastFloat64(buf, 0); err != nil {
			return err
		}
		assert.Equal(t, []float64{3.5, -1.25}, buf)

		// scatterv
		recvLens := []int32{1, 2}
		recv := make([]int32, recvLens[c.Rank()])
		var send []int32
		var counts []int32
		if c.Rank() == 0 {
			send = []int32{7, 8, 9}
			counts = recvLens
		}
		if err := c.ScattervInt32(send, counts, recv, 0); err != nil {
			return err
		}
		if c.Rank() == 0 {
			assert.Equal(t, []int32{7}, recv)
		} else {
			assert.Equal(t, []int32{8, 9}, recv)
		}

		// all-reduce
		sum := []float64{float64(c.Rank() + 1)}
		if err := c.AllReduceSumFloat64(sum); err != nil {
			return err
		}
		assert.Equal(t, []float64{3}, sum)

		return c.Barrier()
	})
}

func TestNNGRejectsBadGeometry(t *testing.T) {
	_, err := NewNNG(NNGConfig{Rank: 3, Size: 2, MasterHost: "x", BasePort: 1234})
	assert.ErrorIs(t, err, ErrRankMismatch)
}
