package dkv

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/sparsebm/pkg/cohort"
)

func TestParseType(t *testing.T) {
	for _, name := range []string{"file", "rpc", "rdma"} {
		typ, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, Type(name), typ)
	}
	_, err := ParseType("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestShardingWithMaster(t *testing.T) {
	s := NewSharding(4, true)
	assert.Equal(t, 4, s.Workers())

	for k := int32(0); k < 100; k++ {
		owner := s.Owner(k)
		assert.Equal(t, int(k)%4, owner)
		assert.Equal(t, int(k)/4, s.LocalIndex(k))
	}
	assert.Equal(t, 25, s.ShardCapacity(100))
	assert.Equal(t, 26, s.ShardCapacity(101))
}

func TestShardingWithoutMaster(t *testing.T) {
	s := NewSharding(4, false)
	assert.Equal(t, 3, s.Workers())

	for k := int32(0); k < 100; k++ {
		owner := s.Owner(k)
		assert.Equal(t, 1+int(k)%3, owner)
		assert.NotEqual(t, 0, owner, "master must not own keys")
	}
}

func TestShardingSingleMember(t *testing.T) {
	s := NewSharding(1, false)
	assert.Equal(t, 1, s.Workers())
	assert.Equal(t, 0, s.Owner(17))
}

func TestRowArenaOverflowFailsLoudly(t *testing.T) {
	a := newRowArena(3, 2)

	r1, err := a.alloc(10)
	require.NoError(t, err)
	require.Len(t, r1, 3)
	_, err = a.alloc(11)
	require.NoError(t, err)

	_, err = a.alloc(12)
	assert.ErrorIs(t, err, ErrBufferOverflow)

	a.reset()
	_, err = a.alloc(12)
	assert.NoError(t, err)
}

func TestRowArenaAliasesRepeatedKey(t *testing.T) {
	a := newRowArena(2, 4)
	r1, err := a.alloc(7)
	require.NoError(t, err)
	r1[0] = 1.5

	cached := a.lookup(7)
	require.NotNil(t, cached)
	assert.Equal(t, 1.5, cached[0])
	assert.Equal(t, 1, a.used())
}

func newTestFileStore(t *testing.T, dir string, coh cohort.Cohort) *FileStore {
	t.Helper()
	s := NewFileStore(FileOptions{Dir: dir}, coh)
	require.NoError(t, s.Init(4, 32, 16, 8))
	return s
}

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	s := newTestFileStore(t, t.TempDir(), nil)

	want := [][]float64{
		{0.25, 0.25, 0.5, 4.0},
		{0.1, 0.2, 0.7, 2.5},
	}
	require.NoError(t, s.Write([]int32{3, 9}, want))
	require.NoError(t, s.Purge())

	out := make([][]float64, 2)
	require.NoError(t, s.Read([]int32{3, 9}, out, ReadOnly))
	assert.Equal(t, want[0], out[0])
	assert.Equal(t, want[1], out[1])
}

func TestFileStoreRepeatedKeySharesRow(t *testing.T) {
	s := newTestFileStore(t, t.TempDir(), nil)
	require.NoError(t, s.Write([]int32{1}, [][]float64{{1, 2, 3, 6}}))
	require.NoError(t, s.Purge())

	out := make([][]float64, 3)
	require.NoError(t, s.Read([]int32{1, 1, 1}, out, ReadOnly))
	assert.Same(t, &out[0][0], &out[1][0])
	assert.Same(t, &out[0][0], &out[2][0])
}

func TestFileStoreCacheOverflow(t *testing.T) {
	s := NewFileStore(FileOptions{Dir: t.TempDir()}, nil)
	require.NoError(t, s.Init(2, 64, 2, 64))

	rows := make([][]float64, 3)
	for i := int32(0); i < 3; i++ {
		require.NoError(t, s.Write([]int32{i}, [][]float64{{float64(i), 0}}))
	}
	require.NoError(t, s.Purge())

	err := s.Read([]int32{0, 1, 2}, rows, ReadOnly)
	assert.ErrorIs(t, err, ErrBufferOverflow)
}

func TestFileStoreKeyRange(t *testing.T) {
	s := newTestFileStore(t, t.TempDir(), nil)
	err := s.Write([]int32{99}, [][]float64{{0, 0, 0, 0}})
	assert.ErrorIs(t, err, ErrKeyRange)
}

// Two workers over a shared directory: a row written by one member before
// the barrier is read bit-identical by the other after it.
func TestFileStoreBarrierVisibility(t *testing.T) {
	dir := t.TempDir()
	members := cohort.NewLocalGroup(2)

	want := []float64{0.125, 0.875, 0.0, 17.5}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	got := make([]float64, 4)

	for rank, coh := range members {
		wg.Add(1)
		go func(rank int, coh cohort.Cohort) {
			defer wg.Done()
			s := NewFileStore(FileOptions{Dir: dir}, coh)
			if errs[rank] = s.Init(4, 32, 16, 8); errs[rank] != nil {
				return
			}

			if rank == 0 {
				if errs[rank] = s.Write([]int32{17}, [][]float64{want}); errs[rank] != nil {
					return
				}
				if errs[rank] = s.Purge(); errs[rank] != nil {
					return
				}
			}

			if errs[rank] = s.Barrier(); errs[rank] != nil {
				return
			}

			if rank == 1 {
				out := make([][]float64, 1)
				if errs[rank] = s.Read([]int32{17}, out, ReadOnly); errs[rank] != nil {
					return
				}
				copy(got, out[0])
			}
		}(rank, coh)
	}
	wg.Wait()

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	assert.Equal(t, want, got)
}

func TestRDMAUnavailable(t *testing.T) {
	coh := cohort.NewLocalGroup(1)[0]
	_, err := NewRDMAStore(RDMAOptions{Fabric: "verbs"}, coh, true)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestNewDispatch(t *testing.T) {
	coh := cohort.NewLocalGroup(1)[0]

	s, err := New(Options{Type: TypeFile, File: FileOptions{Dir: t.TempDir()}}, coh, true, nil)
	require.NoError(t, err)
	assert.True(t, s.IncludeMaster())

	_, err = New(Options{Type: Type("bogus")}, coh, true, nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
