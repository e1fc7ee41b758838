package cohort

import (
	"fmt"
)

// localGroup is the in-process cohort: members exchange copies over
// per-link buffered channels. links[from][to] carries messages from one
// member to another; per-link FIFO order plus the SPMD calling discipline
// (every member enters collectives in the same order) keeps collectives
// from interleaving.
type localGroup struct {
	size  int
	links [][]chan any
}

// localMember is one rank's handle on a localGroup.
type localMember struct {
	group *localGroup
	rank  int
}

// NewLocalGroup creates size connected in-process cohort members.
// Member i of the returned slice has rank i.
func NewLocalGroup(size int) []Cohort {
	if size < 1 {
		size = 1
	}
	g := &localGroup{
		size:  size,
		links: make([][]chan any, size),
	}
	for from := 0; from < size; from++ {
		g.links[from] = make([]chan any, size)
		for to := 0; to < size; to++ {
			g.links[from][to] = make(chan any, 4)
		}
	}

	members := make([]Cohort, size)
	for rank := 0; rank < size; rank++ {
		members[rank] = &localMember{group: g, rank: rank}
	}
	return members
}

func (m *localMember) Rank() int { return m.rank }
func (m *localMember) Size() int { return m.group.size }

func (m *localMember) send(to int, payload any) {
	m.group.links[m.rank][to] <- payload
}

func (m *localMember) recv(from int) any {
	return <-m.group.links[from][m.rank]
}

func (m *localMember) BroadcastFloat64(buf []float64, root int) error {
	if m.rank == root {
		for to := 0; to < m.group.size; to++ {
			if to == root {
				continue
			}
			cp := make([]float64, len(buf))
			copy(cp, buf)
			m.send(to, cp)
		}
		return nil
	}
	v, ok := m.recv(root).([]float64)
	if !ok || len(v) != len(buf) {
		return fmt.Errorf("%w: broadcast float64 of %d", ErrRankMismatch, len(buf))
	}
	copy(buf, v)
	return nil
}

func (m *localMember) BroadcastBytes(buf []byte, root int) error {
	if m.rank == root {
		for to := 0; to < m.group.size; to++ {
			if to == root {
				continue
			}
			cp := make([]byte, len(buf))
			copy(cp, buf)
			m.send(to, cp)
		}
		return nil
	}
	v, ok := m.recv(root).([]byte)
	if !ok || len(v) != len(buf) {
		return fmt.Errorf("%w: broadcast bytes of %d", ErrRankMismatch, len(buf))
	}
	copy(buf, v)
	return nil
}

func (m *localMember) ScatterInt32(send []int32, recv []int32, root int) error {
	chunk := len(recv)
	if m.rank == root {
		if len(send) < chunk*m.group.size {
			return fmt.Errorf("%w: scatter of %d over %d members", ErrRankMismatch, len(send), m.group.size)
		}
		for to := 0; to < m.group.size; to++ {
			part := send[to*chunk : (to+1)*chunk]
			if to == root {
				copy(recv, part)
				continue
			}
			cp := make([]int32, chunk)
			copy(cp, part)
			m.send(to, cp)
		}
		return nil
	}
	v, ok := m.recv(root).([]int32)
	if !ok || len(v) != chunk {
		return fmt.Errorf("%w: scatter chunk of %d", ErrRankMismatch, chunk)
	}
	copy(recv, v)
	return nil
}

func (m *localMember) ScattervInt32(send []int32, counts []int32, recv []int32, root int) error {
	if m.rank == root {
		if len(counts) != m.group.size {
			return fmt.Errorf("%w: scatterv counts of %d", ErrRankMismatch, len(counts))
		}
		offset := 0
		for to := 0; to < m.group.size; to++ {
			part := send[offset : offset+int(counts[to])]
			offset += int(counts[to])
			if to == root {
				copy(recv, part)
				continue
			}
			cp := make([]int32, len(part))
			copy(cp, part)
			m.send(to, cp)
		}
		return nil
	}
	v, ok := m.recv(root).([]int32)
	if !ok || len(v) != len(recv) {
		return fmt.Errorf("%w: scatterv chunk of %d", ErrRankMismatch, len(recv))
	}
	copy(recv, v)
	return nil
}

func (m *localMember) ScattervBytes(send []byte, counts []int32, recv []byte, root int) error {
	if m.rank == root {
		if len(counts) != m.group.size {
			return fmt.Errorf("%w: scatterv counts of %d", ErrRankMismatch, len(counts))
		}
		offset := 0
		for to := 0; to < m.group.size; to++ {
			part := send[offset : offset+int(counts[to])]
			offset += int(counts[to])
			if to == root {
				copy(recv, part)
				continue
			}
			cp := make([]byte, len(part))
			copy(cp, part)
			m.send(to, cp)
		}
		return nil
	}
	v, ok := m.recv(root).([]byte)
	if !ok || len(v) != len(recv) {
		return fmt.Errorf("%w: scatterv chunk of %d", ErrRankMismatch, len(recv))
	}
	copy(recv, v)
	return nil
}

func (m *localMember) ReduceSumFloat64(buf []float64, root int) error {
	if m.rank != root {
		cp := make([]float64, len(buf))
		copy(cp, buf)
		m.send(root, cp)
		return nil
	}
	for from := 0; from < m.group.size; from++ {
		if from == root {
			continue
		}
		v, ok := m.recv(from).([]float64)
		if !ok || len(v) != len(buf) {
			return fmt.Errorf("%w: reduce float64 of %d", ErrRankMismatch, len(buf))
		}
		for i := range buf {
			buf[i] += v[i]
		}
	}
	return nil
}

func (m *localMember) AllReduceSumFloat64(buf []float64) error {
	if err := m.ReduceSumFloat64(buf, 0); err != nil {
		return err
	}
	return m.BroadcastFloat64(buf, 0)
}

func (m *localMember) AllReduceSumInt64(buf []int64) error {
	if m.rank != 0 {
		cp := make([]int64, len(buf))
		copy(cp, buf)
		m.send(0, cp)
	} else {
		for from := 1; from < m.group.size; from++ {
			v, ok := m.recv(from).([]int64)
			if !ok || len(v) != len(buf) {
				return fmt.Errorf("%w: reduce int64 of %d", ErrRankMismatch, len(buf))
			}
			for i := range buf {
				buf[i] += v[i]
			}
		}
	}

	if m.rank == 0 {
		for to := 1; to < m.group.size; to++ {
			cp := make([]int64, len(buf))
			copy(cp, buf)
			m.send(to, cp)
		}
		return nil
	}
	v, ok := m.recv(0).([]int64)
	if !ok || len(v) != len(buf) {
		return fmt.Errorf("%w: allreduce int64 of %d", ErrRankMismatch, len(buf))
	}
	copy(buf, v)
	return nil
}

func (m *localMember) Barrier() error {
	// Gather tokens at rank 0, then release everyone.
	if m.rank != 0 {
		m.send(0, struct{}{})
		m.recv(0)
		return nil
	}
	for from := 1; from < m.group.size; from++ {
		m.recv(from)
	}
	for to := 1; to < m.group.size; to++ {
		m.send(to, struct{}{})
	}
	return nil
}

func (m *localMember) Close() error {
	return nil
}
