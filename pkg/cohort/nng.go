package cohort

import (
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pair"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// NNGConfig describes the star topology: the master listens on
// BasePort+rank for each worker rank, workers dial their own port.
type NNGConfig struct {
	Rank       int           `yaml:"rank" validate:"gte=0"`
	Size       int           `yaml:"size" validate:"gte=1"`
	MasterHost string        `yaml:"master_host" validate:"required"`
	BasePort   int           `yaml:"base_port" validate:"gt=0,lt=65536"`
	DialRetry  time.Duration `yaml:"dial_retry"`
}

// nngCohort is the mangos star cohort. The master holds one pair socket per
// worker; a worker holds one pair socket to the master. Collectives that
// involve two non-master ranks relay through the master, which is every
// collective here: broadcast, scatter, reduce and barrier are all rooted.
type nngCohort struct {
	cfg   NNGConfig
	peers []mangos.Socket // master: indexed by worker rank; nil at 0
	up    mangos.Socket   // worker: link to master
}

// NewNNG connects one member of the NNG star cohort. The master returns as
// soon as it listens on every worker port, without waiting for the workers;
// a worker returns once its dial to the master succeeds, retrying until then.
func NewNNG(cfg NNGConfig) (Cohort, error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("%w: size %d", ErrRankMismatch, cfg.Size)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrRankMismatch, cfg.Rank, cfg.Size)
	}
	if cfg.DialRetry <= 0 {
		cfg.DialRetry = 250 * time.Millisecond
	}

	c := &nngCohort{cfg: cfg}

	if cfg.Rank == 0 {
		c.peers = make([]mangos.Socket, cfg.Size)
		for rank := 1; rank < cfg.Size; rank++ {
			sock, err := pair.NewSocket()
			if err != nil {
				c.Close()
				return nil, transportErr("create pair socket", err)
			}
			addr := fmt.Sprintf("tcp://*:%d", cfg.BasePort+rank)
			if err := sock.Listen(addr); err != nil {
				sock.Close()
				c.Close()
				return nil, transportErr("listen "+addr, err)
			}
			c.peers[rank] = sock
		}
		return c, nil
	}

	sock, err := pair.NewSocket()
	if err != nil {
		return nil, transportErr("create pair socket", err)
	}
	sock.SetOption(mangos.OptionDialAsynch, false)
	addr := fmt.Sprintf("tcp://%s:%d", cfg.MasterHost, cfg.BasePort+cfg.Rank)
	for {
		err = sock.Dial(addr)
		if err == nil {
			break
		}
		time.Sleep(cfg.DialRetry)
	}
	c.up = sock
	return c, nil
}

func (c *nngCohort) Rank() int { return c.cfg.Rank }
func (c *nngCohort) Size() int { return c.cfg.Size }

func (c *nngCohort) sendTo(rank int, op wireOp, payload []byte) error {
	var sock mangos.Socket
	if c.cfg.Rank == 0 {
		sock = c.peers[rank]
	} else {
		sock = c.up
	}
	if err := sock.Send(frame(op, payload)); err != nil {
		return transportErr(fmt.Sprintf("send to rank %d", rank), err)
	}
	return nil
}

func (c *nngCohort) recvFrom(rank int, op wireOp) ([]byte, error) {
	var sock mangos.Socket
	if c.cfg.Rank == 0 {
		sock = c.peers[rank]
	} else {
		sock = c.up
	}
	msg, err := sock.Recv()
	if err != nil {
		return nil, transportErr(fmt.Sprintf("recv from rank %d", rank), err)
	}
	payload, err := unframe(op, msg)
	if err != nil {
		return nil, transportErr(fmt.Sprintf("recv from rank %d", rank), err)
	}
	return payload, nil
}

// checkRoot rejects collectives rooted anywhere but the master. Only root 0
// is supported: the star has no worker-to-worker links.
func (c *nngCohort) checkRoot(root int) error {
	if root != 0 {
		return fmt.Errorf("%w: NNG cohort collectives must be rooted at the master", ErrRankMismatch)
	}
	return nil
}

func (c *nngCohort) BroadcastFloat64(buf []float64, root int) error {
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if c.cfg.Rank == 0 {
		payload := encodeFloat64s(buf)
		for rank := 1; rank < c.cfg.Size; rank++ {
			if err := c.sendTo(rank, opBroadcast, payload); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := c.recvFrom(0, opBroadcast)
	if err != nil {
		return err
	}
	if err := decodeFloat64s(payload, buf); err != nil {
		return transportErr("broadcast float64", err)
	}
	return nil
}

func (c *nngCohort) BroadcastBytes(buf []byte, root int) error {
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if c.cfg.Rank == 0 {
		for rank := 1; rank < c.cfg.Size; rank++ {
			if err := c.sendTo(rank, opBroadcast, buf); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := c.recvFrom(0, opBroadcast)
	if err != nil {
		return err
	}
	if len(payload) != len(buf) {
		return transportErr("broadcast bytes", fmt.Errorf("payload of %d bytes, want %d", len(payload), len(buf)))
	}
	copy(buf, payload)
	return nil
}

func (c *nngCohort) ScatterInt32(send []int32, recv []int32, root int) error {
	if err := c.checkRoot(root); err != nil {
		return err
	}
	chunk := len(recv)
	if c.cfg.Rank == 0 {
		if len(send) < chunk*c.cfg.Size {
			return fmt.Errorf("%w: scatter of %d over %d members", ErrRankMismatch, len(send), c.cfg.Size)
		}
		copy(recv, send[:chunk])
		for rank := 1; rank < c.cfg.Size; rank++ {
			part := send[rank*chunk : (rank+1)*chunk]
			if err := c.sendTo(rank, opScatter, encodeInt32s(part)); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := c.recvFrom(0, opScatter)
	if err != nil {
		return err
	}
	if err := decodeInt32s(payload, recv); err != nil {
		return transportErr("scatter int32", err)
	}
	return nil
}

func (c *nngCohort) ScattervInt32(send []int32, counts []int32, recv []int32, root int) error {
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if c.cfg.Rank == 0 {
		if len(counts) != c.cfg.Size {
			return fmt.Errorf("%w: scatterv counts of %d", ErrRankMismatch, len(counts))
		}
		offset := int(counts[0])
		copy(recv, send[:counts[0]])
		for rank := 1; rank < c.cfg.Size; rank++ {
			part := send[offset : offset+int(counts[rank])]
			offset += int(counts[rank])
			if err := c.sendTo(rank, opScatter, encodeInt32s(part)); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := c.recvFrom(0, opScatter)
	if err != nil {
		return err
	}
	if err := decodeInt32s(payload, recv); err != nil {
		return transportErr("scatterv int32", err)
	}
	return nil
}

func (c *nngCohort) ScattervBytes(send []byte, counts []int32, recv []byte, root int) error {
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if c.cfg.Rank == 0 {
		if len(counts) != c.cfg.Size {
			return fmt.Errorf("%w: scatterv counts of %d", ErrRankMismatch, len(counts))
		}
		offset := int(counts[0])
		copy(recv, send[:counts[0]])
		for rank := 1; rank < c.cfg.Size; rank++ {
			part := send[offset : offset+int(counts[rank])]
			offset += int(counts[rank])
			if err := c.sendTo(rank, opScatter, part); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := c.recvFrom(0, opScatter)
	if err != nil {
		return err
	}
	if len(payload) != len(recv) {
		return transportErr("scatterv bytes", fmt.Errorf("payload of %d bytes, want %d", len(payload), len(recv)))
	}
	copy(recv, payload)
	return nil
}

func (c *nngCohort) ReduceSumFloat64(buf []float64, root int) error {
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if c.cfg.Rank != 0 {
		return c.sendTo(0, opReduce, encodeFloat64s(buf))
	}
	part := make([]float64, len(buf))
	for rank := 1; rank < c.cfg.Size; rank++ {
		payload, err := c.recvFrom(rank, opReduce)
		if err != nil {
			return err
		}
		if err := decodeFloat64s(payload, part); err != nil {
			return transportErr("reduce float64", err)
		}
		for i := range buf {
			buf[i] += part[i]
		}
	}
	return nil
}

func (c *nngCohort) AllReduceSumFloat64(buf []float64) error {
	if err := c.ReduceSumFloat64(buf, 0); err != nil {
		return err
	}
	return c.BroadcastFloat64(buf, 0)
}

func (c *nngCohort) AllReduceSumInt64(buf []int64) error {
	if c.cfg.Rank != 0 {
		if err := c.sendTo(0, opReduce, encodeInt64s(buf)); err != nil {
			return err
		}
	} else {
		part := make([]int64, len(buf))
		for rank := 1; rank < c.cfg.Size; rank++ {
			payload, err := c.recvFrom(rank, opReduce)
			if err != nil {
				return err
			}
			if err := decodeInt64s(payload, part); err != nil {
				return transportErr("reduce int64", err)
			}
			for i := range buf {
				buf[i] += part[i]
			}
		}
	}

	if c.cfg.Rank == 0 {
		payload := encodeInt64s(buf)
		for rank := 1; rank < c.cfg.Size; rank++ {
			if err := c.sendTo(rank, opBroadcast, payload); err != nil {
				return err
			}
		}
		return nil
	}
	payload, err := c.recvFrom(0, opBroadcast)
	if err != nil {
		return err
	}
	if err := decodeInt64s(payload, buf); err != nil {
		return transportErr("allreduce int64", err)
	}
	return nil
}

func (c *nngCohort) Barrier() error {
	if c.cfg.Rank != 0 {
		if err := c.sendTo(0, opBarrier, nil); err != nil {
			return err
		}
		_, err := c.recvFrom(0, opBarrier)
		return err
	}
	for rank := 1; rank < c.cfg.Size; rank++ {
		if _, err := c.recvFrom(rank, opBarrier); err != nil {
			return err
		}
	}
	for rank := 1; rank < c.cfg.Size; rank++ {
		if err := c.sendTo(rank, opBarrier, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *nngCohort) Close() error {
	var firstErr error
	if c.up != nil {
		firstErr = c.up.Close()
	}
	for _, sock := range c.peers {
		if sock == nil {
			continue
		}
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
