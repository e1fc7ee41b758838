package dkv

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dd0wney/sparsebm/pkg/cohort"
	"github.com/dd0wney/sparsebm/pkg/logging"
)

// RPC wire protocol, all little-endian:
//
//	read request:   0x01 | count:u32 | keys: count * i32
//	read response:  count * valueSize * f64
//	write request:  0x02 | count:u32 | keys: count * i32 | rows: count * valueSize * f64
//	write response: 0x01 ack
const (
	rpcOpRead  byte = 0x01
	rpcOpWrite byte = 0x02
)

// RPCOptions configures the ZeroMQ store.
type RPCOptions struct {
	// Peers holds one "host:port" endpoint per cohort rank. Rank r's shard
	// server binds the port of Peers[r].
	Peers []string `yaml:"peers" validate:"required,min=1,dive,hostname_port"`
	// RecvTimeout bounds each request round-trip.
	RecvTimeout time.Duration `yaml:"recv_timeout"`
}

// RPCStore shards rows over the cohort and serves remote rows over
// ZeroMQ REQ/ROUTER round-trips, batched per owner.
type RPCStore struct {
	opts RPCOptions
	coh  cohort.Cohort
	log  logging.Logger

	sharding    Sharding
	valueSize   int
	totalValues int

	cache *rowArena
	stage *rowArena

	// Local shard. Indexed by Sharding.LocalIndex. Guarded by shardMu:
	// the server goroutine answers peers while the owner reads locally.
	shardMu sync.RWMutex
	shard   []float64

	server  *zmq.Socket
	clients map[int]*zmq.Socket

	closed  chan struct{}
	serveWG sync.WaitGroup
}

// NewRPCStore creates the ZeroMQ transport for one cohort member.
// includeMaster controls whether rank 0 hosts a shard.
func NewRPCStore(opts RPCOptions, coh cohort.Cohort, includeMaster bool, log logging.Logger) *RPCStore {
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = 30 * time.Second
	}
	if log == nil {
		log = logging.DefaultLogger()
	}
	return &RPCStore{
		opts:     opts,
		coh:      coh,
		log:      log.With(logging.Component("dkv-rpc"), logging.Rank(coh.Rank())),
		sharding: NewSharding(coh.Size(), includeMaster),
		clients:  make(map[int]*zmq.Socket),
		closed:   make(chan struct{}),
	}
}

func (s *RPCStore) hostsShard() bool {
	return s.sharding.includeMaster || s.coh.Rank() != 0 || s.coh.Size() == 1
}

// Init implements Store.
func (s *RPCStore) Init(valueSize, totalValues, maxCacheEntries, maxWriteEntries int) error {
	if len(s.opts.Peers) != s.coh.Size() {
		return fmt.Errorf("%w: %d peers for cohort of %d", ErrTransport, len(s.opts.Peers), s.coh.Size())
	}

	s.valueSize = valueSize
	s.totalValues = totalValues
	s.cache = newRowArena(valueSize, maxCacheEntries)
	s.stage = newRowArena(valueSize, maxWriteEntries)

	if s.hostsShard() {
		s.shard = make([]float64, s.sharding.ShardCapacity(totalValues)*valueSize)

		sock, err := zmq.NewSocket(zmq.ROUTER)
		if err != nil {
			return transportErr("create shard server socket", err)
		}
		if err := sock.SetRcvtimeo(250 * time.Millisecond); err != nil {
			sock.Close()
			return transportErr("configure shard server socket", err)
		}
		_, port, err := splitHostPort(s.opts.Peers[s.coh.Rank()])
		if err != nil {
			sock.Close()
			return transportErr("parse own endpoint", err)
		}
		addr := fmt.Sprintf("tcp://*:%s", port)
		if err := sock.Bind(addr); err != nil {
			sock.Close()
			return transportErr("bind "+addr, err)
		}
		s.server = sock

		s.serveWG.Add(1)
		go s.serve()
		s.log.Info("shard server listening", logging.String("addr", addr),
			logging.Count(s.sharding.ShardCapacity(totalValues)))
	}

	// Everyone must be serving before anyone reads.
	if err := s.coh.Barrier(); err != nil {
		return transportErr("init barrier", err)
	}
	return nil
}

func splitHostPort(endpoint string) (string, string, error) {
	for i := len(endpoint) - 1; i >= 0; i-- {
		if endpoint[i] == ':' {
			return endpoint[:i], endpoint[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("endpoint %q has no port", endpoint)
}

// serve answers read and write requests against the local shard until the
// store closes.
func (s *RPCStore) serve() {
	defer s.serveWG.Done()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		parts, err := s.server.RecvMessageBytes(0)
		if err != nil {
			// Timeout polls let the close flag break the loop.
			continue
		}
		if len(parts) < 3 {
			s.log.Warn("malformed request frame", logging.Count(len(parts)))
			continue
		}
		identity, payload := parts[0], parts[len(parts)-1]

		resp, err := s.handle(payload)
		if err != nil {
			s.log.Error("shard request failed", logging.Error(err))
			resp = nil
		}
		if _, err := s.server.SendMessage(identity, "", resp); err != nil {
			s.log.Error("shard response failed", logging.Error(err))
		}
	}
}

func (s *RPCStore) handle(req []byte) ([]byte, error) {
	if len(req) < 5 {
		return nil, fmt.Errorf("request of %d bytes", len(req))
	}
	op := req[0]
	count := int(binary.LittleEndian.Uint32(req[1:5]))
	body := req[5:]

	switch op {
	case rpcOpRead:
		if len(body) != 4*count {
			return nil, fmt.Errorf("read request body of %d bytes for %d keys", len(body), count)
		}
		resp := make([]byte, 8*count*s.valueSize)
		s.shardMu.RLock()
		for i := 0; i < count; i++ {
			key := int32(binary.LittleEndian.Uint32(body[4*i:]))
			row := s.localRow(key)
			for j, v := range row {
				binary.LittleEndian.PutUint64(resp[8*(i*s.valueSize+j):], math.Float64bits(v))
			}
		}
		s.shardMu.RUnlock()
		return resp, nil

	case rpcOpWrite:
		want := 4*count + 8*count*s.valueSize
		if len(body) != want {
			return nil, fmt.Errorf("write request body of %d bytes, want %d", len(body), want)
		}
		rows := body[4*count:]
		s.shardMu.Lock()
		for i := 0; i < count; i++ {
			key := int32(binary.LittleEndian.Uint32(body[4*i:]))
			row := s.localRow(key)
			for j := range row {
				row[j] = math.Float64frombits(binary.LittleEndian.Uint64(rows[8*(i*s.valueSize+j):]))
			}
		}
		s.shardMu.Unlock()
		return []byte{0x01}, nil

	default:
		return nil, fmt.Errorf("unknown op 0x%02x", op)
	}
}

// localRow returns the shard row of a key this rank owns.
func (s *RPCStore) localRow(key int32) []float64 {
	ix := s.sharding.LocalIndex(key)
	return s.shard[ix*s.valueSize : (ix+1)*s.valueSize]
}

// client returns the lazily connected REQ socket towards a peer's shard.
func (s *RPCStore) client(rank int) (*zmq.Socket, error) {
	if sock, ok := s.clients[rank]; ok {
		return sock, nil
	}
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, transportErr("create client socket", err)
	}
	if err := sock.SetRcvtimeo(s.opts.RecvTimeout); err != nil {
		sock.Close()
		return nil, transportErr("configure client socket", err)
	}
	addr := "tcp://" + s.opts.Peers[rank]
	if err := sock.Connect(addr); err != nil {
		sock.Close()
		return nil, transportErr("connect "+addr, err)
	}
	s.clients[rank] = sock
	return sock, nil
}

func (s *RPCStore) roundTrip(rank int, req []byte) ([]byte, error) {
	sock, err := s.client(rank)
	if err != nil {
		return nil, err
	}
	if _, err := sock.SendBytes(req, 0); err != nil {
		return nil, transportErr(fmt.Sprintf("send to rank %d", rank), err)
	}
	resp, err := sock.RecvBytes(0)
	if err != nil {
		return nil, transportErr(fmt.Sprintf("recv from rank %d", rank), err)
	}
	return resp, nil
}

// Read implements Store.
func (s *RPCStore) Read(keys []int32, out [][]float64, mode Mode) error {
	if s.cache == nil {
		return ErrNotInitialized
	}

	// Rows by owner, remote owners batched into one round-trip each.
	type pending struct {
		keys []int32
		rows [][]float64
	}
	remote := make(map[int]*pending)

	for i, key := range keys {
		if key < 0 || int(key) >= s.totalValues {
			return fmt.Errorf("%w: %d of %d", ErrKeyRange, key, s.totalValues)
		}
		if row := s.cache.lookup(key); row != nil {
			out[i] = row
			continue
		}
		row, err := s.cache.alloc(key)
		if err != nil {
			return err
		}
		out[i] = row

		owner := s.sharding.Owner(key)
		if owner == s.coh.Rank() {
			s.shardMu.RLock()
			copy(row, s.localRow(key))
			s.shardMu.RUnlock()
			continue
		}
		p := remote[owner]
		if p == nil {
			p = &pending{}
			remote[owner] = p
		}
		p.keys = append(p.keys, key)
		p.rows = append(p.rows, row)
	}

	for owner, p := range remote {
		req := make([]byte, 5+4*len(p.keys))
		req[0] = rpcOpRead
		binary.LittleEndian.PutUint32(req[1:5], uint32(len(p.keys)))
		for i, key := range p.keys {
			binary.LittleEndian.PutUint32(req[5+4*i:], uint32(key))
		}
		resp, err := s.roundTrip(owner, req)
		if err != nil {
			return err
		}
		if len(resp) != 8*len(p.keys)*s.valueSize {
			return transportErr("read", fmt.Errorf("response of %d bytes for %d keys", len(resp), len(p.keys)))
		}
		for i, row := range p.rows {
			for j := range row {
				row[j] = math.Float64frombits(binary.LittleEndian.Uint64(resp[8*(i*s.valueSize+j):]))
			}
		}
	}

	return nil
}

// Write implements Store.
func (s *RPCStore) Write(keys []int32, values [][]float64) error {
	if s.stage == nil {
		return ErrNotInitialized
	}

	type pending struct {
		keys []int32
		rows [][]float64
	}
	remote := make(map[int]*pending)

	for i, key := range keys {
		if key < 0 || int(key) >= s.totalValues {
			return fmt.Errorf("%w: %d of %d", ErrKeyRange, key, s.totalValues)
		}
		row, err := s.stage.alloc(key)
		if err != nil {
			return err
		}
		copy(row, values[i])

		owner := s.sharding.Owner(key)
		if owner == s.coh.Rank() {
			s.shardMu.Lock()
			copy(s.localRow(key), row)
			s.shardMu.Unlock()
			continue
		}
		p := remote[owner]
		if p == nil {
			p = &pending{}
			remote[owner] = p
		}
		p.keys = append(p.keys, key)
		p.rows = append(p.rows, row)
	}

	for owner, p := range remote {
		req := make([]byte, 5+4*len(p.keys)+8*len(p.keys)*s.valueSize)
		req[0] = rpcOpWrite
		binary.LittleEndian.PutUint32(req[1:5], uint32(len(p.keys)))
		for i, key := range p.keys {
			binary.LittleEndian.PutUint32(req[5+4*i:], uint32(key))
		}
		rows := req[5+4*len(p.keys):]
		for i, row := range p.rows {
			for j, v := range row {
				binary.LittleEndian.PutUint64(rows[8*(i*s.valueSize+j):], math.Float64bits(v))
			}
		}
		resp, err := s.roundTrip(owner, req)
		if err != nil {
			return err
		}
		if len(resp) != 1 || resp[0] != 0x01 {
			return transportErr("write", fmt.Errorf("bad ack from rank %d", owner))
		}
	}

	return nil
}

// Purge implements Store.
func (s *RPCStore) Purge() error {
	if s.cache == nil {
		return ErrNotInitialized
	}
	s.cache.reset()
	s.stage.reset()
	return nil
}

// Barrier implements Store. Writes are acked synchronously, so the cohort
// barrier alone establishes visibility.
func (s *RPCStore) Barrier() error {
	if err := s.coh.Barrier(); err != nil {
		return transportErr("barrier", err)
	}
	return nil
}

// IncludeMaster implements Store.
func (s *RPCStore) IncludeMaster() bool {
	return s.sharding.includeMaster || s.coh.Size() == 1
}

// Close implements Store.
func (s *RPCStore) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.serveWG.Wait()

	var firstErr error
	if s.server != nil {
		firstErr = s.server.Close()
	}
	for _, sock := range s.clients {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
