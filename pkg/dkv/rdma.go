package dkv

import (
	"fmt"

	"github.com/dd0wney/sparsebm/pkg/cohort"
)

// RDMAOptions configures the one-sided RDMA transport: workers read peers'
// pinned row regions directly and manage their own local cache.
type RDMAOptions struct {
	// Fabric names the RDMA provider, e.g. "verbs" or "sockets".
	Fabric string `yaml:"fabric" validate:"omitempty,alphanum"`
	// Port is the fabric service port.
	Port int `yaml:"port" validate:"omitempty,gt=0,lt=65536"`
}

// NewRDMAStore creates the RDMA transport. The fabric binding is supplied
// by a separate build; a binary without it reports the transport as
// unavailable rather than falling back silently.
func NewRDMAStore(opts RDMAOptions, coh cohort.Cohort, includeMaster bool) (Store, error) {
	return nil, fmt.Errorf("%w: rdma (fabric %q)", ErrTransportUnavailable, opts.Fabric)
}
