package dkv

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/sparsebm/pkg/cohort"
	"github.com/dd0wney/sparsebm/pkg/logging"
)

// Options carries the per-transport sub-options, forwarded verbatim from
// the CLI to the transport selected by Type.
type Options struct {
	Type Type        `yaml:"type"`
	File FileOptions `yaml:"file"`
	RPC  RPCOptions  `yaml:"rpc"`
	RDMA RDMAOptions `yaml:"rdma"`
}

var validate = validator.New()

// New dispatches to the transport named by opts.Type. Dispatch is static at
// process start; the returned Store is used for the whole run.
func New(opts Options, coh cohort.Cohort, includeMaster bool, log logging.Logger) (Store, error) {
	switch opts.Type {
	case TypeFile:
		if err := validate.Struct(opts.File); err != nil {
			return nil, fmt.Errorf("file store options: %w", err)
		}
		return NewFileStore(opts.File, coh), nil
	case TypeRPC:
		if err := validate.Struct(opts.RPC); err != nil {
			return nil, fmt.Errorf("rpc store options: %w", err)
		}
		return NewRPCStore(opts.RPC, coh, includeMaster, log), nil
	case TypeRDMA:
		if err := validate.Struct(opts.RDMA); err != nil {
			return nil, fmt.Errorf("rdma store options: %w", err)
		}
		return NewRDMAStore(opts.RDMA, coh, includeMaster)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Type)
	}
}
