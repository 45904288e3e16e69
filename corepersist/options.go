package corepersist

import "github.com/nvmstm/dudetm/pmem"

// Default sizing for the shadow page table when Options leaves it
// unset.
const (
	DefaultVPNNum         = 1 << 16
	DefaultPPNNum         = 4096
	DefaultMaxUnpersistTx = 8
)

// Options configures a Core at Open time.
type Options struct {
	// Small selects the 128 MiB pool mode instead of the default 1 GiB.
	Small bool
	// MaxUnpersistTx is the transactions-combined threshold that forces
	// a group persist. Zero uses the default.
	MaxUnpersistTx int
	// MeasurementEnabled toggles the Prometheus measurement hooks.
	MeasurementEnabled bool
	// VPNNum and PPNNum size the shadow page table and its DRAM frame
	// pool. Zero uses the defaults.
	VPNNum int
	PPNNum int
}

func (o Options) poolSize() pmem.PoolSize {
	if o.Small {
		return pmem.Small
	}
	return pmem.Full
}

func (o Options) withDefaults() Options {
	if o.MaxUnpersistTx <= 0 {
		o.MaxUnpersistTx = DefaultMaxUnpersistTx
	}
	if o.VPNNum <= 0 {
		o.VPNNum = DefaultVPNNum
	}
	if o.PPNNum <= 0 {
		o.PPNNum = DefaultPPNNum
	}
	return o
}
