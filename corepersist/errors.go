package corepersist

import (
	"github.com/nvmstm/dudetm/pmem"
	"github.com/nvmstm/dudetm/ring"
	"github.com/nvmstm/dudetm/shadowpage"
)

// Sentinel errors the STM engine observes from this package. They
// alias the lower-level packages' own sentinels rather than wrapping
// them, so errors.Is works against either name.
var (
	ErrRingFull       = ring.ErrRingFull
	ErrNeedsReproduce = shadowpage.ErrNeedsReproduce
	ErrPoolOpenFailed = pmem.ErrPoolOpenFailed
	ErrLogCorrupt     = ring.ErrLogCorrupt
)
