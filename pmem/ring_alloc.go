package pmem

// initRingBlocks links the pre-allocated ring blocks into a single
// circle and sets the root's persist/reproduce cursors to the head
// block. Called exactly once, when a pool is first created.
func (p *Pool) initRingBlocks() {
	for i := 0; i < RingBlockCount; i++ {
		blk := p.BlockAt(BlockOffset(i))
		next := (i + 1) % RingBlockCount
		blk.Next = BlockOffset(next)
		blk.Reserved = 0
	}

	root := p.Root()
	root.PersistBlock = BlockOffset(0)
	root.ReproduceBlock = BlockOffset(0)
	root.PersistOffset = 0
	root.ReproduceOffset = 0
	root.PersistTimestamp = 0
	root.ReproduceTimestamp = 0
}
