// Package blockguard implements C9: decides whether a new block requires
// reprocessing, and keeps a small ring of recently seen EL blocks to detect
// a re-org between the finalized and latest tags a tick reads from.
//
// Adapted from the teacher's indexer/beacon/blockcache.go: that cache
// tracks a full consensus-layer fork DAG (slot map, root map, canonical
// distance walks) because a beacon indexer must reason about competing
// chains. This daemon only watches a single EL chain and only needs the
// last-processed marker plus enough recent history to notice a shallow
// reorg, so the fork-choice machinery is dropped and the root/slot maps
// shrink to a bounded ring keyed by block number.
package blockguard

import (
	"sync"

	"github.com/lidofinance/council-daemon/internal/domain"
)

// recentBlocksCapacity bounds how many trailing blocks are remembered for
// reorg detection.
const recentBlocksCapacity = 256

// Guard tracks the last fully-processed block and a bounded window of
// recently observed blocks.
type Guard struct {
	mu                    sync.RWMutex
	lastProcessedStateMeta domain.StateMeta
	recentByNumber        map[uint64][32]byte
	recentOrder           []uint64
}

// New returns a Guard with no processed state yet.
func New() *Guard {
	return &Guard{recentByNumber: make(map[uint64][32]byte)}
}

// IsNeedToProcessNewState implements spec.md §4.9: false if the new block
// is not newer than the last processed one, or if it is the exact same
// block already processed.
func (g *Guard) IsNeedToProcessNewState(candidate domain.StateMeta) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if candidate.BlockNumber <= g.lastProcessedStateMeta.BlockNumber {
		return false
	}
	if candidate.BlockHash == g.lastProcessedStateMeta.BlockHash {
		return false
	}
	return true
}

// MarkProcessed updates the last-processed marker after a tick completes
// successfully. Per spec.md §4.10, this must only be called on a
// successfully completed tick — callers must not call it on abort.
func (g *Guard) MarkProcessed(meta domain.StateMeta) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastProcessedStateMeta = meta
	g.remember(meta)
}

// LastProcessed returns the last marker a successful tick recorded.
func (g *Guard) LastProcessed() domain.StateMeta {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastProcessedStateMeta
}

// ObserveBlock records a block seen in passing (e.g. while polling for a
// new head) so a later reorg check has history to compare against, without
// marking it as the processed tick state.
func (g *Guard) ObserveBlock(number uint64, hash [32]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remember(domain.StateMeta{BlockNumber: number, BlockHash: hash})
}

// WasSeenAsHash reports whether blockNumber was previously observed with a
// different hash than the one given — i.e. a reorg happened at that height.
func (g *Guard) WasSeenAsDifferentHash(number uint64, hash [32]byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	prior, ok := g.recentByNumber[number]
	if !ok {
		return false
	}
	return prior != hash
}

func (g *Guard) remember(meta domain.StateMeta) {
	if _, exists := g.recentByNumber[meta.BlockNumber]; !exists {
		g.recentOrder = append(g.recentOrder, meta.BlockNumber)
		if len(g.recentOrder) > recentBlocksCapacity {
			oldest := g.recentOrder[0]
			g.recentOrder = g.recentOrder[1:]
			delete(g.recentByNumber, oldest)
		}
	}
	g.recentByNumber[meta.BlockNumber] = meta.BlockHash
}
