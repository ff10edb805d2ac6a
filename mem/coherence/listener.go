package coherence

import "github.com/sarchlab/coherence/sim"

// AccessRecord describes one access observed by a cache.
type AccessRecord struct {
	Time    sim.VTimeInSec
	Cache   string
	Addr    uint64
	VAddr   uint64
	InstPtr uint64
	Size    int
	Write   bool
	Hit     bool
}

// AccessListener observes the accesses that reach a cache.
type AccessListener interface {
	NotifyAccess(record AccessRecord)
}

// Stats accumulates named counters.
type Stats interface {
	Add(name string, delta uint64)
}

// Counter names reported by the controllers and caches.
const (
	StatGetSHit       = "get_s_hit"
	StatGetSMiss      = "get_s_miss"
	StatGetXHit       = "get_x_hit"
	StatGetXMiss      = "get_x_miss"
	StatUpgrade       = "upgrade"
	StatNACKSent      = "nack_sent"
	StatNACKReceived  = "nack_received"
	StatRetry         = "retry"
	StatEviction      = "eviction"
	StatInvSent       = "inv_sent"
	StatWriteback     = "writeback"
	StatPrefetchDrop  = "prefetch_drop"
	StatNoncacheable  = "noncacheable"
	StatUnmatched     = "unmatched"
	StatDataEviction  = "data_eviction"
	StatMSHRStall     = "mshr_stall"
	StatLockBlocked   = "lock_blocked"
	StatSCFail        = "sc_fail"
	StatWritebackAckd = "writeback_acked"
)

// NopStats drops every counter.
type NopStats struct{}

// Add does nothing.
func (NopStats) Add(string, uint64) {}
