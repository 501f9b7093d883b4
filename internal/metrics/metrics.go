package metrics

import "sync/atomic"

// Counters is the injected, process-wide counter set. All methods are safe
// for concurrent use; a nil *Counters is a no-op so components never need to
// guard their instrumentation.
type Counters struct {
	summariesCreated     atomic.Int64
	compactionsRun       atomic.Int64
	truncationsPerformed atomic.Int64
	degradedStoreOps     atomic.Int64
	archiveWriteFailures atomic.Int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) SummaryCreated() {
	if c != nil {
		c.summariesCreated.Add(1)
	}
}

func (c *Counters) CompactionRun() {
	if c != nil {
		c.compactionsRun.Add(1)
	}
}

func (c *Counters) TruncationPerformed() {
	if c != nil {
		c.truncationsPerformed.Add(1)
	}
}

func (c *Counters) DegradedStoreOp() {
	if c != nil {
		c.degradedStoreOps.Add(1)
	}
}

func (c *Counters) ArchiveWriteFailure() {
	if c != nil {
		c.archiveWriteFailures.Add(1)
	}
}

type Snapshot struct {
	SummariesCreated     int64 `json:"summaries_created"`
	CompactionsRun       int64 `json:"compactions_run"`
	TruncationsPerformed int64 `json:"truncations_performed"`
	DegradedStoreOps     int64 `json:"degraded_store_ops"`
	ArchiveWriteFailures int64 `json:"archive_write_failures"`
}

func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		SummariesCreated:     c.summariesCreated.Load(),
		CompactionsRun:       c.compactionsRun.Load(),
		TruncationsPerformed: c.truncationsPerformed.Load(),
		DegradedStoreOps:     c.degradedStoreOps.Load(),
		ArchiveWriteFailures: c.archiveWriteFailures.Load(),
	}
}
