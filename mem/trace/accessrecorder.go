package trace

import (
	"github.com/sarchlab/coherence/datarecording"
	"github.com/sarchlab/coherence/mem/coherence"
)

// AccessTable is the table the access recorder writes into.
const AccessTable = "coherence_accesses"

type accessEntry struct {
	Time    float64
	Cache   string
	Addr    uint64
	VAddr   uint64
	InstPtr uint64
	Size    int
	Write   bool
	Hit     bool
}

// AccessRecorder stores the accesses that reach the caches it listens to.
type AccessRecorder struct {
	recorder datarecording.DataRecorder
	count    uint64
}

// NewAccessRecorder creates the access table and returns a listener that
// fills it.
func NewAccessRecorder(recorder datarecording.DataRecorder) *AccessRecorder {
	recorder.CreateTable(AccessTable, accessEntry{})

	return &AccessRecorder{recorder: recorder}
}

// NotifyAccess records one access.
func (r *AccessRecorder) NotifyAccess(record coherence.AccessRecord) {
	r.count++
	r.recorder.InsertData(AccessTable, accessEntry{
		Time:    float64(record.Time),
		Cache:   record.Cache,
		Addr:    record.Addr,
		VAddr:   record.VAddr,
		InstPtr: record.InstPtr,
		Size:    record.Size,
		Write:   record.Write,
		Hit:     record.Hit,
	})
}

// Count returns the number of recorded accesses.
func (r *AccessRecorder) Count() uint64 {
	return r.count
}

// MultiListener forwards each access to several listeners.
type MultiListener []coherence.AccessListener

// NotifyAccess forwards the access.
func (m MultiListener) NotifyAccess(record coherence.AccessRecord) {
	for _, l := range m {
		l.NotifyAccess(record)
	}
}
