package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks how much of a known amount of work is done.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// Set overwrites the numbers of finished and started items.
func (b *ProgressBar) Set(finished, inProgress uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished = finished
	b.InProgress = inProgress
}
