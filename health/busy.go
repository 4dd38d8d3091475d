package health

import (
	"sync"
	"sync/atomic"
)

// Tracker counts in-flight work so health reports can say whether the
// process is busy. The zero value is ready to use; pass one Tracker to every
// component whose work should count.
type Tracker struct {
	n atomic.Int64
}

// Acquire marks the start of a unit of work. Release the token when the work
// finishes.
func (t *Tracker) Acquire() *BusyToken {
	t.n.Add(1)
	return &BusyToken{tracker: t}
}

func (t *Tracker) Busy() bool {
	return t.n.Load() != 0
}

// BusyToken undoes one Acquire. Release is idempotent.
type BusyToken struct {
	tracker *Tracker
	once    sync.Once
}

func (b *BusyToken) Release() {
	b.once.Do(func() {
		b.tracker.n.Add(-1)
	})
}
