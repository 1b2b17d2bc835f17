package activity

import (
	"sync"
	"time"

	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
	"chatrixx/pkg/store"
)

// Recorder appends activity entries off the request path. Record never
// blocks: entries are dropped when the buffer is full, activity history is
// best effort.
type Recorder struct {
	ch       chan models.ActivityEntry
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewRecorder(buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{ch: make(chan models.ActivityEntry, buffer)}
	r.wg.Add(1)
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for e := range r.ch {
		if err := store.AppendActivity(e); err != nil {
			logger.Warn("activity_append_failed", "user", e.User, "action", e.Action, "error", err)
		}
	}
}

// Record enqueues one entry. The timestamp is assigned here so callers do
// not depend on when the drain goroutine catches up.
func (r *Recorder) Record(user, action string, details map[string]any) {
	if r == nil {
		return
	}
	e := models.ActivityEntry{
		User:    user,
		Action:  action,
		Details: details,
		TS:      time.Now().UTC().UnixNano(),
	}
	select {
	case r.ch <- e:
	default:
		logger.Debug("activity_dropped", "user", user, "action", action)
	}
}

// Close drains pending entries and stops the worker.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.ch) })
	r.wg.Wait()
}
