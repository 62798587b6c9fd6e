package composing

import (
	"sync"
	"time"

	"github.com/matheus3301/rcschat/internal/contact"
)

// NotifyFunc is told about remote indicator transitions.
type NotifyFunc func(c contact.ID, active bool)

type remoteState struct {
	active bool
	timer  *time.Timer
	gen    uint64
}

// Watcher tracks the indicators received from remote contacts. An active
// state reverts to idle when its refresh period passes without a new
// indicator.
type Watcher struct {
	notify NotifyFunc

	mu      sync.Mutex
	remotes map[contact.ID]*remoteState
	closed  bool
}

// NewWatcher creates a watcher reporting to notify.
func NewWatcher(notify NotifyFunc) *Watcher {
	return &Watcher{notify: notify, remotes: make(map[contact.ID]*remoteState)}
}

// Receive handles an isComposing document from c.
func (w *Watcher) Receive(c contact.ID, data []byte) error {
	info, err := Parse(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	st := w.remotes[c]
	if st == nil {
		st = &remoteState{}
		w.remotes[c] = st
	}
	if !info.Active {
		w.setLocked(c, st, false)
		return nil
	}
	refresh := info.Refresh
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	w.setLocked(c, st, true)
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(refresh, func() { w.expire(c, gen) })
	return nil
}

// Reset returns c to idle, typically because a message from c arrived.
func (w *Watcher) Reset(c contact.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st := w.remotes[c]; st != nil && !w.closed {
		w.setLocked(c, st, false)
	}
}

// Active reports the last known state of c.
func (w *Watcher) Active(c contact.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.remotes[c]
	return st != nil && st.active
}

// Close stops all refresh timers.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for _, st := range w.remotes {
		st.gen++
		if st.timer != nil {
			st.timer.Stop()
		}
	}
}

func (w *Watcher) expire(c contact.ID, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.remotes[c]
	if w.closed || st == nil || st.gen != gen {
		return
	}
	w.setLocked(c, st, false)
}

func (w *Watcher) setLocked(c contact.ID, st *remoteState, active bool) {
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.active == active {
		return
	}
	st.active = active
	w.notify(c, active)
}
