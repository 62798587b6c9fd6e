// Package composing implements the "is typing" indicator: a local manager
// that rate-limits outgoing indicators and a watcher that tracks remote
// indicators.
package composing

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SendFunc transmits an indicator to the remote side.
type SendFunc func(active bool) error

// Manager coalesces local typing events into network indicators. A
// "composing" indicator is sent when typing starts; "not composing" is sent
// once typing has been quiet for a full timeout, or immediately on Stop or
// MessageSent.
type Manager struct {
	timeout time.Duration
	send    SendFunc
	logger  *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	composing    bool
	lastActivity time.Time
	armedAt      time.Time
	sentActive   bool
	lastSendOK   bool
	timer        *time.Timer
	gen          uint64
	closed       bool
}

// NewManager creates a manager in the idle state.
func NewManager(timeout time.Duration, send SendFunc, logger *zap.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		send:    send,
		logger:  logger,
		now:     time.Now,
	}
}

// Typing records a local "user is typing" event.
func (m *Manager) Typing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	now := m.now()
	m.lastActivity = now
	if m.composing {
		return
	}
	m.composing = true
	m.sendLocked(true)
	m.armLocked(now)
}

// Stop records an explicit "stopped typing" event.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleLocked()
}

// MessageSent resets the indicator after a message went out.
func (m *Manager) MessageSent() {
	m.Stop()
}

// Composing reports the local state.
func (m *Manager) Composing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.composing
}

// Close cancels the timer without sending anything. Once Close returns no
// timer callback will touch the network.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancelLocked()
	m.composing = false
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || !m.composing {
		return
	}
	if m.lastActivity.After(m.armedAt) {
		if !m.lastSendOK {
			m.sendLocked(true)
		}
		m.armLocked(m.now())
		return
	}
	m.idleLocked()
}

func (m *Manager) idleLocked() {
	m.cancelLocked()
	if m.sentActive && !m.closed {
		m.sendLocked(false)
	}
	m.composing = false
	m.sentActive = false
	m.lastSendOK = false
	m.lastActivity = time.Time{}
	m.armedAt = time.Time{}
}

func (m *Manager) armLocked(now time.Time) {
	m.cancelLocked()
	m.armedAt = now
	gen := m.gen
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(gen) })
}

func (m *Manager) cancelLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) sendLocked(active bool) {
	err := m.send(active)
	m.lastSendOK = err == nil
	if err != nil {
		m.logger.Debug("composing indicator not sent", zap.Bool("active", active), zap.Error(err))
		return
	}
	m.sentActive = active
}
