package chat

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool runs session drivers on a bounded number of goroutines. A driver
// that returns an error or panics terminates its session.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), logger: logger}
}

// Run starts d for s. It does not block.
func (p *Pool) Run(s *Session, d Driver) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(s.ctx, 1); err != nil {
			s.fail(newError(CodeUnexpected, CauseUnexpected, "driver not started", err))
			return
		}
		defer p.sem.Release(1)
		p.run(s, d)
	}()
}

func (p *Pool) run(s *Session, d Driver) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("driver panic",
				zap.String("driver", d.Name()),
				zap.String("session_id", s.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			s.fail(newError(CodeUnexpected, CauseUnexpected, d.Name(), fmt.Errorf("panic: %v", r)))
		}
	}()
	err := d.Run(s.ctx, s)
	switch {
	case err == nil:
	case errors.Is(err, ErrInterrupted):
		p.logger.Debug("driver interrupted", zap.String("driver", d.Name()), zap.String("session_id", s.id))
	default:
		p.logger.Warn("driver failed", zap.String("driver", d.Name()), zap.String("session_id", s.id), zap.Error(err))
		s.fail(err)
	}
}

// Wait blocks until every started driver has returned.
func (p *Pool) Wait() { p.wg.Wait() }
