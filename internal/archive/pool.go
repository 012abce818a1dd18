package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// PoolConfig bounds the set of live archive sessions.
type PoolConfig struct {
	MaxConns       int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

// PoolStats is an observable snapshot of pool and breaker state.
type PoolStats struct {
	MaxConns int
	InUse    int
	Idle     int
	Breaker  BreakerStats
}

type idleConn struct {
	conn  Conn
	since time.Time
}

// Pool manages a bounded set of archive sessions with wait-queueing on
// acquire. Dialing goes through the circuit breaker; waiting callers time
// out with ErrPoolExhausted.
type Pool struct {
	dialer  Dialer
	breaker *Breaker
	cfg     PoolConfig
	clock   pricesync.Clock
	logger  *zap.Logger

	slots chan struct{}

	mu     sync.Mutex
	idle   []idleConn
	inUse  int
	closed bool
}

// NewPool constructs a Pool around the dialer and breaker.
func NewPool(dialer Dialer, breaker *Breaker, cfg PoolConfig, clock pricesync.Clock, logger *zap.Logger) *Pool {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		dialer:  dialer,
		breaker: breaker,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		slots:   make(chan struct{}, cfg.MaxConns),
	}
}

// Breaker exposes the shared breaker so callers can report operation results.
func (p *Pool) Breaker() *Breaker {
	return p.breaker
}

// Acquire returns a live session, waiting for a free slot up to the acquire
// timeout. While the breaker is open it fails immediately without any
// network attempt.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if err := p.breaker.Ready(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("acquire after %s: %w", p.cfg.AcquireTimeout, pricesync.ErrPoolExhausted)
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire canceled: %w", ctx.Err())
	}

	if conn := p.takeIdle(); conn != nil {
		err := conn.Ping()
		if err == nil {
			p.breaker.RecordSuccess()
			p.markInUse(1)
			return conn, nil
		}
		p.logger.Debug("idle session stale, redialing", zap.Error(err))
		if closeErr := conn.Close(); closeErr != nil {
			p.logger.Debug("close stale session", zap.Error(closeErr))
		}
	}

	if err := p.breaker.Allow(); err != nil {
		p.freeSlot()
		return nil, err
	}
	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		p.breaker.RecordFailure()
		p.freeSlot()
		return nil, err
	}
	p.breaker.RecordSuccess()
	p.markInUse(1)
	return conn, nil
}

// Release returns the session to the pool. Unhealthy sessions are closed
// instead of being reused.
func (p *Pool) Release(conn Conn, healthy bool) {
	defer p.freeSlot()
	p.markInUse(-1)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if conn == nil {
		return
	}
	if !healthy || closed {
		if err := conn.Close(); err != nil {
			p.logger.Debug("close released session", zap.Error(err))
		}
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, idleConn{conn: conn, since: p.clock.Now()})
	p.mu.Unlock()
}

// Stats returns an observable snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	inUse := p.inUse
	idle := len(p.idle)
	p.mu.Unlock()
	return PoolStats{
		MaxConns: p.cfg.MaxConns,
		InUse:    inUse,
		Idle:     idle,
		Breaker:  p.breaker.Stats(),
	}
}

// Close shuts down all idle sessions. In-use sessions are closed on release.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ic := range idle {
		if err := ic.conn.Close(); err != nil {
			p.logger.Debug("close pooled session", zap.Error(err))
		}
	}
}

// takeIdle pops the most recently used live session, discarding any that
// outlived the idle timeout.
func (p *Pool) takeIdle() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if now.Sub(last.since) <= p.cfg.IdleTimeout {
			return last.conn
		}
		if err := last.conn.Close(); err != nil {
			p.logger.Debug("close expired session", zap.Error(err))
		}
	}
	return nil
}

func (p *Pool) markInUse(delta int) {
	p.mu.Lock()
	p.inUse += delta
	p.mu.Unlock()
}

func (p *Pool) freeSlot() {
	select {
	case <-p.slots:
	default:
	}
}
