// Package circuitbreaker 为出站调用提供熔断保护。
//
// 只有 Config.Counts 认定的错误才计入失败；其余错误原样返回给调用方，
// 但不影响熔断状态。这样单个下游对象（比如某个 chat）的拒绝不会拖垮整条通道。
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"taskpulse/pkg/clock"
	"taskpulse/pkg/metrics"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

type Config struct {
	// Name 用作 metrics 标签
	Name string
	// 连续多少次计入失败后打开
	FailureThreshold int
	// 半开状态下成功多少次后关闭
	SuccessThreshold int
	// OpenFor 打开状态持续多久后进入半开
	OpenFor time.Duration
	// 半开状态下同时放行的试探请求数
	HalfOpenProbes int
	// Counts 决定错误是否计入失败，nil 表示所有错误都计入
	Counts func(error) bool
}

func DefaultConfig() Config {
	return Config{
		Name:             "default",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenFor:          30 * time.Second,
		HalfOpenProbes:   3,
	}
}

// withDefaults 零值字段回落到 DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenFor <= 0 {
		c.OpenFor = d.OpenFor
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	if c.Counts == nil {
		c.Counts = func(err error) bool { return err != nil }
	}
	return c
}

type CircuitBreaker struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	since     time.Time
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	return NewCircuitBreakerWithClock(cfg, clock.Real())
}

func NewCircuitBreakerWithClock(cfg Config, clk clock.Clock) *CircuitBreaker {
	cb := &CircuitBreaker{cfg: cfg.withDefaults(), clock: clk, since: clk.Now()}
	metrics.SetCircuitState(cb.cfg.Name, int(StateClosed))
	return cb
}

// Execute runs fn unless the breaker is open. fn's error is always returned
// as is; only errors accepted by Config.Counts move the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitBreakerOpen
	}
	err := fn()
	cb.record(cb.cfg.Counts(err))
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	switch cb.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenProbes {
			return false
		}
		cb.probes++
	}
	return true
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	if failed {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// advance 打开状态超时后进入半开
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.clock.Now().Sub(cb.since) >= cb.cfg.OpenFor {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.since = cb.clock.Now()
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	metrics.SetCircuitState(cb.cfg.Name, int(to))
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
