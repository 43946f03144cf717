// Package clock 提供可注入的时间源，调度器和去重账本在测试中用虚拟时间驱动。
package clock

import "time"

// Clock 时间源
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker 对 time.Ticker 的抽象
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real 返回基于系统时间的 Clock
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
