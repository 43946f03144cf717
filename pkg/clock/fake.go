package clock

import (
	"sync"
	"time"
)

// Fake 是手动推进的虚拟时钟，Advance 时按周期向各 ticker 投递时间。
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake 创建起始于 start 的虚拟时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now 返回当前虚拟时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker 创建虚拟 ticker，通道带缓冲以免 Advance 阻塞
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:  f,
		period: d,
		next:   f.now.Add(d),
		ch:     make(chan time.Time, 64),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// TickerCount 返回未停止的 ticker 数
func (f *Fake) TickerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Set 直接设置虚拟时间，不触发 ticker
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance 推进虚拟时间，途经的每个 tick 都会被投递
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	var fire []struct {
		t  *fakeTicker
		at time.Time
	}
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(target) {
			fire = append(fire, struct {
				t  *fakeTicker
				at time.Time
			}{t, t.next})
			t.next = t.next.Add(t.period)
		}
	}
	f.now = target
	f.mu.Unlock()

	for _, e := range fire {
		select {
		case e.t.ch <- e.at:
		default:
			// 与 time.Ticker 一致：接收方跟不上时丢弃
		}
	}
}

type fakeTicker struct {
	clock   *Fake
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
