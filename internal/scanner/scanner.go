// Package scanner periodically finds tasks whose deadline is about to arrive
// and hands each one to the dispatcher exactly once per deadline value.
//
// The window is forward-only: (now, now+Window]. A deadline that slipped past
// while the scanner was down is never picked up later.
//
// The dedup entry is claimed atomically before the send, not recorded after
// it. Overlapping ticks and several workers therefore never send twice, but a
// crash between the claim and the send loses that reminder. Per-chat send
// failures do not release the claim either; they stay in the notification log.
package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskpulse/internal/ledger"
	"taskpulse/internal/model"
	"taskpulse/internal/notify"
	"taskpulse/pkg/clock"
	"taskpulse/pkg/metrics"
	"taskpulse/pkg/otel"
	"taskpulse/pkg/trace"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultWindow   = 2 * time.Minute
)

// TaskSource is the read side of the task store the scanner needs.
type TaskSource interface {
	ListOwners(ctx context.Context) ([]string, error)
	ListPendingByOwner(ctx context.Context, ownerID string) ([]*model.Task, error)
}

// Dispatcher sends one reminder.
type Dispatcher interface {
	Dispatch(ctx context.Context, ownerID string, task *model.Task) notify.DispatchReport
}

type Config struct {
	Interval time.Duration
	Window   time.Duration
	// MaxInFlight 单个周期内并发派发的上限
	MaxInFlight int
	// PurgeEvery 每隔多少个周期清理一次账本，0 表示不清理
	PurgeEvery int
}

func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		Window:      DefaultWindow,
		MaxInFlight: 8,
		PurgeEvery:  60,
	}
}

// Phase of the scanner state machine.
type Phase int

const (
	Idle Phase = iota
	Scanning
)

func (p Phase) String() string {
	if p == Scanning {
		return "scanning"
	}
	return "idle"
}

// State is a snapshot of the state machine. Ticks may overlap, so more than
// one tick can be active at once.
type State struct {
	Phase       Phase
	ActiveTicks int
	InFlight    int
	Ticks       uint64
	LastTick    time.Time
}

// TickReport counts what one tick did with each task it looked at.
type TickReport struct {
	Now         time.Time
	WindowEnd   time.Time
	Owners      int
	Evaluated   int
	Dispatched  int
	Duplicates  int
	Malformed   int
	OutOfWindow int
	Errors      int
}

type Scanner struct {
	tasks      TaskSource
	ledger     ledger.Ledger
	dispatcher Dispatcher
	clock      clock.Clock
	cfg        Config
	logger     *zap.Logger

	mu    sync.Mutex
	state State
}

func New(tasks TaskSource, l ledger.Ledger, d Dispatcher, clk clock.Clock, cfg Config, logger *zap.Logger) *Scanner {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scanner{
		tasks:      tasks,
		ledger:     l,
		dispatcher: d,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
	}
}

// State returns a snapshot of the state machine.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run ticks until ctx is cancelled. Each tick runs in its own goroutine, so a
// slow tick does not delay the next one. On shutdown no new tick starts and
// Run waits for the active ones, which are not interrupted.
func (s *Scanner) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Deadline scanner started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("window", s.cfg.Window),
	)

	tickCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Deadline scanner stopping, waiting for active ticks")
			wg.Wait()
			return
		case now := <-ticker.C():
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Tick(tickCtx, now)
			}()
		}
	}
}

func (s *Scanner) enterTick(now time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveTicks++
	s.state.Phase = Scanning
	s.state.Ticks++
	s.state.LastTick = now
	return s.state.Ticks
}

func (s *Scanner) exitTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveTicks--
	if s.state.ActiveTicks == 0 {
		s.state.Phase = Idle
	}
}

func (s *Scanner) addInFlight(delta int) {
	s.mu.Lock()
	s.state.InFlight += delta
	s.mu.Unlock()
}

// Tick runs one scan at now. Per-task and per-owner failures are counted and
// logged, never returned.
func (s *Scanner) Tick(ctx context.Context, now time.Time) TickReport {
	seq := s.enterTick(now)
	defer s.exitTick()

	start := time.Now()
	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	ctx, span := otel.StartSpan(ctx, "scanner.tick")
	defer func() {
		metrics.RecordScannerTick(time.Since(start))
		otel.EndSpan(span, nil)
	}()

	report := TickReport{Now: now, WindowEnd: now.Add(s.cfg.Window)}
	log := s.logger.With(zap.String("trace_id", trace.FromContext(ctx)), zap.Uint64("tick", seq))

	owners, err := s.tasks.ListOwners(ctx)
	if err != nil {
		log.Error("Failed to list owners", zap.Error(err))
		report.Errors++
		return report
	}
	report.Owners = len(owners)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.MaxInFlight)
	)
	count := func(f func(r *TickReport)) {
		mu.Lock()
		f(&report)
		mu.Unlock()
	}

	for _, owner := range owners {
		tasks, err := s.tasks.ListPendingByOwner(ctx, owner)
		if err != nil {
			log.Error("Failed to list pending tasks", zap.String("owner_id", owner), zap.Error(err))
			count(func(r *TickReport) { r.Errors++ })
			continue
		}

		for _, task := range tasks {
			count(func(r *TickReport) { r.Evaluated++ })

			due, err := task.Due()
			if err != nil {
				log.Warn("Skipping task with malformed deadline",
					zap.String("task_id", task.ID),
					zap.String("deadline", task.Deadline),
					zap.Error(err),
				)
				metrics.IncrementScannerOutcome("malformed")
				count(func(r *TickReport) { r.Malformed++ })
				continue
			}
			if !InWindow(due, now, s.cfg.Window) {
				count(func(r *TickReport) { r.OutOfWindow++ })
				continue
			}

			claimed, err := s.ledger.TryClaim(ctx, task.ID, due)
			if err != nil {
				log.Error("Ledger unavailable, skipping task this tick",
					zap.String("task_id", task.ID),
					zap.Error(err),
				)
				metrics.IncrementScannerOutcome("ledger_error")
				count(func(r *TickReport) { r.Errors++ })
				continue
			}
			if !claimed {
				metrics.IncrementScannerOutcome("duplicate")
				count(func(r *TickReport) { r.Duplicates++ })
				continue
			}

			sem <- struct{}{}
			wg.Add(1)
			s.addInFlight(1)
			go func(owner string, task *model.Task) {
				defer func() {
					s.addInFlight(-1)
					<-sem
					wg.Done()
				}()
				rep := s.dispatcher.Dispatch(ctx, owner, task)
				log.Info("Reminder dispatched",
					zap.String("task_id", task.ID),
					zap.String("owner_id", owner),
					zap.Int("delivered", rep.Delivered()),
					zap.Int("failed", rep.Failed()),
				)
				metrics.IncrementScannerOutcome("dispatched")
				count(func(r *TickReport) { r.Dispatched++ })
			}(owner, task)
		}
	}
	wg.Wait()

	if s.cfg.PurgeEvery > 0 && seq%uint64(s.cfg.PurgeEvery) == 0 {
		if n, err := s.ledger.Purge(ctx, now); err != nil {
			log.Warn("Ledger purge failed", zap.Error(err))
		} else if n > 0 {
			log.Info("Ledger purged", zap.Int("removed", n))
		}
	}

	if report.Dispatched > 0 || report.Errors > 0 {
		log.Info("Scanner tick finished",
			zap.Int("owners", report.Owners),
			zap.Int("dispatched", report.Dispatched),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("malformed", report.Malformed),
			zap.Int("errors", report.Errors),
		)
	}
	return report
}

// InWindow reports whether due lies in (now, now+window].
func InWindow(due, now time.Time, window time.Duration) bool {
	return due.After(now) && !due.After(now.Add(window))
}
