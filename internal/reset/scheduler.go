// Package reset 每个自然日清空一次派生状态（生命体征、状态、报警）。
// 两条路径保证：启动时检查持久化的重置标记；运行中在本地午夜触发，之后每 24 小时一次。
package reset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-supervisor/internal/freshness"
	"wisefido-supervisor/internal/store"

	"go.uber.org/zap"
)

// Interval 午夜之后的重复周期
const Interval = 24 * time.Hour

const markerWriteTimeout = 5 * time.Second

// State 调度器状态
type State int

const (
	StateIdle State = iota
	StateArmed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timer 可取消的定时器（*time.Timer 满足该接口）
type Timer interface {
	Stop() bool
}

// TimerFunc 定时器工厂，签名同 time.AfterFunc
type TimerFunc func(d time.Duration, f func()) Timer

// Option 调度器选项
type Option func(*Scheduler)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimerFunc 注入定时器工厂（测试用）
func WithTimerFunc(fn TimerFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.afterFunc = fn
		}
	}
}

// Scheduler 每日重置调度器
// Idle -> Start -> Armed -> Stop -> Stopped
type Scheduler struct {
	kv        store.KV
	onReset   func(at time.Time) bool
	logger    *zap.Logger
	now       func() time.Time
	afterFunc TimerFunc

	mu        sync.Mutex
	state     State
	timer     Timer
	lastReset time.Time
}

// NewScheduler 创建调度器；onReset 执行实际的清空动作，必须是幂等的
// onReset 返回 false 表示重置未执行（如会话已停止），此时不写入标记
func NewScheduler(kv store.KV, onReset func(at time.Time) bool, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		kv:      kv,
		onReset: onReset,
		logger:  logger,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextMidnight now 之后的下一个本地午夜
func NextMidnight(now time.Time) time.Time {
	return freshness.StartOfDay(now).AddDate(0, 0, 1)
}

// Start 检查重置标记：不存在或不是今天则立即重置并写入标记；随后设置到下一个午夜的定时器
// 返回本次是否触发了重置
func (s *Scheduler) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return false, fmt.Errorf("reset scheduler already %s", state)
	}
	s.mu.Unlock()

	now := s.now()

	// 1. 读取标记
	marker, ok := s.readMarker(ctx)

	// 2. 标记缺失或日期不同 -> 立即重置
	fired := false
	var writeErr error
	if !ok || !freshness.SameDay(marker, now) {
		s.logger.Info("Reset marker is absent or stale, resetting",
			zap.Bool("marker_present", ok),
			zap.Time("marker", marker),
		)
		fired, writeErr = s.fire(ctx, now)
	}

	// 3. 设置到下一个午夜的定时器
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		// Start 期间被 Stop
		return fired, writeErr
	}
	s.state = StateArmed
	s.armLocked(NextMidnight(now).Sub(now))

	return fired, writeErr
}

// Stop 同步取消定时器，之后不会再触发重置
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateStopped
}

// State 当前状态
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastReset 最近一次重置时间（本进程内）
func (s *Scheduler) LastReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReset
}

func (s *Scheduler) readMarker(ctx context.Context) (time.Time, bool) {
	raw, err := s.kv.Get(ctx, store.ResetMarkerKey)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Failed to read reset marker, treating as absent", zap.Error(err))
		}
		return time.Time{}, false
	}
	marker, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.logger.Warn("Invalid reset marker, treating as absent",
			zap.String("marker", raw),
			zap.Error(err),
		)
		return time.Time{}, false
	}
	return marker, true
}

// fire 执行重置并写入标记，返回重置是否执行
func (s *Scheduler) fire(ctx context.Context, at time.Time) (bool, error) {
	if !s.onReset(at) {
		s.logger.Warn("Daily reset was not applied, keeping previous marker", zap.Time("at", at))
		return false, nil
	}

	s.mu.Lock()
	s.lastReset = at
	s.mu.Unlock()

	if err := s.kv.Set(ctx, store.ResetMarkerKey, at.Format(time.RFC3339), 0); err != nil {
		s.logger.Warn("Failed to write reset marker", zap.Error(err))
		return true, fmt.Errorf("failed to write reset marker: %w", err)
	}
	return true, nil
}

func (s *Scheduler) armLocked(d time.Duration) {
	s.timer = s.afterFunc(d, s.onTimer)
	s.logger.Info("Daily reset armed",
		zap.Time("next_run", s.now().Add(d)),
		zap.Duration("wait_duration", d),
	)
}

// onTimer 午夜定时器回调：重置、写标记、再设置 24 小时后的定时器
func (s *Scheduler) onTimer() {
	s.mu.Lock()
	if s.state != StateArmed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	now := s.now()
	s.logger.Info("Running scheduled daily reset", zap.Time("at", now))

	ctx, cancel := context.WithTimeout(context.Background(), markerWriteTimeout)
	_, _ = s.fire(ctx, now)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateArmed {
		return
	}
	s.armLocked(Interval)
}
