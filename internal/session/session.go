// Package session 主管看板会话：持有花名册与报警列表，
// 把快照刷新、事件流、状态重算、每日重置、报警确认串行化到同一个事件循环上。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-supervisor/internal/alerts"
	"wisefido-supervisor/internal/config"
	"wisefido-supervisor/internal/freshness"
	"wisefido-supervisor/internal/metrics"
	"wisefido-supervisor/internal/models"
	"wisefido-supervisor/internal/reconciler"
	"wisefido-supervisor/internal/reset"
	"wisefido-supervisor/internal/roster"
	"wisefido-supervisor/internal/store"
	"wisefido-supervisor/internal/stream"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotRunning 会话未启动或已停止
var ErrNotRunning = errors.New("session not running")

const (
	opsBufferSize     = 256
	defaultChangesBuf = 64
)

// DataService 会话使用的 Data Service 能力
type DataService interface {
	Snapshot(ctx context.Context, day time.Time) (*models.Snapshot, error)
	VitalsHistory(ctx context.Context, employeeID string, hours int) ([]models.Vital, error)
	AcknowledgeAlerts(ctx context.Context, ids []string) ([]string, error)
	SetToken(token string)
}

// tokenSetter 需要 Bearer token 的事件流（WebSocket）
type tokenSetter interface {
	SetToken(token string)
}

// Deps 会话依赖
type Deps struct {
	DataService DataService
	Source      stream.Source // 为空则不订阅事件流
	KV          store.KV
	Metrics     *metrics.Recorder // 可为空
	Logger      *zap.Logger
}

// Options 会话选项
type Options struct {
	Role   string // config.RoleSupervisor 或 config.RoleEmployee
	UserID string

	RefreshInterval   time.Duration
	RecomputeInterval time.Duration
	PageSize          int
	HistorySize       int
	HistoryHours      int
	AlertCapacity     int
	ChangesBuffer     int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// 测试注入
	Now       func() time.Time
	TimerFunc reset.TimerFunc
}

func (o *Options) defaults() {
	if o.Role == "" {
		o.Role = config.RoleSupervisor
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 60 * time.Second
	}
	if o.RecomputeInterval <= 0 {
		o.RecomputeInterval = 30 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = roster.DefaultPageSize
	}
	if o.HistoryHours <= 0 {
		o.HistoryHours = 24
	}
	if o.ChangesBuffer <= 0 {
		o.ChangesBuffer = defaultChangesBuf
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// OptionsFromConfig 从配置生成会话选项
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Role:              cfg.Session.Role,
		UserID:            cfg.Session.UserID,
		RefreshInterval:   cfg.RefreshEvery(),
		RecomputeInterval: cfg.RecomputeEvery(),
		PageSize:          cfg.Session.PageSize,
		HistorySize:       cfg.Session.HistorySize,
		HistoryHours:      cfg.Session.HistoryHours,
		AlertCapacity:     cfg.Session.AlertCapacity,
		MaxBackoff:        time.Duration(cfg.Stream.MaxBackoff) * time.Second,
	}
}

// Session 一个看板会话
type Session struct {
	id      string
	opts    Options
	scope   stream.Scope
	data    DataService
	source  stream.Source
	kv      store.KV
	metrics *metrics.Recorder
	logger  *zap.Logger
	now     func() time.Time

	// 以下字段只在事件循环内访问
	roster      *reconciler.Roster
	alerts      *alerts.Aggregator
	attendance  []models.AttendanceRecord
	lastErr     error
	lastRefresh time.Time
	lastReset   time.Time
	connected   bool

	ops     chan func()
	changes chan reconciler.StatusChange

	lifecycle sync.Mutex
	state     int32 // 0 new, 1 running, 2 stopped
	active    atomic.Bool
	scheduler *reset.Scheduler
	cancel    context.CancelFunc
	loopDone  chan struct{}
	wg        sync.WaitGroup
}

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// New 创建会话
func New(deps Deps, opts Options) (*Session, error) {
	opts.defaults()

	if deps.DataService == nil {
		return nil, fmt.Errorf("data service is required")
	}
	if deps.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var scope stream.Scope
	switch opts.Role {
	case config.RoleSupervisor:
		scope = stream.Scope{Broadcast: true}
	case config.RoleEmployee:
		if opts.UserID == "" {
			return nil, fmt.Errorf("user id is required for employee sessions")
		}
		scope = stream.Scope{UserID: opts.UserID}
	default:
		return nil, fmt.Errorf("unsupported session role: %s", opts.Role)
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id))

	s := &Session{
		id:       id,
		opts:     opts,
		scope:    scope,
		data:     deps.DataService,
		source:   deps.Source,
		kv:       deps.KV,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      opts.Now,
		roster:   reconciler.NewRoster(opts.HistorySize, logger),
		alerts:   alerts.NewAggregator(opts.AlertCapacity, logger),
		ops:      make(chan func(), opsBufferSize),
		changes:  make(chan reconciler.StatusChange, opts.ChangesBuffer),
		loopDone: make(chan struct{}),
	}
	s.roster.OnStatusChange(s.onStatusChange)
	return s, nil
}

// ID 会话 id
func (s *Session) ID() string {
	return s.id
}

// Start 启动会话：
//  1. 启动事件循环
//  2. 恢复登录 token
//  3. 检查每日重置标记（先于首次快照，避免清空刚加载的数据）
//  4. 加载首个快照（失败不致命，记录 LastError）
//  5. 订阅事件流、启动定时刷新
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.state != stateNew {
		return fmt.Errorf("session already started")
	}
	s.state = stateRunning

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.active.Store(true)
	go s.loop(loopCtx)

	s.logger.Info("Starting supervisor session",
		zap.String("role", s.opts.Role),
		zap.String("user_id", s.opts.UserID),
		zap.Bool("stream_enabled", s.source != nil),
	)

	// 2. 恢复 token
	s.restoreToken(ctx)

	// 3. 每日重置
	schedOpts := []reset.Option{reset.WithClock(s.now)}
	if s.opts.TimerFunc != nil {
		schedOpts = append(schedOpts, reset.WithTimerFunc(s.opts.TimerFunc))
	}
	s.scheduler = reset.NewScheduler(s.kv, s.onReset, s.logger, schedOpts...)
	fired, err := s.scheduler.Start(ctx)
	if err != nil {
		s.logger.Warn("Daily reset scheduler started with errors", zap.Error(err))
	}
	// 报警只显示当天的
	startOfDay := freshness.StartOfDay(s.now())
	s.call(func() { s.alerts.SetFloor(startOfDay) })

	// 4. 首个快照
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Initial snapshot failed, will retry on next refresh", zap.Error(err))
	}

	// 5. 事件流与定时刷新
	if s.source != nil {
		s.wg.Add(1)
		go s.runStream(loopCtx)
	}
	s.wg.Add(1)
	go s.refreshLoop(loopCtx)

	s.logger.Info("Supervisor session started", zap.Bool("reset_on_start", fired))
	return nil
}

// Stop 停止会话：取消定时器、关闭事件流、等待事件循环退出
// 之后投递的操作都会被丢弃；可重复调用
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.state {
	case stateStopped:
		return
	case stateNew:
		s.state = stateStopped
		close(s.changes)
		return
	}
	s.state = stateStopped

	s.active.Store(false)
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.cancel()
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.logger.Warn("Failed to close event stream", zap.Error(err))
		}
	}
	s.wg.Wait()
	<-s.loopDone
	close(s.changes)

	s.logger.Info("Supervisor session stopped")
}

// loop 唯一修改花名册/报警状态的 goroutine
func (s *Session) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.opts.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			// 会话已停止时丢弃
			if s.active.Load() {
				op()
			}
		case <-ticker.C:
			if s.active.Load() {
				s.recompute()
			}
		}
	}
}

// post 投递操作到事件循环；会话未运行时返回 false
func (s *Session) post(op func()) bool {
	if !s.active.Load() {
		return false
	}
	select {
	case s.ops <- op:
		return true
	case <-s.loopDone:
		return false
	}
}

// call 在事件循环中执行 op 并等待完成
func (s *Session) call(op func()) bool {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		op()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.loopDone:
		return false
	}
}

func (s *Session) restoreToken(ctx context.Context) {
	token, err := s.kv.Get(ctx, store.TokenKey)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Failed to read auth token", zap.Error(err))
		}
		return
	}
	s.applyToken(token)
}

func (s *Session) applyToken(token string) {
	s.data.SetToken(token)
	if ts, ok := s.source.(tokenSetter); ok {
		ts.SetToken(token)
	}
}

func (s *Session) runStream(ctx context.Context) {
	defer s.wg.Done()

	err := stream.Run(ctx, s.source, s.onEvent, stream.RunOptions{
		InitialBackoff: s.opts.InitialBackoff,
		MaxBackoff:     s.opts.MaxBackoff,
		Now:            s.now,
		Logger:         s.logger,
		OnConnect: func() {
			s.post(func() { s.connected = true })
		},
		OnDisconnect: func(err error) {
			s.metrics.StreamDisconnected()
			// 断线保留最后状态，只更新连接标志
			s.post(func() { s.connected = false })
		},
	})
	if err != nil {
		s.logger.Error("Event stream stopped", zap.Error(err))
	}
}

func (s *Session) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Snapshot refresh failed, keeping previous state", zap.Error(err))
			}
		}
	}
}
