package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-supervisor/internal/models"
	"wisefido-supervisor/internal/reset"
	"wisefido-supervisor/internal/store"
	"wisefido-supervisor/internal/stream"
)

// fakeKV 仅用于单元测试（内存 KV，忽略 TTL）
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

// fakeDataService 可编程的 Data Service
type fakeDataService struct {
	mu          sync.Mutex
	snapshot    *models.Snapshot
	snapshotErr error
	snapshots   int
	history     map[string][]models.Vital
	ackErr      error
	ackIDs      []string // nil 表示全部确认
	acked       [][]string
	token       string
}

func (f *fakeDataService) Snapshot(ctx context.Context, day time.Time) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	if f.snapshot == nil {
		return &models.Snapshot{}, nil
	}
	cp := *f.snapshot
	return &cp, nil
}

func (f *fakeDataService) VitalsHistory(ctx context.Context, employeeID string, hours int) ([]models.Vital, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vitals, ok := f.history[employeeID]
	if !ok {
		return nil, errors.New("no history")
	}
	return vitals, nil
}

func (f *fakeDataService) AcknowledgeAlerts(ctx context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids)
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	if f.ackIDs != nil {
		return f.ackIDs, nil
	}
	return ids, nil
}

func (f *fakeDataService) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeDataService) set(fn func(f *fakeDataService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDataService) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// chanSource 由测试推送原始消息的事件流
type chanSource struct {
	msgs     chan []byte
	errs     chan error
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	token    string
	connects int
	down     bool // 为 true 时 Connect 失败，模拟服务端不可达
}

func newChanSource() *chanSource {
	return &chanSource{
		msgs: make(chan []byte, 64),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *chanSource) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return stream.ErrClosed
	default:
	}
	if c.down {
		return errors.New("connection refused")
	}
	c.connects++
	return nil
}

func (c *chanSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, stream.ErrClosed
	case err := <-c.errs:
		return nil, err
	case raw := <-c.msgs:
		return raw, nil
	}
}

// drop 断开当前连接；down 为 true 时之后的重连都失败
func (c *chanSource) drop(down bool) {
	c.setDown(down)
	c.errs <- errors.New("connection reset by peer")
}

func (c *chanSource) setDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

func (c *chanSource) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *chanSource) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *chanSource) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *chanSource) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *chanSource) send(event models.StreamEvent) {
	raw, err := stream.Encode(event)
	if err != nil {
		panic(err)
	}
	c.msgs <- raw
}

// fakeClock 手动推进的时钟，同时记录重置定时器
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) reset.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) lastTimer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}
