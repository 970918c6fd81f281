package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-supervisor/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Source 一种事件流传输
// Next 阻塞直到收到一条原始消息；连接断开时返回错误，由 Run 负责重连
type Source interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Handler 处理解码后的事件（按到达顺序调用）
type Handler func(event models.StreamEvent)

// RunOptions 重连循环选项
type RunOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnConnect      func()
	OnDisconnect   func(err error)
	Now            func() time.Time
	Logger         *zap.Logger
}

func (o *RunOptions) defaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Run 连接并持续读取事件，断开后指数退避重连，直到 ctx 取消
// 无法解析的消息记录日志后跳过
func Run(ctx context.Context, src Source, handle Handler, opts RunOptions) error {
	opts.defaults()
	logger := opts.Logger

	backoffDuration := opts.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := src.Connect(ctx)
		if err == nil {
			// 连接成功时重置退避时间
			backoffDuration = opts.InitialBackoff
			logger.Info("Event stream connected")
			if opts.OnConnect != nil {
				opts.OnConnect()
			}
			err = consume(ctx, src, handle, opts)
		}

		if ctx.Err() != nil {
			return nil
		}

		err = fmt.Errorf("%w: %w", models.ErrStreamDisconnected, err)
		logger.Warn("Event stream disconnected",
			zap.Error(err),
			zap.Duration("backoff", backoffDuration),
		)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(err)
		}

		// 指数退避
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > opts.MaxBackoff {
				backoffDuration = opts.MaxBackoff
			}
		}
	}
}

func consume(ctx context.Context, src Source, handle Handler, opts RunOptions) error {
	for {
		raw, err := src.Next(ctx)
		if err != nil {
			return err
		}
		event, err := Decode(raw, opts.Now())
		if err != nil {
			level := zap.WarnLevel
			if errors.Is(err, ErrUnknownEvent) {
				level = zap.DebugLevel
			}
			opts.Logger.Check(level, "Dropping undecodable stream message").Write(
				zap.Int("size", len(raw)),
				zap.Error(err),
			)
			continue
		}
		handle(event)
	}
}
