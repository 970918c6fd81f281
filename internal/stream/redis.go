package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRedisBlock   = 5 * time.Second
	groupDestroyTimeout = 2 * time.Second
	redisConsumerName   = "dashboard"
)

// RedisSource Redis Streams 事件流（XREADGROUP）
// 每个 Source 使用独占的消费者组 {groupPrefix}-{uuid}，保证每个看板都收到全部消息；
// 组在首次 Connect 时从 "$" 创建，重连时沿用（断线期间的消息不丢），Close 时销毁
// 每条消息的 "data" 字段为事件信封 JSON
type RedisSource struct {
	client    *redis.Client
	stream    string
	group     string
	batchSize int64
	block     time.Duration
	logger    *zap.Logger

	pending []redis.XMessage

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRedisSource 创建 Redis Streams 事件流
func NewRedisSource(client *redis.Client, stream, groupPrefix string, batchSize int64, logger *zap.Logger) *RedisSource {
	if batchSize <= 0 {
		batchSize = 10
	}
	if groupPrefix == "" {
		groupPrefix = "supervisor"
	}
	return &RedisSource{
		client:    client,
		stream:    stream,
		group:     groupPrefix + "-" + uuid.NewString(),
		batchSize: batchSize,
		block:     defaultRedisBlock,
		logger:    logger,
	}
}

// Group 该 Source 的消费者组名称
func (s *RedisSource) Group() string {
	return s.group
}

// Connect 创建消费者组（已存在则忽略）
func (s *RedisSource) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	s.pending = nil

	s.logger.Debug("Redis stream consumer ready",
		zap.String("stream", s.stream),
		zap.String("consumer_group", s.group),
	)
	return nil
}

func (s *RedisSource) Next(ctx context.Context) ([]byte, error) {
	for {
		for len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]

			// 投递即确认：会话只关心最新状态，不重放
			if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil {
				s.logger.Warn("Failed to ack message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}

			data, ok := msg.Values["data"].(string)
			if !ok {
				s.logger.Debug("Stream message without data field", zap.String("message_id", msg.ID))
				continue
			}
			return []byte(data), nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed.Load() {
			return nil, ErrClosed
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: redisConsumerName,
			Streams:  []string{s.stream, ">"},
			Count:    s.batchSize,
			Block:    s.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}
		for _, st := range streams {
			s.pending = append(s.pending, st.Messages...)
		}
	}
}

// Close 销毁消费者组；Redis 客户端由调用方管理，读取循环随 ctx 取消退出；可重复调用
func (s *RedisSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), groupDestroyTimeout)
		defer cancel()
		if destroyErr := s.client.XGroupDestroy(ctx, s.stream, s.group).Err(); destroyErr != nil {
			err = fmt.Errorf("failed to destroy consumer group %s: %w", s.group, destroyErr)
		}
	})
	return err
}
