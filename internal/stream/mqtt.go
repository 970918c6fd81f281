package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-supervisor/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttBufferSize     = 256
)

// Topics 按订阅范围生成 MQTT 主题
// 广播：{prefix}/vitals/+、{prefix}/alerts/+；员工：{prefix}/vitals/{id}、{prefix}/alerts/{id}
func Topics(prefix string, scope Scope) []string {
	who := "+"
	if !scope.Broadcast {
		who = scope.UserID
	}
	return []string{
		fmt.Sprintf("%s/vitals/%s", prefix, who),
		fmt.Sprintf("%s/alerts/%s", prefix, who),
	}
}

// MQTTSource MQTT 事件流
// 关闭 paho 自动重连，断线交给 Run 的退避循环处理
type MQTTSource struct {
	cfg    config.MQTTConfig
	topics []string
	logger *zap.Logger

	newClient func(opts *mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
	msgs   chan []byte
	lost   chan error
	done   chan struct{}
	closed bool
}

// NewMQTTSource 创建 MQTT 事件流
func NewMQTTSource(cfg config.MQTTConfig, prefix string, scope Scope, logger *zap.Logger) *MQTTSource {
	if cfg.ClientID == "" {
		cfg.ClientID = "wisefido-supervisor-" + uuid.NewString()
	}
	return &MQTTSource{
		cfg:       cfg,
		topics:    Topics(prefix, scope),
		logger:    logger,
		newClient: mqtt.NewClient,
		done:      make(chan struct{}),
	}
}

func (s *MQTTSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	msgs := make(chan []byte, mqttBufferSize)
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := s.newClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	handler := s.messageHandler(msgs)
	for _, topic := range s.topics {
		if err := waitToken(ctx, client.Subscribe(topic, s.cfg.QoS, handler)); err != nil {
			client.Disconnect(250)
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		client.Disconnect(250)
		return ErrClosed
	}
	s.client = client
	s.msgs = msgs
	s.lost = lost

	s.logger.Debug("MQTT subscribed",
		zap.String("broker", s.cfg.Broker),
		zap.Strings("topics", s.topics),
	)
	return nil
}

// messageHandler 将消息放入缓冲区；Source 关闭后丢弃
func (s *MQTTSource) messageHandler(msgs chan<- []byte) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		select {
		case msgs <- payload:
		case <-s.done:
		}
	}
}

func (s *MQTTSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	msgs, lost := s.msgs, s.lost
	s.mu.Unlock()
	if msgs == nil {
		return nil, ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	case payload := <-msgs:
		return payload, nil
	case err := <-lost:
		s.mu.Lock()
		s.msgs, s.lost = nil, nil
		client := s.client
		s.client = nil
		s.mu.Unlock()
		if client != nil {
			client.Disconnect(0)
		}
		return nil, fmt.Errorf("mqtt connection lost: %w", err)
	}
}

// Close 断开连接；可重复调用
func (s *MQTTSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
