package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed Source 已关闭
var ErrClosed = errors.New("stream source closed")

// subscribeFrame 连接后发送的订阅帧
type subscribeFrame struct {
	Type string        `json:"type"`
	Data subscribeData `json:"data"`
}

type subscribeData struct {
	Broadcast bool   `json:"broadcast"`
	UserID    string `json:"user_id,omitempty"`
}

// WSSource WebSocket 事件流（Bearer token 放在 Authorization 头）
type WSSource struct {
	url    string
	scope  Scope
	dialer *websocket.Dialer
	logger *zap.Logger

	mu     sync.Mutex
	token  string
	conn   *websocket.Conn
	closed bool
}

// NewWSSource 创建 WebSocket 事件流
func NewWSSource(url string, scope Scope, logger *zap.Logger) *WSSource {
	return &WSSource{
		url:   url,
		scope: scope,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}
}

// SetToken 设置下次连接使用的 token
func (s *WSSource) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *WSSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.Unlock()

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial %s (status %d): %w", s.url, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial %s: %w", s.url, err)
	}

	frame := subscribeFrame{Type: "subscribe", Data: subscribeData{Broadcast: s.scope.Broadcast}}
	if !s.scope.Broadcast {
		frame.Data.UserID = s.scope.UserID
	}
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return ErrClosed
	}
	s.conn = conn

	s.logger.Debug("WebSocket subscribed",
		zap.String("url", s.url),
		zap.Bool("broadcast", s.scope.Broadcast),
		zap.String("user_id", frame.Data.UserID),
	)
	return nil
}

func (s *WSSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}

	// ReadMessage 不感知 ctx，ctx 取消时关闭连接使其返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.dropConn(conn)
			return nil, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (s *WSSource) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
	conn.Close()
}

// Close 关闭连接，之后 Connect 返回 ErrClosed；可重复调用
func (s *WSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.conn.Close()
	s.conn = nil
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("WebSocket close frame not sent", zap.Error(err))
	}
	return nil
}
