// Package stream 事件流订阅：WebSocket、MQTT、Redis Streams 三种传输，统一的 JSON 信封与重连循环
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-supervisor/internal/models"
)

// ErrUnknownEvent 未知的事件类型
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope 事件流消息信封 {type, data}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// alertPayload new_alert / critical_alert 的 data：{alert: {...}}
type alertPayload struct {
	Alert *models.Alert `json:"alert"`
}

// Scope 订阅范围：主管广播，员工只看自己
type Scope struct {
	Broadcast bool
	UserID    string
}

// Allows 事件是否属于该订阅范围
func (s Scope) Allows(userID string) bool {
	return s.Broadcast || userID == s.UserID
}

// Decode 解析一条事件流消息
func Decode(raw []byte, receivedAt time.Time) (models.StreamEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.StreamEvent{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	event := models.StreamEvent{Type: env.Type, ReceivedAt: receivedAt}
	switch env.Type {
	case models.EventVitalUpdate:
		var update models.VitalUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			return models.StreamEvent{}, fmt.Errorf("failed to unmarshal vital_update: %w", err)
		}
		if update.UserID == "" {
			return models.StreamEvent{}, fmt.Errorf("vital_update without userId")
		}
		event.Vital = &update

	case models.EventNewAlert, models.EventCriticalAlert:
		var payload alertPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return models.StreamEvent{}, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
		if payload.Alert == nil {
			// 兼容 data 直接是报警对象
			var alert models.Alert
			if err := json.Unmarshal(env.Data, &alert); err != nil || alert.ID == "" {
				return models.StreamEvent{}, fmt.Errorf("%s without alert", env.Type)
			}
			payload.Alert = &alert
		}
		event.Alert = payload.Alert

	default:
		return models.StreamEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return event, nil
}

// Encode 编码事件（发布端与测试使用）
func Encode(event models.StreamEvent) ([]byte, error) {
	var data any
	switch event.Type {
	case models.EventVitalUpdate:
		data = event.Vital
	case models.EventNewAlert, models.EventCriticalAlert:
		data = alertPayload{Alert: event.Alert}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event.Type, Data: raw})
}
