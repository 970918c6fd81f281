package models

import "time"

// 事件流消息类型
const (
	EventVitalUpdate   = "vital_update"
	EventNewAlert      = "new_alert"
	EventCriticalAlert = "critical_alert"
)

// StreamEvent 解码后的事件流消息
// Type 为 vital_update 时 Vital 非空，为 new_alert/critical_alert 时 Alert 非空
type StreamEvent struct {
	Type       string
	Vital      *VitalUpdate
	Alert      *Alert
	ReceivedAt time.Time
}

// UserID 事件所属员工
func (e StreamEvent) UserID() string {
	switch {
	case e.Vital != nil:
		return e.Vital.UserID
	case e.Alert != nil:
		return e.Alert.EmployeeID
	}
	return ""
}
