package models

import "time"

// Severity 报警级别
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Alert 安全/健康报警
// ID 在合并后的集合中唯一（无论来自快照还是事件流）
type Alert struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"user_id"`
	Severity       Severity   `json:"severity"`
	Type           string     `json:"type"` // fall, heart_rate, spo2, temperature, sos ...
	Message        string     `json:"message"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// IsUnacknowledgedCritical 未确认的 critical 报警
func (a Alert) IsUnacknowledgedCritical() bool {
	return a.Severity == SeverityCritical && !a.Acknowledged
}
