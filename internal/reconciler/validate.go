package reconciler

import (
	"errors"
	"fmt"
	"time"

	"wisefido-supervisor/internal/freshness"
	"wisefido-supervisor/internal/models"
)

// MaxClockSkew 允许设备时钟领先本机的最大偏差
const MaxClockSkew = 2 * time.Minute

// 可信读数范围，超出视为传感器异常
const (
	minHeartRate   = 20
	maxHeartRate   = 250
	minSpO2        = 50
	maxSpO2        = 100
	minTemperature = 30.0
	maxTemperature = 45.0
)

// ValidateVital 校验读数：时间戳有效、属于今天、数值在可信范围内
func ValidateVital(v models.Vital, now time.Time) error {
	if v.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing vital timestamp", models.ErrInvalidTimestamp)
	}
	if v.Timestamp.After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: vital timestamp %s is in the future", models.ErrInvalidTimestamp, v.Timestamp.Format(time.RFC3339))
	}
	if !freshness.SameDay(v.Timestamp, now) {
		return fmt.Errorf("%w: vital from %s", models.ErrStaleVital, v.Timestamp.Format("2006-01-02"))
	}

	if v.HeartRate != nil && (*v.HeartRate < minHeartRate || *v.HeartRate > maxHeartRate) {
		return fmt.Errorf("%w: heart_rate=%d", models.ErrOutOfRange, *v.HeartRate)
	}
	if v.SpO2 != nil && (*v.SpO2 < minSpO2 || *v.SpO2 > maxSpO2) {
		return fmt.Errorf("%w: spo2=%d", models.ErrOutOfRange, *v.SpO2)
	}
	if v.Temperature != nil && (*v.Temperature < minTemperature || *v.Temperature > maxTemperature) {
		return fmt.Errorf("%w: temperature=%.1f", models.ErrOutOfRange, *v.Temperature)
	}
	if v.Latitude != nil && (*v.Latitude < -90 || *v.Latitude > 90) {
		return fmt.Errorf("%w: latitude=%f", models.ErrOutOfRange, *v.Latitude)
	}
	if v.Longitude != nil && (*v.Longitude < -180 || *v.Longitude > 180) {
		return fmt.Errorf("%w: longitude=%f", models.ErrOutOfRange, *v.Longitude)
	}
	return nil
}

// RejectReason 将校验错误归类为指标标签
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrUnknownEmployee):
		return "unknown_employee"
	case errors.Is(err, models.ErrStaleVital):
		return "stale"
	case errors.Is(err, models.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, models.ErrOutOfRange):
		return "out_of_range"
	default:
		return "other"
	}
}
