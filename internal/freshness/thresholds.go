package freshness

import (
	"time"

	"wisefido-supervisor/internal/models"
)

// HealthThresholds 生命体征健康阈值
// 只有新鲜（online）的读数才会被升级，过期读数不触发 warning/critical
type HealthThresholds struct {
	// critical
	CriticalSpO2Below    int
	CriticalHeartBelow   int
	CriticalHeartAbove   int
	CriticalTempAtOrOver float64

	// warning
	WarningSpO2Below    int
	WarningHeartBelow   int
	WarningHeartAbove   int
	WarningTempAtOrOver float64
}

// DefaultThresholds 默认阈值
var DefaultThresholds = HealthThresholds{
	CriticalSpO2Below:    90,
	CriticalHeartBelow:   40,
	CriticalHeartAbove:   140,
	CriticalTempAtOrOver: 39.5,

	WarningSpO2Below:    95,
	WarningHeartBelow:   50,
	WarningHeartAbove:   120,
	WarningTempAtOrOver: 38.0,
}

// Classify 见 ClassifyVital
func (h HealthThresholds) Classify(v *models.Vital, now time.Time) models.Status {
	if v == nil {
		return models.StatusOffline
	}
	ts := v.Timestamp
	status := Classify(&ts, now)
	if status != models.StatusOnline {
		return status
	}
	return h.Health(v)
}

// Health 仅按读数数值判断：online / warning / critical
func (h HealthThresholds) Health(v *models.Vital) models.Status {
	if v.Fallen() {
		return models.StatusCritical
	}
	if v.SpO2 != nil && *v.SpO2 < h.CriticalSpO2Below {
		return models.StatusCritical
	}
	if v.HeartRate != nil && (*v.HeartRate < h.CriticalHeartBelow || *v.HeartRate > h.CriticalHeartAbove) {
		return models.StatusCritical
	}
	if v.Temperature != nil && *v.Temperature >= h.CriticalTempAtOrOver {
		return models.StatusCritical
	}

	if v.SpO2 != nil && *v.SpO2 < h.WarningSpO2Below {
		return models.StatusWarning
	}
	if v.HeartRate != nil && (*v.HeartRate < h.WarningHeartBelow || *v.HeartRate > h.WarningHeartAbove) {
		return models.StatusWarning
	}
	if v.Temperature != nil && *v.Temperature >= h.WarningTempAtOrOver {
		return models.StatusWarning
	}
	return models.StatusOnline
}
