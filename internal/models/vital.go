package models

import "time"

// Vital 一次生命体征读数（不可变）
// 除 Timestamp 外的字段均可缺省：流式推送允许部分更新，缺省字段沿用上一条读数
type Vital struct {
	Timestamp    time.Time `json:"timestamp"`
	HeartRate    *int      `json:"heart_rate,omitempty"`  // bpm
	SpO2         *int      `json:"spo2,omitempty"`        // %
	Temperature  *float64  `json:"temperature,omitempty"` // °C
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Accuracy     *float64  `json:"accuracy,omitempty"` // 米
	FallDetected *bool     `json:"fall_detected,omitempty"`
}

// MergeOver 以 v 为更新，叠加在 prev 之上，返回新的 Vital（不修改任一输入）
func (v Vital) MergeOver(prev *Vital) Vital {
	merged := v
	if prev == nil {
		return merged
	}
	if merged.HeartRate == nil {
		merged.HeartRate = prev.HeartRate
	}
	if merged.SpO2 == nil {
		merged.SpO2 = prev.SpO2
	}
	if merged.Temperature == nil {
		merged.Temperature = prev.Temperature
	}
	if merged.Latitude == nil && merged.Longitude == nil {
		merged.Latitude = prev.Latitude
		merged.Longitude = prev.Longitude
		if merged.Accuracy == nil {
			merged.Accuracy = prev.Accuracy
		}
	}
	if merged.FallDetected == nil {
		merged.FallDetected = prev.FallDetected
	}
	return merged
}

// HasLocation 是否带有定位
func (v *Vital) HasLocation() bool {
	return v != nil && v.Latitude != nil && v.Longitude != nil
}

// Fallen 是否检测到跌倒
func (v *Vital) Fallen() bool {
	return v != nil && v.FallDetected != nil && *v.FallDetected
}

// VitalUpdate 流式推送的生命体征更新（vital_update）
type VitalUpdate struct {
	UserID string `json:"userId"`
	Vital  Vital  `json:"vital"`
}

// LatestVital Data Service /vitals/latest 返回的单条记录
type LatestVital struct {
	UserID string `json:"user_id"`
	Vital
}
