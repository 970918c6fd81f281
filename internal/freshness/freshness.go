// Package freshness 根据最新生命体征的时间戳推导员工状态。
// 所有函数都是纯函数，"now" 由调用方注入。
package freshness

import (
	"time"

	"wisefido-supervisor/internal/models"
)

const (
	// OnlineWindow 读数在此时间内视为 online，超过则为 away（当天内）
	OnlineWindow = 10 * time.Minute
	// RecentlySeenWindow 在线圆点使用的 "刚刚见过" 窗口
	RecentlySeenWindow = 5 * time.Minute
)

// SameDay t 与 now 是否在 now 所在时区的同一自然日
func SameDay(t, now time.Time) bool {
	y1, m1, d1 := t.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// StartOfDay now 所在自然日的 00:00
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// Classify 按时间戳新鲜度分类：
//  1. 无读数 -> offline
//  2. 不是今天 -> offline
//  3. 距今 < 10 分钟 -> online
//  4. 其余（今天但 >= 10 分钟）-> away
func Classify(last *time.Time, now time.Time) models.Status {
	if last == nil || last.IsZero() {
		return models.StatusOffline
	}
	if !SameDay(*last, now) {
		return models.StatusOffline
	}
	if now.Sub(*last) < OnlineWindow {
		return models.StatusOnline
	}
	return models.StatusAway
}

// RecentlySeen 在线圆点：今天且距今 < 5 分钟
func RecentlySeen(last *time.Time, now time.Time) bool {
	if last == nil || last.IsZero() || !SameDay(*last, now) {
		return false
	}
	return now.Sub(*last) < RecentlySeenWindow
}

// ClassifyVital 先按新鲜度分类，online 时再按生命体征阈值升级为 warning/critical
func ClassifyVital(v *models.Vital, now time.Time) models.Status {
	return DefaultThresholds.Classify(v, now)
}
