package alerts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wisefido-supervisor/internal/models"

	"go.uber.org/zap"
)

// DefaultCapacity 报警列表默认上限，超出后丢弃最旧的
const DefaultCapacity = 500

// MaxClockSkew 允许报警时间戳领先本机的最大偏差
const MaxClockSkew = 2 * time.Minute

// Confirmer 由 Data Service 确认报警（返回服务端确认的 id）
type Confirmer interface {
	AcknowledgeAlerts(ctx context.Context, ids []string) ([]string, error)
}

// Aggregator 合并快照与事件流的报警
// 集合始终按最新在前排列，且 id 唯一
// 非并发安全：由会话的单一事件循环串行访问
type Aggregator struct {
	items    []models.Alert
	index    map[string]struct{}
	capacity int
	floor    time.Time // 早于该时间的报警不再进入集合（每日重置后为当天零点）
	logger   *zap.Logger
}

// NewAggregator 创建报警聚合器，capacity <= 0 时使用默认值
func NewAggregator(capacity int, logger *zap.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Aggregator{
		index:    make(map[string]struct{}),
		capacity: capacity,
		logger:   logger,
	}
}

// SetFloor 设置报警下限时间
func (a *Aggregator) SetFloor(t time.Time) {
	a.floor = t
}

// Replace 用快照整体替换集合（快照在加载时刻是事实来源）
// 快照内重复 id 只保留第一条
func (a *Aggregator) Replace(snapshot []models.Alert) {
	items := make([]models.Alert, 0, len(snapshot))
	index := make(map[string]struct{}, len(snapshot))

	for _, alert := range snapshot {
		if alert.ID == "" {
			continue
		}
		if !a.floor.IsZero() && alert.Timestamp.Before(a.floor) {
			continue
		}
		if _, dup := index[alert.ID]; dup {
			a.logger.Debug("Duplicate alert id in snapshot", zap.String("alert_id", alert.ID))
			continue
		}
		index[alert.ID] = struct{}{}
		items = append(items, alert)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})

	a.items = items
	a.index = index
	a.trim()
}

// Upsert 将事件流报警插入头部；id 已存在时不做任何修改
// 返回是否插入
func (a *Aggregator) Upsert(alert models.Alert, now time.Time) (bool, error) {
	if alert.ID == "" {
		return false, fmt.Errorf("%w: missing id", models.ErrInvalidAlert)
	}
	if alert.Timestamp.IsZero() {
		return false, fmt.Errorf("%w: alert %s has no timestamp", models.ErrInvalidTimestamp, alert.ID)
	}
	if alert.Timestamp.After(now.Add(MaxClockSkew)) {
		return false, fmt.Errorf("%w: alert %s timestamp is in the future", models.ErrInvalidTimestamp, alert.ID)
	}
	if !a.floor.IsZero() && alert.Timestamp.Before(a.floor) {
		return false, nil
	}
	if _, exists := a.index[alert.ID]; exists {
		return false, nil
	}

	a.items = append([]models.Alert{alert}, a.items...)
	a.index[alert.ID] = struct{}{}
	a.trim()
	return true, nil
}

// MarkAcknowledged 标记已被服务端确认的报警，返回实际更新的数量
// 只能在 Data Service 确认成功之后调用
func (a *Aggregator) MarkAcknowledged(ids []string, by string, at time.Time) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	updated := 0
	for i := range a.items {
		if _, ok := want[a.items[i].ID]; !ok || a.items[i].Acknowledged {
			continue
		}
		ackBy := by
		ackAt := at
		a.items[i].Acknowledged = true
		a.items[i].AcknowledgedBy = &ackBy
		a.items[i].AcknowledgedAt = &ackAt
		updated++
	}
	return updated
}

// Acknowledge 先由 Data Service 确认，成功后才更新本地状态
// 只适用于调用方已经串行化访问的场景；会话在事件循环外做网络调用，再调用 MarkAcknowledged
func (a *Aggregator) Acknowledge(ctx context.Context, confirmer Confirmer, ids []string, by string, at time.Time) (int, error) {
	confirmed, err := Acknowledge(ctx, confirmer, ids)
	if err != nil {
		return 0, err
	}
	return a.MarkAcknowledged(confirmed, by, at), nil
}

// Alerts 返回集合副本（最新在前）
func (a *Aggregator) Alerts() []models.Alert {
	out := make([]models.Alert, len(a.items))
	copy(out, a.items)
	return out
}

// Get 按 id 查询
func (a *Aggregator) Get(id string) (models.Alert, bool) {
	if _, ok := a.index[id]; !ok {
		return models.Alert{}, false
	}
	for _, alert := range a.items {
		if alert.ID == id {
			return alert, true
		}
	}
	return models.Alert{}, false
}

// Len 报警数量
func (a *Aggregator) Len() int {
	return len(a.items)
}

// UnacknowledgedCritical 未确认的 critical 报警数（派生值，不存储）
func (a *Aggregator) UnacknowledgedCritical() int {
	n := 0
	for _, alert := range a.items {
		if alert.IsUnacknowledgedCritical() {
			n++
		}
	}
	return n
}

// ForEmployee 某员工的报警（最新在前）
func (a *Aggregator) ForEmployee(employeeID string) []models.Alert {
	var out []models.Alert
	for _, alert := range a.items {
		if alert.EmployeeID == employeeID {
			out = append(out, alert)
		}
	}
	return out
}

// Clear 清空集合
func (a *Aggregator) Clear() {
	a.items = nil
	a.index = make(map[string]struct{})
}

func (a *Aggregator) trim() {
	if len(a.items) <= a.capacity {
		return
	}
	for _, dropped := range a.items[a.capacity:] {
		delete(a.index, dropped.ID)
	}
	a.items = a.items[:a.capacity]
}

// Acknowledge 向 Data Service 确认报警，返回服务端确认的 id
// 失败时返回 ErrAcknowledgeFailed，调用方不得修改本地状态
func Acknowledge(ctx context.Context, confirmer Confirmer, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no alert ids", models.ErrAcknowledgeFailed)
	}
	confirmed, err := confirmer.AcknowledgeAlerts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrAcknowledgeFailed, err)
	}
	return confirmed, nil
}
