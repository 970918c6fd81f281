package reconciler

import (
	"fmt"
	"sort"
	"time"

	"wisefido-supervisor/internal/freshness"
	"wisefido-supervisor/internal/models"

	"go.uber.org/zap"
)

// DefaultHistorySize 个人趋势窗口默认保留的读数条数
const DefaultHistorySize = 20

// StatusChange 状态变化通知（用于声音/视觉提醒，不是数据字段）
type StatusChange struct {
	EmployeeID string
	Name       string
	Previous   models.Status
	Current    models.Status
	At         time.Time
}

// Result Apply 的结果
type Result struct {
	Employee models.Employee
	Previous models.Status
	Changed  bool
}

// Roster 内存花名册
// 成员关系只由快照决定，事件流不会引入新员工
// 非并发安全：由会话的单一事件循环串行访问
type Roster struct {
	employees   map[string]*models.Employee
	order       []string // 快照顺序，用于稳定展示
	history     map[string][]models.Vital
	historySize int
	thresholds  freshness.HealthThresholds
	notify      func(StatusChange)
	logger      *zap.Logger
}

// NewRoster 创建花名册，historySize <= 0 时使用默认值
func NewRoster(historySize int, logger *zap.Logger) *Roster {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Roster{
		employees:   make(map[string]*models.Employee),
		history:     make(map[string][]models.Vital),
		historySize: historySize,
		thresholds:  freshness.DefaultThresholds,
		logger:      logger,
	}
}

// OnStatusChange 设置状态变化回调
func (r *Roster) OnStatusChange(fn func(StatusChange)) {
	r.notify = fn
}

// SetThresholds 替换健康阈值
func (r *Roster) SetThresholds(t freshness.HealthThresholds) {
	r.thresholds = t
}

// Load 用快照替换花名册成员
// 同一员工已有更新的流式读数时保留较新的那条；非今天的快照读数被丢弃
func (r *Roster) Load(employees []models.Employee, latest map[string]*models.Vital, now time.Time) {
	next := make(map[string]*models.Employee, len(employees))
	order := make([]string, 0, len(employees))

	for i := range employees {
		src := employees[i]
		if src.ID == "" {
			continue
		}
		if _, dup := next[src.ID]; dup {
			r.logger.Warn("Duplicate employee id in snapshot", zap.String("employee_id", src.ID))
			continue
		}

		emp := &models.Employee{
			ID:           src.ID,
			Name:         src.Name,
			Department:   src.Department,
			Position:     src.Position,
			Shift:        src.Shift,
			DeviceSerial: src.DeviceSerial,
		}

		prevStatus := models.StatusOffline
		var candidates []*models.Vital
		if existing, ok := r.employees[src.ID]; ok {
			prevStatus = existing.Status
			candidates = append(candidates, existing.LatestVital)
		}
		candidates = append(candidates, latest[src.ID], src.LatestVital)

		vital := r.newest(candidates, now)
		r.setVital(emp, vital, now)
		if vital != nil {
			r.pushHistory(emp.ID, *vital)
		}

		next[emp.ID] = emp
		order = append(order, emp.ID)

		if _, existed := r.employees[src.ID]; existed && emp.Status != prevStatus {
			r.emit(emp, prevStatus, now)
		}
	}

	// 被移出花名册的员工，历史一并丢弃
	for id := range r.history {
		if _, ok := next[id]; !ok {
			delete(r.history, id)
		}
	}

	r.employees = next
	r.order = order
}

// newest 在候选读数中选出时间最新的有效读数
func (r *Roster) newest(candidates []*models.Vital, now time.Time) *models.Vital {
	var best *models.Vital
	for _, v := range candidates {
		if v == nil {
			continue
		}
		if err := ValidateVital(*v, now); err != nil {
			continue
		}
		if best == nil || v.Timestamp.After(best.Timestamp) {
			best = v
		}
	}
	return best
}

// Apply 将一条流式生命体征合并进花名册
func (r *Roster) Apply(update models.VitalUpdate, now time.Time) (Result, error) {
	if err := ValidateVital(update.Vital, now); err != nil {
		return Result{}, fmt.Errorf("employee %s: %w", update.UserID, err)
	}

	emp, ok := r.employees[update.UserID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", models.ErrUnknownEmployee, update.UserID)
	}

	prev := emp.Status
	merged := update.Vital.MergeOver(emp.LatestVital)
	r.setVital(emp, &merged, now)
	r.pushHistory(emp.ID, merged)

	changed := emp.Status != prev
	if changed {
		r.emit(emp, prev, now)
	}

	return Result{Employee: *emp, Previous: prev, Changed: changed}, nil
}

// Recompute 按当前时间重新推导所有员工状态，返回变化的人数
func (r *Roster) Recompute(now time.Time) int {
	changed := 0
	for _, id := range r.order {
		emp := r.employees[id]
		prev := emp.Status
		emp.Status = r.thresholds.Classify(emp.LatestVital, now)
		if emp.Status != prev {
			changed++
			r.emit(emp, prev, now)
		}
	}
	return changed
}

// Reset 清空所有员工的派生状态（读数/状态/最后在线）与趋势历史，身份字段不变
func (r *Roster) Reset() {
	for _, emp := range r.employees {
		emp.ClearDerived()
	}
	r.history = make(map[string][]models.Vital)
}

// Get 按 id 查询员工（返回副本）
func (r *Roster) Get(id string) (models.Employee, bool) {
	emp, ok := r.employees[id]
	if !ok {
		return models.Employee{}, false
	}
	return *emp, true
}

// Employees 按快照顺序返回所有员工副本
func (r *Roster) Employees() []models.Employee {
	out := make([]models.Employee, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.employees[id])
	}
	return out
}

// Len 花名册人数
func (r *Roster) Len() int {
	return len(r.order)
}

// Counts 各状态人数
func (r *Roster) Counts() map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, emp := range r.employees {
		counts[emp.Status]++
	}
	return counts
}

// History 个人趋势窗口（最新在前）
func (r *Roster) History(id string) []models.Vital {
	h := r.history[id]
	out := make([]models.Vital, len(h))
	copy(out, h)
	return out
}

// SeedHistory 用 Data Service 的历史数据填充趋势窗口（与已有读数按时间戳去重）
func (r *Roster) SeedHistory(id string, vitals []models.Vital) error {
	if _, ok := r.employees[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownEmployee, id)
	}

	byTime := make(map[int64]models.Vital, len(vitals)+len(r.history[id]))
	for _, v := range vitals {
		if v.Timestamp.IsZero() {
			continue
		}
		byTime[v.Timestamp.UnixNano()] = v
	}
	// 已有的流式读数优先
	for _, v := range r.history[id] {
		byTime[v.Timestamp.UnixNano()] = v
	}

	merged := make([]models.Vital, 0, len(byTime))
	for _, v := range byTime {
		merged = append(merged, v)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if len(merged) > r.historySize {
		merged = merged[:r.historySize]
	}
	r.history[id] = merged
	return nil
}

func (r *Roster) setVital(emp *models.Employee, v *models.Vital, now time.Time) {
	if v == nil {
		emp.ClearDerived()
		return
	}
	emp.LatestVital = v
	ts := v.Timestamp
	emp.LastSeen = &ts
	emp.Status = r.thresholds.Classify(v, now)
}

// pushHistory 新读数插入头部，超过窗口的旧读数丢弃
// 时间戳与头部相同的读数视为同一条（重复推送），原地替换
func (r *Roster) pushHistory(id string, v models.Vital) {
	h := r.history[id]
	if len(h) > 0 && h[0].Timestamp.Equal(v.Timestamp) {
		h[0] = v
		return
	}

	next := make([]models.Vital, 0, min(len(h)+1, r.historySize))
	next = append(next, v)
	for _, old := range h {
		if len(next) >= r.historySize {
			break
		}
		next = append(next, old)
	}
	r.history[id] = next
}

func (r *Roster) emit(emp *models.Employee, prev models.Status, now time.Time) {
	if r.notify == nil {
		return
	}
	r.notify(StatusChange{
		EmployeeID: emp.ID,
		Name:       emp.Name,
		Previous:   prev,
		Current:    emp.Status,
		At:         now,
	})
}
