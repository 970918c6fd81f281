package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-supervisor/internal/alerts"
	"wisefido-supervisor/internal/export"
	"wisefido-supervisor/internal/freshness"
	"wisefido-supervisor/internal/models"
	"wisefido-supervisor/internal/reconciler"
	"wisefido-supervisor/internal/roster"
	"wisefido-supervisor/internal/store"

	"go.uber.org/zap"
)

// Refresh 从 Data Service 加载快照并替换花名册、报警、考勤
// 失败时保留旧状态并记录 LastError
func (s *Session) Refresh(ctx context.Context) error {
	if !s.active.Load() {
		return ErrNotRunning
	}

	started := time.Now()
	snap, err := s.data.Snapshot(ctx, s.now())
	s.metrics.ObserveRefresh(time.Since(started).Seconds())
	if err != nil {
		if !errors.Is(err, models.ErrTransientFetch) {
			err = fmt.Errorf("%w: %w", models.ErrTransientFetch, err)
		}
		s.metrics.RefreshFailed()
		s.post(func() { s.lastErr = err })
		return err
	}

	if !s.call(func() { s.applySnapshot(snap) }) {
		return ErrNotRunning
	}
	return nil
}

func (s *Session) applySnapshot(snap *models.Snapshot) {
	now := s.now()
	s.roster.Load(snap.Employees, snap.LatestVitals, now)
	s.alerts.Replace(snap.Alerts)
	s.attendance = append([]models.AttendanceRecord(nil), snap.Attendance...)
	s.lastErr = nil
	s.lastRefresh = now
	s.updateGauges()

	s.logger.Debug("Snapshot applied",
		zap.Int("employee_count", s.roster.Len()),
		zap.Int("alert_count", s.alerts.Len()),
	)
}

// onEvent 事件流回调（在事件流 goroutine 中调用），按到达顺序投递到事件循环
func (s *Session) onEvent(event models.StreamEvent) {
	if !s.scope.Allows(event.UserID()) {
		s.logger.Debug("Dropping event outside session scope",
			zap.String("event_type", event.Type),
			zap.String("user_id", event.UserID()),
		)
		return
	}
	s.post(func() { s.applyEvent(event) })
}

func (s *Session) applyEvent(event models.StreamEvent) {
	now := s.now()

	switch {
	case event.Vital != nil:
		if _, err := s.roster.Apply(*event.Vital, now); err != nil {
			reason := reconciler.RejectReason(err)
			s.metrics.VitalRejected(reason)
			if errors.Is(err, models.ErrUnknownEmployee) {
				s.logger.Warn("Dropping vital for unknown employee", zap.String("user_id", event.Vital.UserID))
			} else {
				s.logger.Debug("Rejected vital update",
					zap.String("user_id", event.Vital.UserID),
					zap.String("reason", reason),
					zap.Error(err),
				)
			}
			return
		}
		s.metrics.VitalApplied()

	case event.Alert != nil:
		alert := *event.Alert
		if event.Type == models.EventCriticalAlert && alert.Severity == "" {
			alert.Severity = models.SeverityCritical
		}
		inserted, err := s.alerts.Upsert(alert, now)
		if err != nil {
			s.logger.Warn("Rejected stream alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			return
		}
		if inserted {
			s.metrics.AlertAccepted()
		} else {
			s.metrics.AlertDuplicate()
		}
	}
	s.updateGauges()
}

func (s *Session) onStatusChange(change reconciler.StatusChange) {
	s.metrics.StatusChanged(string(change.Current))
	select {
	case s.changes <- change:
	default:
		s.logger.Debug("Status change dropped, consumer is slow",
			zap.String("employee_id", change.EmployeeID),
			zap.String("status", string(change.Current)),
		)
	}
}

// onReset 每日重置回调（调度器 goroutine 中调用）；会话已停止时返回 false，不写重置标记
func (s *Session) onReset(at time.Time) bool {
	return s.call(func() { s.applyReset(at) })
}

// applyReset 清空派生状态：生命体征、状态、最后在线时间、报警、考勤；身份字段保留
func (s *Session) applyReset(at time.Time) {
	s.roster.Reset()
	s.alerts.Clear()
	s.alerts.SetFloor(freshness.StartOfDay(at))
	s.attendance = nil
	s.lastReset = at
	s.metrics.ResetFired()
	s.updateGauges()

	s.logger.Info("Daily reset applied", zap.Time("at", at))
}

func (s *Session) recompute() int {
	n := s.roster.Recompute(s.now())
	if n > 0 {
		s.updateGauges()
	}
	return n
}

func (s *Session) updateGauges() {
	s.metrics.SetRosterSize(s.roster.Len())
	s.metrics.SetUnacknowledgedCritical(s.alerts.UnacknowledgedCritical())
}

// Recompute 立即按当前时间重算所有员工状态，返回状态变化的人数
func (s *Session) Recompute() int {
	var n int
	s.call(func() { n = s.recompute() })
	return n
}

// Acknowledge 确认报警：先由 Data Service 确认，成功后才更新本地状态
// 失败时返回 ErrAcknowledgeFailed，报警保持未确认
func (s *Session) Acknowledge(ctx context.Context, ids []string, by string) (int, error) {
	if !s.active.Load() {
		return 0, ErrNotRunning
	}
	confirmed, err := alerts.Acknowledge(ctx, s.data, ids)
	if err != nil {
		s.logger.Warn("Alert acknowledgement failed",
			zap.Strings("alert_ids", ids),
			zap.Error(err),
		)
		return 0, err
	}

	var updated int
	if !s.call(func() {
		updated = s.alerts.MarkAcknowledged(confirmed, by, s.now())
		s.updateGauges()
	}) {
		return 0, ErrNotRunning
	}
	return updated, nil
}

// History 拉取某员工最近的生命体征并填充趋势窗口，返回合并后的窗口（最新在前）
func (s *Session) History(ctx context.Context, employeeID string) ([]models.Vital, error) {
	if !s.active.Load() {
		return nil, ErrNotRunning
	}
	vitals, err := s.data.VitalsHistory(ctx, employeeID, s.opts.HistoryHours)
	if err != nil {
		if !errors.Is(err, models.ErrTransientFetch) {
			err = fmt.Errorf("%w: %w", models.ErrTransientFetch, err)
		}
		return nil, err
	}

	var (
		window  []models.Vital
		seedErr error
	)
	if !s.call(func() {
		if seedErr = s.roster.SeedHistory(employeeID, vitals); seedErr == nil {
			window = s.roster.History(employeeID)
		}
	}) {
		return nil, ErrNotRunning
	}
	return window, seedErr
}

// RecentVitals 本地趋势窗口（不访问网络）
func (s *Session) RecentVitals(employeeID string) []models.Vital {
	var out []models.Vital
	s.call(func() { out = s.roster.History(employeeID) })
	return out
}

// Login 保存 token，之后的 REST 请求与事件流重连使用该 token
func (s *Session) Login(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if err := s.kv.Set(ctx, store.TokenKey, token, 0); err != nil {
		return fmt.Errorf("failed to persist auth token: %w", err)
	}
	s.applyToken(token)
	return nil
}

// Logout 删除 token
func (s *Session) Logout(ctx context.Context) error {
	if err := s.kv.Delete(ctx, store.TokenKey); err != nil {
		return fmt.Errorf("failed to delete auth token: %w", err)
	}
	s.applyToken("")
	return nil
}

// View 当前花名册的搜索/筛选/分页视图（先按当前时间重算状态）
// pageSize <= 0 时使用会话默认每页人数
func (s *Session) View(filter roster.Filter, page, pageSize int) roster.RosterView {
	var v roster.RosterView
	if pageSize <= 0 {
		pageSize = s.opts.PageSize
	}
	if !s.call(func() {
		s.recompute()
		v = roster.View(s.roster.Employees(), filter, page, pageSize)
	}) {
		return roster.Paginate(nil, page, pageSize)
	}
	return v
}

// Employees 花名册副本（快照顺序）
func (s *Session) Employees() []models.Employee {
	var out []models.Employee
	s.call(func() {
		s.recompute()
		out = s.roster.Employees()
	})
	return out
}

// Departments 部门筛选项
func (s *Session) Departments() []string {
	var out []string
	s.call(func() { out = roster.Departments(s.roster.Employees()) })
	return out
}

// Counts 各状态人数
func (s *Session) Counts() map[models.Status]int {
	var out map[models.Status]int
	s.call(func() {
		s.recompute()
		out = s.roster.Counts()
	})
	return out
}

// Alerts 报警列表副本（最新在前）
func (s *Session) Alerts() []models.Alert {
	var out []models.Alert
	s.call(func() { out = s.alerts.Alerts() })
	return out
}

// UnacknowledgedCritical 未确认的 critical 报警数
func (s *Session) UnacknowledgedCritical() int {
	var n int
	s.call(func() { n = s.alerts.UnacknowledgedCritical() })
	return n
}

// Attendance 当天考勤
func (s *Session) Attendance() []models.AttendanceRecord {
	var out []models.AttendanceRecord
	s.call(func() { out = append([]models.AttendanceRecord(nil), s.attendance...) })
	return out
}

// LastError 最近一次快照加载的错误（成功加载后清空）
func (s *Session) LastError() error {
	var err error
	s.call(func() { err = s.lastErr })
	return err
}

// LastRefresh 最近一次成功加载快照的时间
func (s *Session) LastRefresh() time.Time {
	var t time.Time
	s.call(func() { t = s.lastRefresh })
	return t
}

// LastReset 本会话内最近一次每日重置的时间
func (s *Session) LastReset() time.Time {
	var t time.Time
	s.call(func() { t = s.lastReset })
	return t
}

// Connected 事件流当前是否已连接
func (s *Session) Connected() bool {
	var ok bool
	s.call(func() { ok = s.connected })
	return ok
}

// StatusChanges 状态变化通知；消费太慢时通知会被丢弃；Stop 后关闭
func (s *Session) StatusChanges() <-chan reconciler.StatusChange {
	return s.changes
}

// Export 按筛选条件导出花名册与考勤（xlsx）
func (s *Session) Export(filter roster.Filter) ([]byte, error) {
	var (
		employees  []models.Employee
		attendance []models.AttendanceRecord
	)
	if !s.call(func() {
		s.recompute()
		employees = roster.Apply(roster.Sort(s.roster.Employees()), filter)
		attendance = append([]models.AttendanceRecord(nil), s.attendance...)
	}) {
		return nil, ErrNotRunning
	}
	return export.RosterWorkbook(employees, attendance, s.now())
}
