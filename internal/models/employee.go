package models

import "time"

// Status 员工在线/健康状态（由最新生命体征时间戳推导，不单独设置）
type Status string

const (
	StatusOnline   Status = "online"
	StatusAway     Status = "away"
	StatusOffline  Status = "offline"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// Employee 佩戴 IoT 设备的员工
// 身份字段来自 Data Service；LatestVital/Status/LastSeen 只由 reconciler 修改
type Employee struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Department   string `json:"department"`
	Position     string `json:"position"`
	Shift        string `json:"shift,omitempty"`
	DeviceSerial string `json:"device_serial,omitempty"`

	LatestVital *Vital     `json:"latest_vital,omitempty"`
	Status      Status     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// ClearDerived 清空派生字段（生命体征/状态/最后在线时间），身份字段保留
func (e *Employee) ClearDerived() {
	e.LatestVital = nil
	e.Status = StatusOffline
	e.LastSeen = nil
}

// AttendanceRecord 考勤记录（按天）
type AttendanceRecord struct {
	EmployeeID string     `json:"user_id"`
	Date       string     `json:"date"` // YYYY-MM-DD
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	Status     string     `json:"status"` // present, late, absent
}

// Snapshot Data Service 的一次完整加载结果
type Snapshot struct {
	Employees    []Employee
	LatestVitals map[string]*Vital // key: employee id
	Alerts       []Alert
	Attendance   []AttendanceRecord
	FetchedAt    time.Time
}
