package models

import "errors"

// 对账引擎的错误分类，均不致命；调用方用 errors.Is 判断
var (
	// ErrTransientFetch 快照/历史加载失败，保留旧状态
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrStreamDisconnected 事件流断开，自动重连，不清空状态
	ErrStreamDisconnected = errors.New("stream disconnected")
	// ErrAcknowledgeFailed 确认报警失败，本地保持未确认
	ErrAcknowledgeFailed = errors.New("acknowledge failed")
	// ErrUnknownEmployee 事件引用了花名册中不存在的员工
	ErrUnknownEmployee = errors.New("unknown employee")
	// ErrInvalidTimestamp 时间戳缺失或位于未来
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrStaleVital 生命体征不是今天的数据（重放的旧数据）
	ErrStaleVital = errors.New("stale vital")
	// ErrOutOfRange 生命体征超出可信范围
	ErrOutOfRange = errors.New("vital out of range")
	// ErrInvalidAlert 报警缺少 id
	ErrInvalidAlert = errors.New("invalid alert")
)
