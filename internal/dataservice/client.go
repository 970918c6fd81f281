// Package dataservice Data Service（REST）客户端：快照、历史、考勤、报警确认
package dataservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-supervisor/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ResultSuccess Data Service 成功返回码
const ResultSuccess = 2000

// Result Data Service 统一响应格式
// - code: 2000 表示成功
// - type: 'success' | 'error' | 'warning'
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

// AcknowledgeRequest 报警确认请求
type AcknowledgeRequest struct {
	AlertIDs []string `json:"alert_ids"`
}

// AcknowledgeResponse 报警确认结果
type AcknowledgeResponse struct {
	Success         bool     `json:"success"`
	AcknowledgedIDs []string `json:"acknowledged_ids"`
}

// Client Data Service 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient 创建 Data Service 客户端
func NewClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// SetToken 设置 Bearer token（空字符串表示不带认证头）
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.httpClient.R().SetContext(ctx)
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// do 发送请求并解出 Result.result
func do[T any](c *Client, req *resty.Request, method, path string) (T, error) {
	var (
		zero     T
		response Result[T]
	)
	resp, err := req.SetResult(&response).Execute(method, path)
	if err != nil {
		c.logger.Warn("Data Service call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return zero, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		c.logger.Warn("Data Service returned HTTP error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
		)
		return zero, fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode())
	}
	if response.Code != ResultSuccess {
		c.logger.Warn("Data Service returned error",
			zap.String("path", path),
			zap.Int("code", response.Code),
			zap.String("message", response.Message),
		)
		return zero, fmt.Errorf("%s %s error: %s (code: %d)", method, path, response.Message, response.Code)
	}
	return response.Result, nil
}

// Employees 获取花名册
func (c *Client) Employees(ctx context.Context) ([]models.Employee, error) {
	return do[[]models.Employee](c, c.request(ctx), resty.MethodGet, "/api/employees")
}

// LatestVitals 获取每个员工的最新生命体征（key: employee id）
func (c *Client) LatestVitals(ctx context.Context) (map[string]*models.Vital, error) {
	items, err := do[[]models.LatestVital](c, c.request(ctx), resty.MethodGet, "/api/vitals/latest")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Vital, len(items))
	for i := range items {
		if items[i].UserID == "" {
			continue
		}
		v := items[i].Vital
		out[items[i].UserID] = &v
	}
	return out, nil
}

// VitalsHistory 获取某员工最近 hours 小时的生命体征
func (c *Client) VitalsHistory(ctx context.Context, employeeID string, hours int) ([]models.Vital, error) {
	req := c.request(ctx).SetQueryParams(map[string]string{
		"user_id": employeeID,
		"hours":   fmt.Sprintf("%d", hours),
	})
	vitals, err := do[[]models.Vital](c, req, resty.MethodGet, "/api/vitals/history")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTransientFetch, err)
	}
	return vitals, nil
}

// Alerts 获取报警列表
func (c *Client) Alerts(ctx context.Context) ([]models.Alert, error) {
	return do[[]models.Alert](c, c.request(ctx), resty.MethodGet, "/api/alerts")
}

// Attendance 获取某天的考勤
func (c *Client) Attendance(ctx context.Context, day time.Time) ([]models.AttendanceRecord, error) {
	req := c.request(ctx).SetQueryParam("date", day.Format("2006-01-02"))
	return do[[]models.AttendanceRecord](c, req, resty.MethodGet, "/api/attendance")
}

// AcknowledgeAlerts 确认报警，返回服务端确认的 id
// 服务端未返回 acknowledged_ids 时视为全部确认
func (c *Client) AcknowledgeAlerts(ctx context.Context, ids []string) ([]string, error) {
	req := c.request(ctx).SetBody(AcknowledgeRequest{AlertIDs: ids})
	result, err := do[AcknowledgeResponse](c, req, resty.MethodPost, "/api/alerts/acknowledge")
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("data service rejected acknowledgement of %d alerts", len(ids))
	}
	if result.AcknowledgedIDs == nil {
		return ids, nil
	}
	return result.AcknowledgedIDs, nil
}

// Snapshot 加载一次完整快照（花名册、最新生命体征、报警、当天考勤）
// 任一部分失败则整体失败（ErrTransientFetch），调用方保留旧状态
func (c *Client) Snapshot(ctx context.Context, day time.Time) (*models.Snapshot, error) {
	employees, err := c.Employees(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: employees: %w", models.ErrTransientFetch, err)
	}
	vitals, err := c.LatestVitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: latest vitals: %w", models.ErrTransientFetch, err)
	}
	alerts, err := c.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: alerts: %w", models.ErrTransientFetch, err)
	}
	attendance, err := c.Attendance(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("%w: attendance: %w", models.ErrTransientFetch, err)
	}

	c.logger.Debug("Snapshot loaded",
		zap.Int("employee_count", len(employees)),
		zap.Int("vital_count", len(vitals)),
		zap.Int("alert_count", len(alerts)),
		zap.Int("attendance_count", len(attendance)),
	)

	return &models.Snapshot{
		Employees:    employees,
		LatestVitals: vitals,
		Alerts:       alerts,
		Attendance:   attendance,
		FetchedAt:    day,
	}, nil
}
