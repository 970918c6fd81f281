// Package roster 从花名册派生看板视图：搜索、筛选、分页。
// 纯函数，不缓存结果，任何时候都可以从当前花名册重新计算。
package roster

import (
	"sort"
	"strings"

	"wisefido-supervisor/internal/models"
)

// FacetAll 部门/状态筛选的 "全部"
const FacetAll = "all"

// DefaultPageSize 默认每页人数
const DefaultPageSize = 12

// Filter 搜索与筛选条件（各条件之间为 AND）
type Filter struct {
	Search     string `json:"search"`
	Department string `json:"department"` // 空或 "all" 表示不限
	Status     string `json:"status"`     // 空或 "all" 表示不限
	// AlertsOnly 排除 online 员工（保留 away/warning/critical/offline），与报警数量无关
	AlertsOnly bool `json:"alerts_only"`
}

// RosterView 派生的只读视图
type RosterView struct {
	Items         []models.Employee `json:"items"`
	Page          int               `json:"page"`
	PageSize      int               `json:"page_size"`
	TotalPages    int               `json:"total_pages"`
	FilteredCount int               `json:"filtered_count"`
}

// Matches 员工是否满足筛选条件
func (f Filter) Matches(e models.Employee) bool {
	if f.Department != "" && f.Department != FacetAll && e.Department != f.Department {
		return false
	}
	if f.Status != "" && f.Status != FacetAll && string(e.Status) != f.Status {
		return false
	}
	if f.AlertsOnly && e.Status == models.StatusOnline {
		return false
	}

	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	for _, field := range []string{e.Name, e.Department, e.Position, e.ID} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// Sort 按姓名、id 排序（稳定，结果确定）
func Sort(employees []models.Employee) []models.Employee {
	out := make([]models.Employee, len(employees))
	copy(out, employees)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply 按条件筛选，保持输入顺序
func Apply(employees []models.Employee, f Filter) []models.Employee {
	out := make([]models.Employee, 0, len(employees))
	for _, e := range employees {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// TotalPages ceil(count / pageSize)
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return (count + pageSize - 1) / pageSize
}

// ClampPage 将页码限制在 [1, totalPages]；totalPages 为 0 时返回 1
func ClampPage(page, totalPages int) int {
	if page < 1 || totalPages == 0 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

// Paginate 对已筛选的列表分页
func Paginate(items []models.Employee, page, pageSize int) RosterView {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(items)
	totalPages := TotalPages(total, pageSize)
	page = ClampPage(page, totalPages)

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	pageItems := make([]models.Employee, end-start)
	copy(pageItems, items[start:end])

	return RosterView{
		Items:         pageItems,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
		FilteredCount: total,
	}
}

// View 排序、筛选后分页
func View(employees []models.Employee, f Filter, page, pageSize int) RosterView {
	return Paginate(Apply(Sort(employees), f), page, pageSize)
}

// Departments 部门筛选项（去重、排序）
func Departments(employees []models.Employee) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range employees {
		if e.Department == "" {
			continue
		}
		if _, ok := seen[e.Department]; ok {
			continue
		}
		seen[e.Department] = struct{}{}
		out = append(out, e.Department)
	}
	sort.Strings(out)
	return out
}
