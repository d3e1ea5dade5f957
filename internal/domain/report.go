package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusStamped = "stamped"
	StatusFailed  = "failed"
	StatusNotRun  = "not_run"
)

const (
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeLoadFailed   = "load_failed"
	ErrCodeSaveFailed   = "save_failed"
	ErrCodeIOFailed     = "io_failed"
	ErrCodeAborted      = "aborted"
)

// RunReport 是一次 run 的对外稳定输出（stdout JSON）。
type RunReport struct {
	RunID   string `json:"run_id"`
	Path    string `json:"path"`
	OnError string `json:"on_error"`
	Workers int    `json:"workers"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Aborted 表示 abort 策略下出现了首个致命错误，剩余文件未保证处理。
	Aborted bool `json:"aborted"`

	Summary ReportSummary `json:"summary"`
	Items   []FileResult  `json:"items"`
}

type ReportSummary struct {
	Total   int `json:"total"`
	Stamped int `json:"stamped"`
	Failed  int `json:"failed"`
	NotRun  int `json:"not_run"`
}

// FileResult 对应 InputSet 中的一个条目。
type FileResult struct {
	Path string `json:"path"` // 相对扫描根目录
	Name string `json:"name"`

	Status string `json:"status"`
	// Previous 是写入前的 source_filename（可能为空）。
	Previous  string `json:"previous"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// OK 表示整次 run 可以对外宣称成功。
func (r RunReport) OK() bool {
	return !r.Aborted && r.Summary.Failed == 0 && r.Summary.NotRun == 0
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 稳定排序：按 path 字典序（执行顺序本身无序，输出需要可比较）
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool { return r.Items[i].Path < r.Items[j].Path })

	s := ReportSummary{Total: len(r.Items)}
	for _, it := range r.Items {
		switch it.Status {
		case StatusStamped:
			s.Stamped++
		case StatusFailed:
			s.Failed++
		case StatusNotRun:
			s.NotRun++
		}
	}
	r.Summary = s
}

// MarshalJSON 保证 items 为空时输出 [] 而不是 null。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	if r.Items == nil {
		r.Items = []FileResult{}
	}
	return json.Marshal(Alias(r))
}
