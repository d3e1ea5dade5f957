package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Cioscos/fake-dfl-images/internal/app/run"
	"github.com/Cioscos/fake-dfl-images/internal/config"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

const progressLabel = "Injecting fake data"

// progressUI 是交互终端下的单行进度条。
//
// - 输出写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 契约
// - 进度行用 \r 原地刷新；失败条目单独占一行
// - ticker 定期刷新耗时，长时间无文件完成时也能看到仍在运行
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time

	total int
	done  int
	ok    int
	fail  int

	// drawn 表示当前行上有一条未换行的进度条。
	drawn   bool
	stopped bool

	barWidth       int
	tickerInterval time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:              w,
		barWidth:       30,
		tickerInterval: time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startedAt.IsZero() {
		p.startedAt = time.Now()
	}
	fmt.Fprintf(p.w, "[%s] fakedfl run\n", p.startedAt.Format("15:04:05"))
	fmt.Fprintf(p.w, "  input: %s\n", eff.Input)
	fmt.Fprintf(p.w, "  workers: %d\n", eff.Workers)
	fmt.Fprintf(p.w, "  on_error: %s\n", eff.OnError)
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d (%s)\n", intField(fields, "files"), formatShortDuration(dur))
	case "exec":
		p.total = intField(fields, "total")
		if p.total == 0 {
			return
		}
		p.drawLocked()
		if !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

func (p *progressUI) OnItemDone(done, total int, res domain.FileResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	p.done = done
	p.total = total
	switch res.Status {
	case domain.StatusStamped:
		p.ok++
	case domain.StatusFailed:
		p.fail++
	}

	if res.Status == domain.StatusFailed {
		p.clearLocked()
		fmt.Fprintf(p.w, "FAIL %s %s: %s (%s)\n",
			res.Path, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}
	p.drawLocked()

	if p.done >= p.total {
		p.stopLocked()
	}
}

// OnAbort 之后进度条冻结，不再刷新。
func (p *progressUI) OnAbort(res domain.FileResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fail++
	p.drawLocked()
	p.stopLocked()
	fmt.Fprintf(p.w, "中止：%s %s: %s\n", res.Path, res.ErrorCode, truncate(res.ErrorMsg, 200))
}

// Close 停止 ticker 并结束当前进度行；可重复调用。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progressUI) stopLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
	p.stopped = true
}

func (p *progressUI) clearLocked() {
	if !p.drawn {
		return
	}
	fmt.Fprint(p.w, "\r\033[K")
	p.drawn = false
}

func (p *progressUI) drawLocked() {
	if p.stopped {
		return
	}
	fmt.Fprint(p.w, "\r"+formatBar(p.done, p.total, p.fail, p.barWidth, time.Since(p.startedAt)))
	p.drawn = true
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				p.drawLocked()
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// formatBar 渲染形如 "Injecting fake data:  40%|████      | 4/10 [00:00:03]" 的进度行。
func formatBar(done, total, fail, width int, elapsed time.Duration) string {
	if width <= 0 {
		width = 30
	}
	pct := 0
	fill := 0
	if total > 0 {
		if done > total {
			done = total
		}
		pct = done * 100 / total
		fill = done * width / total
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %3d%%|", progressLabel, pct)
	b.WriteString(strings.Repeat("█", fill))
	b.WriteString(strings.Repeat(" ", width-fill))
	fmt.Fprintf(&b, "| %d/%d [%s]", done, total, formatElapsed(elapsed))
	if fail > 0 {
		fmt.Fprintf(&b, " fail=%d", fail)
	}
	return b.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return 0
	}
}
