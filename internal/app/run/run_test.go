package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cioscos/fake-dfl-images/internal/app"
	"github.com/Cioscos/fake-dfl-images/internal/config"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
	"github.com/Cioscos/fake-dfl-images/internal/scan"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	dones      []int
	items      []string
	aborts     []domain.FileResult
}

func (o *recordObserver) OnStart(eff config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnItemDone(done, total int, res domain.FileResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dones = append(o.dones, done)
	o.items = append(o.items, res.Name)
}

func (o *recordObserver) OnAbort(res domain.FileResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborts = append(o.aborts, res)
}

// stubMutator 对 failOn 中的文件名返回 LoadError；block=true 时其余文件阻塞到 ctx 取消。
type stubMutator struct {
	failOn map[string]bool
	block  bool

	calls atomic.Int32
}

func (s *stubMutator) Mutate(ctx context.Context, f domain.ImageFile) (string, error) {
	s.calls.Add(1)
	if s.failOn[f.Name] {
		return "", &app.LoadError{Name: f.Name, Path: f.AbsPath, Err: errors.New("boom")}
	}
	if s.block {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return "prev-" + f.Name, nil
}

func TestExecute_EmptyDir(t *testing.T) {
	root := t.TempDir()
	obs := &recordObserver{}

	rr, err := Execute(context.Background(), effFor(root, 4, config.OnErrorAbort), &stubMutator{}, nil, obs)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(rr.Items) != 0 || rr.Summary.Total != 0 || !rr.OK() {
		t.Fatalf("空目录应立即完成且为零处理：%+v", rr)
	}
	if obs.startCalls != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.startCalls)
	}
	if !reflect.DeepEqual(obs.phases, []string{"scan", "exec"}) {
		t.Fatalf("阶段事件不符合预期：%v", obs.phases)
	}
	if rr.RunID == "" {
		t.Fatalf("RunID 不应为空")
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	m := &stubMutator{}

	rr, err := Execute(context.Background(), effFor(root, 4, config.OnErrorAbort), m, nil, nil)
	var ie *scan.InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("期望 InvalidInputError，实际：%T %v", err, err)
	}
	if m.calls.Load() != 0 {
		t.Fatalf("无效输入时不应处理任何文件：calls=%d", m.calls.Load())
	}
	if rr.OK() || len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeInvalidInput {
		t.Fatalf("report 应带 invalid_input 条目：%+v", rr)
	}
}

func TestExecute_Continue_TalliesFailures(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("%02d.jpg", i)))
	}
	touch(t, filepath.Join(root, "skip.png"))

	m := &stubMutator{failOn: map[string]bool{"03.jpg": true, "07.jpg": true}}
	obs := &recordObserver{}

	rr, err := Execute(context.Background(), effFor(root, 3, config.OnErrorContinue), m, nil, obs)
	if err != nil {
		t.Fatalf("continue 策略不应返回错误：%v", err)
	}
	if rr.Aborted {
		t.Fatalf("continue 策略不应 aborted")
	}
	if rr.Summary != (domain.ReportSummary{Total: 10, Stamped: 8, Failed: 2}) {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	for _, it := range rr.Items {
		switch it.Name {
		case "03.jpg", "07.jpg":
			if it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeLoadFailed || it.ErrorMsg == "" {
				t.Fatalf("失败条目不符合预期：%+v", it)
			}
		default:
			if it.Status != domain.StatusStamped || it.Previous != "prev-"+it.Name {
				t.Fatalf("成功条目不符合预期：%+v", it)
			}
		}
	}

	// 每个结果都上报一次；done 按完成顺序 1..N 递增。
	if len(obs.dones) != 10 {
		t.Fatalf("期望 10 次 OnItemDone，实际 %d", len(obs.dones))
	}
	for i, d := range obs.dones {
		if d != i+1 {
			t.Fatalf("done 序列不连续：%v", obs.dones)
		}
	}
}

func TestExecute_Abort_StopsDispatch(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("%02d.jpg", i)))
	}

	// 00.jpg 立即失败；其余文件阻塞到取消，因此都不会成功。
	m := &stubMutator{failOn: map[string]bool{"00.jpg": true}, block: true}
	obs := &recordObserver{}

	rr, err := Execute(context.Background(), effFor(root, 2, config.OnErrorAbort), m, nil, obs)
	var le *app.LoadError
	if !errors.As(err, &le) || le.Name != "00.jpg" {
		t.Fatalf("期望首个致命错误为 00.jpg 的 LoadError，实际：%T %v", err, err)
	}
	if !rr.Aborted || rr.OK() {
		t.Fatalf("abort 后不应宣称成功：%+v", rr)
	}
	if rr.Summary != (domain.ReportSummary{Total: 10, Failed: 1, NotRun: 9}) {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	if len(obs.aborts) != 1 || obs.aborts[0].Name != "00.jpg" {
		t.Fatalf("OnAbort 不符合预期：%+v", obs.aborts)
	}
	if len(obs.dones) != 0 {
		t.Fatalf("abort 之后不应再有进度事件：%v", obs.dones)
	}
	if got := m.calls.Load(); got > 3 {
		t.Fatalf("abort 后应停止派发，实际调用 %d 次", got)
	}
}

func TestExecute_PoolSizeIsRespected(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 8; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("%02d.jpg", i)))
	}

	const workers = 4
	m := &barrierMutator{want: workers}
	rr, err := Execute(context.Background(), effFor(root, workers, config.OnErrorAbort), m, nil, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Summary.Stamped != 8 {
		t.Fatalf("期望全部处理：%+v", rr.Summary)
	}
	if got := m.max.Load(); got != workers {
		t.Fatalf("最大并发应等于池大小 %d，实际 %d", workers, got)
	}
}

func TestExecute_ParentCancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.jpg"))
	touch(t, filepath.Join(root, "b.jpg"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &stubMutator{}
	rr, err := Execute(ctx, effFor(root, 2, config.OnErrorContinue), m, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际：%v", err)
	}
	if rr.Summary.NotRun != 2 || rr.OK() {
		t.Fatalf("取消后不应宣称成功：%+v", rr.Summary)
	}
	if m.calls.Load() != 0 {
		t.Fatalf("取消后不应派发任何文件")
	}
}

// barrierMutator 让前 want 个调用互相等待，用来观察池的实际并发度。
type barrierMutator struct {
	want int32

	cur     atomic.Int32
	max     atomic.Int32
	arrived atomic.Int32
}

func (b *barrierMutator) Mutate(ctx context.Context, f domain.ImageFile) (string, error) {
	n := b.cur.Add(1)
	defer b.cur.Add(-1)
	for {
		m := b.max.Load()
		if n <= m || b.max.CompareAndSwap(m, n) {
			break
		}
	}

	b.arrived.Add(1)
	deadline := time.Now().Add(2 * time.Second)
	for b.arrived.Load() < b.want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return "", nil
}

func effFor(root string, workers int, onError string) config.EffectiveConfig {
	return config.EffectiveConfig{
		Input:    root,
		Workers:  workers,
		OnError:  onError,
		LogLevel: "error",
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
