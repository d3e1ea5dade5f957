package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cioscos/fake-dfl-images/internal/app"
	"github.com/Cioscos/fake-dfl-images/internal/config"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
	"github.com/Cioscos/fake-dfl-images/internal/infra/logx"
	"github.com/Cioscos/fake-dfl-images/internal/scan"
)

// Mutator 是作用于单个文件的纯操作；不同文件之间互不依赖。
type Mutator interface {
	Mutate(ctx context.Context, f domain.ImageFile) (previous string, err error)
}

// Execute 扫描 eff.Input 并把 m 并发地应用到每个候选文件上。
//
// 返回的 error：
// - 扫描失败（包括 *scan.InvalidInputError）：没有任何文件被处理
// - abort 策略下的首个致命错误，或上层 ctx 被取消
// continue 策略下单个文件失败只体现在 report 中，error 为 nil。
func Execute(ctx context.Context, eff config.EffectiveConfig, m Mutator, log *zap.Logger, obs Observer) (domain.RunReport, error) {
	if log == nil {
		log = logx.Nop()
	}
	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     newRunID(),
		Path:      eff.Input,
		OnError:   eff.OnError,
		Workers:   eff.Workers,
		StartedAt: time.Now().UTC(),
	}
	log = log.With(zap.String("run_id", rr.RunID))

	scanStarted := time.Now()
	files, err := scan.ScanImages(eff.Input)
	if err != nil {
		log.Error("扫描失败", zap.String("path", eff.Input), zap.Error(err))
		// 合成条目：report 里必须能看到失败原因，不能是“零文件成功”。
		rr.Items = []domain.FileResult{{
			Path:      eff.Input,
			Status:    domain.StatusFailed,
			ErrorCode: errorCode(err),
			ErrorMsg:  err.Error(),
		}}
		rr.Aborted = true
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr, err
	}
	scanDur := time.Since(scanStarted)
	log.Info("扫描完成", zap.Int("files", len(files)), zap.Duration("dur", scanDur))

	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(files)}, scanDur)
	}

	// 池大小在整个 run 内固定。
	workers := eff.Workers
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers": workers,
			"total":   len(files),
		}, 0)
	}

	items, fatal := execAll(ctx, eff, files, workers, m, log, obs)

	rr.Items = items
	rr.Aborted = fatal != nil
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()

	log.Info("执行完成",
		zap.Int("stamped", rr.Summary.Stamped),
		zap.Int("failed", rr.Summary.Failed),
		zap.Int("not_run", rr.Summary.NotRun),
		zap.Bool("aborted", rr.Aborted),
	)
	return rr, fatal
}

type execResult struct {
	idx      int
	worker   int
	previous string
	err      error
	dur      time.Duration
}

// execAll 是固定大小的 worker pool：worker 从同一个 jobs channel 取任务，
// 结果按完成顺序回到调用方 goroutine，由它独占地更新计数与 items。
func execAll(parent context.Context, eff config.EffectiveConfig, files []domain.ImageFile, workers int, m Mutator, log *zap.Logger, obs Observer) ([]domain.FileResult, error) {
	items := make([]domain.FileResult, len(files))
	for i, f := range files {
		items[i] = domain.FileResult{
			Path:   f.RelPath,
			Name:   f.Name,
			Status: domain.StatusNotRun,
		}
	}
	if len(files) == 0 {
		return items, nil
	}

	// 首个致命错误出现后 cancel：停止派发，已在处理中的文件允许跑完。
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan int)
	results := make(chan execResult, len(files))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for idx := range jobs {
				// 取消后才取到的任务不再启动。
				if err := ctx.Err(); err != nil {
					results <- execResult{idx: idx, worker: worker, err: err}
					continue
				}
				started := time.Now()
				prev, err := m.Mutate(ctx, files[idx])
				results <- execResult{
					idx:      idx,
					worker:   worker,
					previous: prev,
					err:      err,
					dur:      time.Since(started),
				}
			}
		}(w)
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for i := range files {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		fatal error
		done  int
	)
	for r := range results {
		done++
		it := &items[r.idx]
		f := files[r.idx]
		fields := []zap.Field{
			zap.String("path", f.AbsPath),
			zap.Int("worker", r.worker),
			zap.Duration("dur", r.dur),
		}

		switch {
		case r.err == nil:
			it.Status = domain.StatusStamped
			it.Previous = r.previous
			log.Debug("已写入 source_filename", append(fields, zap.String("previous", r.previous))...)
		case ctx.Err() != nil && errors.Is(r.err, ctx.Err()):
			// 取消后才开始的文件：未处理，不算失败。
			it.ErrorCode = domain.ErrCodeAborted
			it.ErrorMsg = r.err.Error()
			continue
		default:
			it.Status = domain.StatusFailed
			it.Previous = r.previous
			it.ErrorCode = errorCode(r.err)
			it.ErrorMsg = r.err.Error()
			log.Info("处理失败", append(fields, zap.String("error_code", it.ErrorCode), zap.Error(r.err))...)
		}

		if fatal != nil {
			continue
		}
		if r.err != nil && eff.OnError != config.OnErrorContinue {
			fatal = r.err
			cancel()
			if obs != nil {
				obs.OnAbort(*it)
			}
			continue
		}
		if obs != nil {
			obs.OnItemDone(done, len(files), *it, r.dur)
		}
	}

	if fatal == nil && parent.Err() != nil {
		fatal = parent.Err()
	}
	return items, fatal
}

func errorCode(err error) string {
	var ie *scan.InvalidInputError
	if errors.As(err, &ie) {
		return domain.ErrCodeInvalidInput
	}
	var le *app.LoadError
	if errors.As(err, &le) {
		return domain.ErrCodeLoadFailed
	}
	var se *app.SaveError
	if errors.As(err, &se) {
		return domain.ErrCodeSaveFailed
	}
	return domain.ErrCodeIOFailed
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
