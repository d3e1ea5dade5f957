package run

import (
	"time"

	"github.com/Cioscos/fake-dfl-images/internal/config"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
)

// Observer 把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件只在 Execute 所在的 goroutine 上发出；实现若有自己的 goroutine（例如刷新 ticker）需自行加锁。
type Observer interface {
	// OnStart 在 Execute 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（scan、exec）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在每个文件完成时调用；done 按完成顺序递增，与输入顺序无关。
	OnItemDone(done, total int, res domain.FileResult, dur time.Duration)
	// OnAbort 在 abort 策略下首个致命错误出现时调用；之后不再有 OnItemDone。
	OnAbort(res domain.FileResult)
}
