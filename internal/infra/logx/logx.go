package logx

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 构造写到 w 的 console 格式 logger；w 为 nil 时写 stderr。
//
// 约束：进度/摘要属于 UI 输出，不走 logger；logger 只记录诊断信息。
func New(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 %q：%w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.LevelKey = "level"
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core), nil
}

// Nop 供测试与未配置日志的调用方使用。
func Nop() *zap.Logger { return zap.NewNop() }
