package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingInput 表示没有给出 --input。
	ErrCodeMissingInput = "config_missing_input"
)

const (
	// FileName 是可选配置文件名，位置固定在 <input>/fakedfl.json。
	FileName = "fakedfl.json"
	// EnvPrefix 对应 FAKEDFL_WORKERS / FAKEDFL_ON_ERROR / FAKEDFL_LOG_LEVEL。
	EnvPrefix = "FAKEDFL"

	OnErrorAbort    = "abort"
	OnErrorContinue = "continue"

	DefaultOnError  = OnErrorAbort
	DefaultLogLevel = "warn"

	// MaxWorkers 是 workers 的上限；超出截断。
	MaxWorkers = 256
)

const (
	keyWorkers  = "workers"
	keyOnError  = "on_error"
	keyLogLevel = "log_level"
)

// CLIArgs 保留“是否显式指定”的信息，保证 CLI 能覆盖环境变量与配置文件。
type CLIArgs struct {
	Input string

	OnError    string
	OnErrorSet bool

	LogLevel    string
	LogLevelSet bool
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费）。
type EffectiveConfig struct {
	// Input 是 clean + absolute 的扫描根目录；存在性由扫描阶段校验。
	Input string

	// Workers 固定为本次 run 的池大小（默认逻辑核数）。
	Workers  int
	OnError  string
	LogLevel string

	// ConfigFile 是实际读取到的配置文件；未读取时为空。
	ConfigFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeMissingInput:
		return fmt.Sprintf("%s：缺少必填参数 --input", e.Code)
	case ErrCodeInvalid:
		if e.Path != "" && e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 合并 CLI、环境变量、<input>/fakedfl.json 与默认值。
//
// 覆盖优先级（固定）：
// - on_error / log_level：CLI > env > config > 默认
// - workers：env > config > 默认（CLI 不暴露池大小）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	if strings.TrimSpace(cli.Input) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingInput}
	}

	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}
	input := absCleanFrom(cwdAbs, cli.Input)
	cfgPath := filepath.Join(input, FileName)

	v := viper.New()
	v.SetDefault(keyWorkers, 0)
	v.SetDefault(keyOnError, DefaultOnError)
	v.SetDefault(keyLogLevel, DefaultLogLevel)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	found, err := readFileConfig(v, cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !found {
		cfgPath = ""
	}

	if cli.OnErrorSet {
		v.Set(keyOnError, cli.OnError)
	}
	if cli.LogLevelSet {
		v.Set(keyLogLevel, cli.LogLevel)
	}

	workers, err := cast.ToIntE(v.Get(keyWorkers))
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("workers 不是整数：%v", v.Get(keyWorkers))}
	}
	if workers < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("workers 不能为负数：%d", workers)}
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	onError := strings.ToLower(strings.TrimSpace(v.GetString(keyOnError)))
	if err := validateOnError(onError); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString(keyLogLevel)))
	if err := validateLogLevel(logLevel); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	return EffectiveConfig{
		Input:      input,
		Workers:    workers,
		OnError:    onError,
		LogLevel:   logLevel,
		ConfigFile: cfgPath,
	}, nil
}

func validateOnError(s string) error {
	switch s {
	case OnErrorAbort, OnErrorContinue:
		return nil
	case "":
		return fmt.Errorf("on_error 不能为空")
	default:
		return fmt.Errorf("on_error 只能是 abort 或 continue，实际是 %q", s)
	}
}

func validateLogLevel(s string) error {
	switch s {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log_level 只能是 debug|info|warn|error，实际是 %q", s)
	}
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 把 JSON 配置文件读进 v。
// 返回值 found 表示该文件是否存在（不存在不算错误）。
func readFileConfig(v *viper.Viper, path string) (found bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		// input 不存在或不是目录：交给扫描阶段报 invalid_input。
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, err
	}
	if fi.IsDir() {
		return true, fmt.Errorf("%s 是目录", FileName)
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return true, err
	}
	return true, nil
}
