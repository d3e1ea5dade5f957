package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadEffective_MissingInput(t *testing.T) {
	_, err := LoadEffective(t.TempDir(), CLIArgs{})
	if Code(err) != ErrCodeMissingInput {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingInput, err, Code(err))
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()
	root := mkdir(t, filepath.Join(cwd, "faces"))

	eff, err := LoadEffective(cwd, CLIArgs{Input: "faces"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Input != root {
		t.Fatalf("期望 input=%q，实际=%q", root, eff.Input)
	}
	if eff.Workers != runtime.NumCPU() {
		t.Fatalf("默认 workers 应为逻辑核数 %d，实际 %d", runtime.NumCPU(), eff.Workers)
	}
	if eff.OnError != OnErrorAbort {
		t.Fatalf("默认 on_error 应为 abort，实际 %q", eff.OnError)
	}
	if eff.LogLevel != DefaultLogLevel {
		t.Fatalf("默认 log_level 应为 %q，实际 %q", DefaultLogLevel, eff.LogLevel)
	}
	if eff.ConfigFile != "" {
		t.Fatalf("没有配置文件时 ConfigFile 应为空，实际 %q", eff.ConfigFile)
	}
}

func TestLoadEffective_NonexistentInputIsNotConfigError(t *testing.T) {
	cwd := t.TempDir()
	eff, err := LoadEffective(cwd, CLIArgs{Input: "nope"})
	if err != nil {
		t.Fatalf("input 不存在应交给扫描阶段处理，实际 err=%v", err)
	}
	if eff.Input != filepath.Join(cwd, "nope") {
		t.Fatalf("input 不符合预期：%q", eff.Input)
	}
}

func TestLoadEffective_InputIsFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "a.jpg"), []byte("x"))

	if _, err := LoadEffective(cwd, CLIArgs{Input: "a.jpg"}); err != nil {
		t.Fatalf("input 是文件应交给扫描阶段处理，实际 err=%v", err)
	}
}

func TestLoadEffective_FileConfig(t *testing.T) {
	cwd := t.TempDir()
	root := mkdir(t, filepath.Join(cwd, "faces"))
	writeFile(t, filepath.Join(root, FileName), []byte(`{"workers":3,"on_error":"continue","log_level":"debug"}`))

	eff, err := LoadEffective(cwd, CLIArgs{Input: root})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != 3 || eff.OnError != OnErrorContinue || eff.LogLevel != "debug" {
		t.Fatalf("配置文件未生效：%+v", eff)
	}
	if eff.ConfigFile != filepath.Join(root, FileName) {
		t.Fatalf("ConfigFile 不符合预期：%q", eff.ConfigFile)
	}
}

func TestLoadEffective_MergeOrder(t *testing.T) {
	cwd := t.TempDir()
	root := mkdir(t, filepath.Join(cwd, "faces"))
	writeFile(t, filepath.Join(root, FileName), []byte(`{"workers":3,"on_error":"continue","log_level":"debug"}`))

	// env 覆盖配置文件。
	t.Setenv("FAKEDFL_WORKERS", "5")
	t.Setenv("FAKEDFL_ON_ERROR", "abort")

	eff, err := LoadEffective(cwd, CLIArgs{Input: root})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != 5 || eff.OnError != OnErrorAbort || eff.LogLevel != "debug" {
		t.Fatalf("env 未覆盖配置文件：%+v", eff)
	}

	// CLI 覆盖 env。
	eff, err = LoadEffective(cwd, CLIArgs{
		Input:       root,
		OnError:     "continue",
		OnErrorSet:  true,
		LogLevel:    "error",
		LogLevelSet: true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.OnError != OnErrorContinue || eff.LogLevel != "error" {
		t.Fatalf("CLI 未覆盖 env：%+v", eff)
	}
}

func TestLoadEffective_WorkersClamp(t *testing.T) {
	cwd := t.TempDir()
	root := mkdir(t, filepath.Join(cwd, "faces"))
	writeFile(t, filepath.Join(root, FileName), []byte(`{"workers":100000}`))

	eff, err := LoadEffective(cwd, CLIArgs{Input: root})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != MaxWorkers {
		t.Fatalf("workers 应截断为 %d，实际 %d", MaxWorkers, eff.Workers)
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad json":         `{`,
		"negative workers": `{"workers":-1}`,
		"bad on_error":     `{"on_error":"retry"}`,
		"bad log_level":    `{"log_level":"loud"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			root := mkdir(t, filepath.Join(cwd, "faces"))
			writeFile(t, filepath.Join(root, FileName), []byte(body))

			_, err := LoadEffective(cwd, CLIArgs{Input: root})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_InvalidEnvWorkers(t *testing.T) {
	cwd := t.TempDir()
	root := mkdir(t, filepath.Join(cwd, "faces"))
	t.Setenv("FAKEDFL_WORKERS", "many")

	_, err := LoadEffective(cwd, CLIArgs{Input: root})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_InvalidCLIOnError(t *testing.T) {
	cwd := t.TempDir()
	root := mkdir(t, filepath.Join(cwd, "faces"))

	_, err := LoadEffective(cwd, CLIArgs{Input: root, OnError: "skip", OnErrorSet: true})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func mkdir(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	return path
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
