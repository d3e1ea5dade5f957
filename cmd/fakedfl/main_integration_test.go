package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Cioscos/fake-dfl-images/internal/dfl"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
)

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// 锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON，摘要走 stderr，且不等待按键。
	root := t.TempDir()

	in := filepath.Join(root, "faces", "00001.jpg")
	if err := os.MkdirAll(filepath.Dir(in), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("编码 JPEG 失败：%v", err)
	}
	if err := os.WriteFile(in, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("写入图片失败：%v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("读取 cwd 失败：%v", err)
	}
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	cmd := exec.Command("go", "run", "./cmd/fakedfl", "-i", root)
	cmd.Dir = repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("命令执行失败：%v\nstderr=%s\nstdout=%s", err, stderr.String(), stdout.String())
	}

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Summary.Stamped != 1 || rr.RunID == "" {
		t.Fatalf("report 不符合预期：%+v", rr)
	}
	if strings.Contains(stdout.String(), progressLabel) || strings.Contains(stdout.String(), pausePrompt) {
		t.Fatalf("stdout 不应包含进度/提示输出：%q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "完成：total=1 stamped=1") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}

	img, err := dfl.Load(in)
	if err != nil {
		t.Fatalf("Load 失败：%v", err)
	}
	if got, _ := img.SourceFilename(); got != "00001.jpg" {
		t.Fatalf("source_filename 不符合预期：%q", got)
	}
}
