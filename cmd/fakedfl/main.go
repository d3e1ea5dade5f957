package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Cioscos/fake-dfl-images/internal/app"
	"github.com/Cioscos/fake-dfl-images/internal/app/run"
	"github.com/Cioscos/fake-dfl-images/internal/config"
	"github.com/Cioscos/fake-dfl-images/internal/dfl"
	"github.com/Cioscos/fake-dfl-images/internal/domain"
	"github.com/Cioscos/fake-dfl-images/internal/infra/imgx"
	"github.com/Cioscos/fake-dfl-images/internal/infra/logx"
)

const pausePrompt = "Press Enter to continue . . ."

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch {
	case args[0] == "run":
		code = runCmd(args[1:])
	case args[0] == "inspect":
		code = inspectCmd(args[1:])
	case strings.HasPrefix(args[0], "-"):
		// fakedfl -i DIR：与 run 等价。
		code = runCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

type runArgs struct {
	config.CLIArgs
	NoPause bool
}

func parseRunArgs(args []string) (runArgs, bool, error) {
	var ra runArgs
	var help bool

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&ra.Input, "input", "i", "", "")
	fs.StringVar(&ra.OnError, "on-error", "", "")
	fs.StringVar(&ra.LogLevel, "log-level", "", "")
	fs.BoolVar(&ra.NoPause, "no-pause", false, "")
	fs.BoolVarP(&help, "help", "h", false, "")

	if err := fs.Parse(args); err != nil {
		return runArgs{}, false, err
	}
	if help {
		return ra, true, nil
	}
	if fs.NArg() > 0 {
		return runArgs{}, false, fmt.Errorf("多余的参数：%q", fs.Args())
	}
	if strings.TrimSpace(ra.Input) == "" {
		return runArgs{}, false, fmt.Errorf("缺少必填参数 --input")
	}
	ra.OnErrorSet = fs.Changed("on-error")
	ra.LogLevelSet = fs.Changed("log-level")
	return ra, false, nil
}

func runCmd(args []string) int {
	ra, help, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}
	if help {
		printRunUsage()
		return 0
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, ra.CLIArgs)
	if err != nil {
		emitReport(reportForConfigError(cwd, ra, err))
		fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		return 1
	}

	log, err := logx.New(eff.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败：%v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	var ui *progressUI
	if interactive {
		ui = newProgressUI(progressW)
		obs = ui
	}

	rr, err := run.Execute(ctx, eff, app.SourceFilenameStamper{}, log, obs)
	if ui != nil {
		ui.Close()
	}

	emitReport(rr)
	if err != nil {
		log.Debug("run 结束（失败）", zap.Error(err))
		fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		return 1
	}
	if !rr.OK() {
		return 1
	}

	if !ra.NoPause && isTTY(os.Stdin) {
		pause(os.Stdin, os.Stderr)
	}
	return 0
}

func pause(in io.Reader, w io.Writer) {
	fmt.Fprint(w, pausePrompt)
	_, _ = bufio.NewReader(in).ReadString('\n')
}

type inspectResult struct {
	Path           string           `json:"path"`
	Height         int              `json:"height"`
	Width          int              `json:"width"`
	Channels       int              `json:"channels"`
	HasData        bool             `json:"has_data"`
	Keys           []string         `json:"keys"`
	SourceFilename string           `json:"source_filename,omitempty"`
	FaceType       string           `json:"face_type,omitempty"`
	Landmarks      int              `json:"landmarks"`
	SourceRect     []float64        `json:"source_rect,omitempty"`
	Decodable      bool             `json:"decodable"`
	Partial        string           `json:"partial,omitempty"`
	Exif           *dfl.ExifSummary `json:"exif,omitempty"`
	Error          string           `json:"error,omitempty"`

	loadFailed bool
}

// inspectCmd 只读：不写任何文件。
func inspectCmd(args []string) int {
	var help bool
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVarP(&help, "help", "h", false, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printInspectUsage()
		return 2
	}
	if help {
		printInspectUsage()
		return 0
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "参数错误：至少需要一个文件\n\n")
		printInspectUsage()
		return 2
	}

	code := 0
	results := make([]inspectResult, 0, fs.NArg())
	for _, p := range fs.Args() {
		res := inspectFile(p)
		if res.Error != "" {
			code = 1
		}
		results = append(results, res)
	}

	if isTTY(os.Stdout) {
		for _, r := range results {
			printInspect(os.Stdout, r)
		}
		return code
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
	return code
}

func inspectFile(p string) inspectResult {
	res := inspectResult{Path: p, Keys: []string{}}
	b, err := os.ReadFile(p)
	if err != nil {
		res.Error = err.Error()
		res.loadFailed = true
		return res
	}
	img, err := dfl.Decode(b)
	if err != nil {
		res.Error = err.Error()
		res.loadFailed = true
		return res
	}
	_, err = imgx.DecodeJPEG(b)
	res.Decodable = err == nil

	res.Height, res.Width, res.Channels = img.Shape()
	res.HasData = img.HasData()
	if err := img.PartialErr(); err != nil {
		res.Partial = err.Error()
	}
	res.Keys = img.Keys()
	res.SourceFilename, _ = img.SourceFilename()
	res.FaceType, _ = img.FaceType()
	if lm, ok := img.Landmarks(); ok {
		res.Landmarks = len(lm)
	}
	res.SourceRect, _ = img.SourceRect()

	sum, err := img.ExifSummary()
	switch {
	case err == nil:
		res.Exif = &sum
	case errors.Is(err, dfl.ErrNoExif):
	default:
		// EXIF 损坏不影响 DFL 字段的展示。
		res.Error = "exif: " + err.Error()
	}
	return res
}

func printInspect(w io.Writer, r inspectResult) {
	fmt.Fprintln(w, r.Path)
	if r.loadFailed {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
		return
	}
	fmt.Fprintf(w, "  shape: %dx%dx%d\n", r.Height, r.Width, r.Channels)
	if !r.Decodable {
		fmt.Fprintln(w, "  pixels: 无法解码")
	}
	if !r.HasData {
		fmt.Fprintln(w, "  dfl: (无)")
	} else {
		if r.Partial != "" {
			fmt.Fprintf(w, "  dfl: 部分解码（%s），只列出能找回的字段\n", truncate(r.Partial, 120))
		}
		fmt.Fprintf(w, "  dfl keys: %s\n", strings.Join(r.Keys, ", "))
		fmt.Fprintf(w, "  source_filename: %s\n", r.SourceFilename)
		if r.FaceType != "" {
			fmt.Fprintf(w, "  face_type: %s\n", r.FaceType)
		}
		if r.Landmarks > 0 {
			fmt.Fprintf(w, "  landmarks: %d\n", r.Landmarks)
		}
		if len(r.SourceRect) == 4 {
			fmt.Fprintf(w, "  source_rect: %v\n", r.SourceRect)
		}
	}
	if r.Exif != nil {
		fmt.Fprintf(w, "  exif: make=%q model=%q software=%q\n", r.Exif.Make, r.Exif.Model, r.Exif.Software)
		if !r.Exif.DateTime.IsZero() {
			fmt.Fprintf(w, "  exif datetime: %s\n", r.Exif.DateTime.Format(time.RFC3339))
		}
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  fakedfl run -i DIR [--on-error abort|continue] [--log-level LEVEL] [--no-pause]
  fakedfl -i DIR ...
  fakedfl inspect FILE...

命令：
  run       把目录下每个 JPEG 的 DFL source_filename 改写为它自己的文件名（原地修改）
  inspect   只读展示 DFL 字段与 EXIF 摘要

使用 "fakedfl run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  fakedfl run -i DIR [--on-error abort|continue] [--log-level LEVEL] [--no-pause]

参数：
  -i, --input      扫描根目录（必填，递归；只处理 .jpg .JPG .jpeg .JPEG）
  --on-error       abort（默认，首个失败即停止派发）或 continue（全部跑完后汇总）
  --log-level      debug|info|warn|error（默认 warn）
  --no-pause       成功后不等待按键
  -h, --help       显示帮助

池大小只能通过 FAKEDFL_WORKERS 或 <DIR>/fakedfl.json 的 workers 调整（默认逻辑核数）。
`)
}

func printInspectUsage() {
	fmt.Fprint(os.Stdout, `用法：
  fakedfl inspect FILE...
`)
}

// emitReport 在 stdout 是 TTY 时打印人类可读摘要；否则 stdout 必须且仅输出一个 RunReport JSON。
func emitReport(rr domain.RunReport) {
	summary := fmt.Sprintf("完成：total=%d stamped=%d failed=%d not_run=%d",
		rr.Summary.Total, rr.Summary.Stamped, rr.Summary.Failed, rr.Summary.NotRun,
	)
	if rr.Aborted {
		summary += " (aborted)"
	}

	if isTTY(os.Stdout) {
		fmt.Fprintln(os.Stdout, summary)
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			key := it.Path
			if key == "" {
				key = "<unknown>"
			}
			fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(os.Stderr, summary)
}

func reportForConfigError(cwd string, ra runArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	path := filepath.Clean(ra.Input)
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	rr := domain.RunReport{
		Path:       path,
		OnError:    ra.OnError,
		StartedAt:  now,
		FinishedAt: now,
		Aborted:    true,
		Items: []domain.FileResult{{
			Path:      path,
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
