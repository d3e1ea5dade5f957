package dfl

import (
	"errors"
	"fmt"
)

var (
	// ErrNotJPEG 表示数据不是以 SOI 开头。
	ErrNotJPEG = errors.New("dfl: 不是 JPEG 数据")
	// ErrSegmentTooLarge 表示 APP15 载荷超过单个 JPEG 段的上限。
	ErrSegmentTooLarge = errors.New("dfl: APP15 载荷超过 65533 字节")
	// ErrNoExif 表示图片没有 EXIF APP1 段。
	ErrNoExif = errors.New("dfl: 没有 EXIF 数据")
)

// FormatError 表示 JPEG 段结构或 APP15 内容无法解析。
type FormatError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dfl: 偏移 %d：%s：%v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("dfl: 偏移 %d：%s", e.Offset, e.Msg)
}

func (e *FormatError) Unwrap() error { return e.Err }
