//go:build unix

package fsx

import (
	"os"
	"syscall"
)

// keepOwner 把临时文件的属主/属组改回原文件的；没有权限时（非 root 改属主）静默保留当前值。
func keepOwner(f *os.File, orig os.FileInfo) {
	st, ok := orig.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = f.Chown(int(st.Uid), int(st.Gid))
}
